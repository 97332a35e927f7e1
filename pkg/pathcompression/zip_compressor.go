package pathcompression

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

type zipArchive struct {
	zw  *zip.Writer
	buf []byte

	// cur is the deflate stream of the entry being written.
	cur *flate.Writer
}

func newZipArchive(w io.Writer, level Level, buf []byte) *zipArchive {
	a := &zipArchive{zw: zip.NewWriter(w), buf: buf}
	lvl := level.flateLevel()
	a.zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		fw, err := flate.NewWriter(out, lvl)
		if err != nil {
			return nil, err
		}
		a.cur = fw
		return fw, nil
	})
	return a
}

func (a *zipArchive) Add(name string, info os.FileInfo, r io.Reader) (int64, error) {
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return 0, fmt.Errorf("failed to create zip header for %s: %w", name, err)
	}
	header.Name = name
	header.Method = zip.Deflate

	w, err := a.zw.CreateHeader(header)
	if err != nil {
		return 0, fmt.Errorf("failed to write zip header for %s: %w", name, err)
	}
	return io.CopyBuffer(w, r, a.buf)
}

// Flush pushes the current entry's deflate stream through to w. The entry's
// data descriptor is only written once the next entry starts or on Close.
func (a *zipArchive) Flush() error {
	if a.cur != nil {
		if err := a.cur.Flush(); err != nil {
			return err
		}
	}
	return a.zw.Flush()
}

func (a *zipArchive) Close() error {
	if err := a.zw.Close(); err != nil {
		return fmt.Errorf("zip writer close failed: %w", err)
	}
	return nil
}
