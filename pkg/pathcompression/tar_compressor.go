package pathcompression

import (
	"archive/tar"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// flushWriteCloser is satisfied by both the pgzip and the zstd writer.
type flushWriteCloser interface {
	io.WriteCloser
	Flush() error
}

type tarArchive struct {
	tw  *tar.Writer
	cw  flushWriteCloser
	buf []byte
}

func newTarArchive(w io.Writer, format Format, level Level, buf []byte) (*tarArchive, error) {
	var cw flushWriteCloser
	switch format {
	case TarZst:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(level.zstdLevel()))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		cw = zw
	case TarGz:
		gw, err := pgzip.NewWriterLevel(w, level.gzipLevel())
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		cw = gw
	default:
		return nil, fmt.Errorf("unsupported tar format: %s", format)
	}
	return &tarArchive{tw: tar.NewWriter(cw), cw: cw, buf: buf}, nil
}

func (a *tarArchive) Add(name string, info os.FileInfo, r io.Reader) (int64, error) {
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return 0, fmt.Errorf("failed to create tar header for %s: %w", name, err)
	}
	header.Name = name
	// Owner names are host specific and add nothing to a flat config archive.
	header.Uname, header.Gname = "", ""

	if err := a.tw.WriteHeader(header); err != nil {
		return 0, fmt.Errorf("failed to write tar header for %s: %w", name, err)
	}
	return io.CopyBuffer(a.tw, r, a.buf)
}

func (a *tarArchive) Flush() error {
	if err := a.tw.Flush(); err != nil {
		return err
	}
	return a.cw.Flush()
}

func (a *tarArchive) Close() error {
	if err := a.tw.Close(); err != nil {
		a.cw.Close()
		return fmt.Errorf("tar writer close failed: %w", err)
	}
	if err := a.cw.Close(); err != nil {
		return fmt.Errorf("compression writer close failed: %w", err)
	}
	return nil
}
