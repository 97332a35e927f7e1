package pathcompression

import (
	"fmt"
	"io"
	"os"
)

// archiveWriter adds flat entries to an archive stream.
type archiveWriter interface {
	// Add writes one entry and returns the number of uncompressed bytes read from r.
	Add(name string, info os.FileInfo, r io.Reader) (int64, error)
	// Flush pushes everything written so far to the underlying writer.
	Flush() error
	// Close finalizes the archive. The underlying writer stays open.
	Close() error
}

func newArchiveWriter(w io.Writer, format Format, level Level, buf []byte) (archiveWriter, error) {
	switch format {
	case Zip:
		return newZipArchive(w, level, buf), nil
	case TarGz, TarZst:
		return newTarArchive(w, format, level, buf)
	default:
		return nil, fmt.Errorf("unsupported compression format: %s", format)
	}
}

// countingWriter counts the compressed bytes that reach the archive file.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// secureFileOpen verifies that the file at path is the same one we listed (TOCTOU check).
func secureFileOpen(absFilePath string, expected os.FileInfo) (*os.File, error) {
	f, err := os.Open(absFilePath)
	if err != nil {
		return nil, err
	}

	openedInfo, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat opened file: %w", err)
	}
	if !os.SameFile(expected, openedInfo) {
		f.Close()
		return nil, fmt.Errorf("file changed before it was archived: %s", absFilePath)
	}
	// Tar headers carry the size up front, a change would corrupt the stream.
	if openedInfo.Size() != expected.Size() {
		f.Close()
		return nil, fmt.Errorf("file size changed before it was archived: %s", absFilePath)
	}
	return f, nil
}
