// Package stager copies selected item files into a flat staging directory.
package stager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/paulschiretz/portal-backup/pkg/metrics"
	"github.com/paulschiretz/portal-backup/pkg/plog"
	"github.com/paulschiretz/portal-backup/pkg/selector"
	"github.com/paulschiretz/portal-backup/pkg/util"
)

// ErrStagingExists is returned when the staging directory is already on disk.
var ErrStagingExists = errors.New("staging directory already exists")

// Plan controls a single staging run.
type Plan struct {
	RetryCount int
	RetryWait  time.Duration

	DryRun bool
}

// Stager copies files while keeping their permissions and modification times.
type Stager struct {
	buf     []byte
	logger  *slog.Logger
	metrics metrics.Metrics
}

// New creates a Stager with an I/O buffer of bufferSizeKB kilobytes.
func New(bufferSizeKB int, logger *slog.Logger, m metrics.Metrics) *Stager {
	if bufferSizeKB <= 0 {
		bufferSizeKB = 256
	}
	return &Stager{
		buf:     make([]byte, bufferSizeKB*1024),
		logger:  plog.OrDefault(logger),
		metrics: metrics.OrNoop(m),
	}
}

// CreateStagingDir creates path. It fails with ErrStagingExists instead of
// reusing a directory left behind by an earlier run.
func CreateStagingDir(path string) error {
	if err := os.Mkdir(path, util.UserWritableDirPerms); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrStagingExists, path)
		}
		return fmt.Errorf("failed to create staging directory %s: %w", path, err)
	}
	return nil
}

// Stage copies every file into stagingDir under its base name and returns how
// many files were staged. The source tree is only read.
func (s *Stager) Stage(ctx context.Context, files []selector.Selected, stagingDir string, p *Plan) (int, error) {
	seen := make(map[string]string, len(files))
	staged := 0

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return staged, err
		}

		if prev, ok := seen[f.Name]; ok {
			s.logger.Warn("Duplicate item file name, later copy replaces earlier one", "file", f.Name, "first", prev, "second", f.AbsPath)
		}
		seen[f.Name] = f.AbsPath

		absTrgPath := filepath.Join(stagingDir, f.Name)
		if p.DryRun {
			s.logger.Debug("[DRY RUN] COPY", "source", f.AbsPath, "target", absTrgPath)
			staged++
			continue
		}

		n, err := s.copyWithRetry(f.AbsPath, absTrgPath, p.RetryCount, p.RetryWait)
		if err != nil {
			return staged, err
		}
		s.logger.Debug("COPY", "source", f.AbsPath, "target", absTrgPath)
		s.metrics.AddFilesStaged(1)
		s.metrics.AddBytesStaged(n)
		staged++
	}

	s.logger.Info("Staged item files", "staging", stagingDir, "count", staged)
	return staged, nil
}

func (s *Stager) copyWithRetry(absSrcPath, absTrgPath string, retryCount int, retryWait time.Duration) (int64, error) {
	var lastErr error
	for i := range retryCount + 1 {
		if i > 0 {
			s.logger.Warn("Retrying file copy", "file", absSrcPath, "attempt", fmt.Sprintf("%d/%d", i, retryCount), "after", retryWait)
			time.Sleep(retryWait)
		}
		n, err := s.copyFile(absSrcPath, absTrgPath)
		if err == nil {
			return n, nil
		}
		lastErr = err
	}
	return 0, lastErr
}

// copyFile writes into a temp file next to the target and renames it into place.
func (s *Stager) copyFile(absSrcPath, absTrgPath string) (n int64, retErr error) {
	in, err := os.Open(absSrcPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open source file %s: %w", absSrcPath, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat source file %s: %w", absSrcPath, err)
	}

	out, err := os.CreateTemp(filepath.Dir(absTrgPath), "portal-backup-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file in %s: %w", filepath.Dir(absTrgPath), err)
	}
	absTempPath := out.Name()
	defer func() {
		if retErr != nil {
			out.Close()
			os.Remove(absTempPath)
		}
	}()

	if n, err = io.CopyBuffer(out, in, s.buf); err != nil {
		return 0, fmt.Errorf("failed to copy content from %s: %w", absSrcPath, err)
	}

	// Staged copies are deleted after archiving, so they must stay owner-writable.
	if err := out.Chmod(util.WithUserWritePermission(info.Mode().Perm())); err != nil {
		return 0, fmt.Errorf("failed to set permissions on %s: %w", absTempPath, err)
	}

	// Close before Chtimes, flushing can touch the modification time.
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temporary file %s: %w", absTempPath, err)
	}
	if err := os.Chtimes(absTempPath, info.ModTime(), info.ModTime()); err != nil {
		return 0, fmt.Errorf("failed to set timestamps on %s: %w", absTempPath, err)
	}
	if err := os.Rename(absTempPath, absTrgPath); err != nil {
		return 0, fmt.Errorf("failed to move %s into place: %w", absTrgPath, err)
	}
	return n, nil
}
