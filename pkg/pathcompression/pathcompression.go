// --- ARCHITECTURAL OVERVIEW: Stream-then-Delete ---
//
// A directory is compressed one file at a time. Each file is added to the
// archive, the archive stream is flushed to disk and only then the source
// file is deleted. At no point do a source file and its compressed copy both
// need to fit on the volume in full, which matters on Portal hosts where the
// items tree is large and the free space is not.
//
// The archive is written to a temp file next to its final path and renamed
// into place when complete. If a run fails after the first source file was
// deleted, the partial archive is still finalized and renamed so the deleted
// files stay recoverable. If nothing was deleted yet, the temp file is removed.

// Package pathcompression compresses the flat top level of a directory into a
// single zip, tar.gz or tar.zst archive, deleting each source as it goes.
package pathcompression

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/paulschiretz/portal-backup/pkg/hints"
	"github.com/paulschiretz/portal-backup/pkg/metrics"
	"github.com/paulschiretz/portal-backup/pkg/plog"
	"github.com/paulschiretz/portal-backup/pkg/util"
)

// ErrNothingToCompress is returned as a hint when the source holds no files.
var ErrNothingToCompress = errors.New("nothing to compress")

type PathCompressor struct {
	bufferSize int
	logger     *slog.Logger
	metrics    metrics.Metrics
}

type entry struct {
	name    string
	absPath string
	info    os.FileInfo
}

// NewPathCompressor creates a new PathCompressor with the given configuration.
func NewPathCompressor(bufferSizeKB int, logger *slog.Logger, m metrics.Metrics) *PathCompressor {
	if bufferSizeKB <= 0 {
		bufferSizeKB = 256
	}
	return &PathCompressor{
		bufferSize: bufferSizeKB * 1024,
		logger:     plog.OrDefault(logger),
		metrics:    metrics.OrNoop(m),
	}
}

// CompressDir archives every regular file directly inside absSrcDir into
// absArchivePath and deletes each file once it is in the archive.
// Subdirectories are left alone. Entries are stored under their base name.
//
// An empty source yields no archive and a hint wrapping ErrNothingToCompress.
func (c *PathCompressor) CompressDir(ctx context.Context, absSrcDir, absArchivePath string, p *Plan) (Result, error) {
	res := Result{ArchivePath: absArchivePath}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	// List before the temp file exists so it never shows up as a source.
	entries, err := c.listEntries(absSrcDir, p.Skip)
	if err != nil {
		return res, err
	}

	if len(entries) == 0 {
		if p.RemoveSourceDir {
			if p.DryRun {
				c.logger.Debug("[DRY RUN] REMOVE", "dir", absSrcDir)
			} else if err := os.Remove(absSrcDir); err != nil {
				return res, fmt.Errorf("failed to remove empty directory %s: %w", absSrcDir, err)
			}
		}
		return res, hints.Newf("%w: %s", ErrNothingToCompress, absSrcDir)
	}

	if p.DryRun {
		for _, e := range entries {
			c.logger.Log(ctx, plog.LevelNotice, "[DRY RUN] ADD", "file", e.name, "archive", absArchivePath)
		}
		if p.RemoveSourceDir {
			c.logger.Debug("[DRY RUN] REMOVE", "dir", absSrcDir)
		}
		res.Entries = len(entries)
		return res, nil
	}

	written, err := c.writeArchive(ctx, entries, absArchivePath, p, &res)
	if err != nil {
		if written > 0 {
			c.logger.Error("Compression failed after sources were deleted, partial archive kept", "archive", absArchivePath, "entries", written)
		}
		return res, err
	}

	if p.RemoveSourceDir {
		if err := os.Remove(absSrcDir); err != nil {
			return res, fmt.Errorf("archive created but failed to remove %s: %w", absSrcDir, err)
		}
		c.logger.Debug("REMOVE", "dir", absSrcDir)
	}

	c.logger.Info("Created archive", "archive", absArchivePath, "entries", res.Entries, "bytes_read", res.BytesRead, "bytes_written", res.BytesWritten)
	return res, nil
}

// listEntries returns the regular files directly inside dir sorted by name.
func (c *PathCompressor) listEntries(dir string, skip func(string) bool) ([]entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var entries []entry
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() {
			c.logger.Debug("Skipping subdirectory", "dir", name)
			continue
		}
		if skip != nil && skip(name) {
			c.logger.Debug("Skipping excluded file", "file", name)
			continue
		}
		info, err := de.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", name, err)
		}
		if !info.Mode().IsRegular() {
			c.logger.Debug("Skipping non-regular file", "file", name)
			continue
		}
		entries = append(entries, entry{name: name, absPath: filepath.Join(dir, name), info: info})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
	return entries, nil
}

// writeArchive streams entries into a temp file and renames it to
// absArchivePath. It returns how many sources were deleted.
func (c *PathCompressor) writeArchive(ctx context.Context, entries []entry, absArchivePath string, p *Plan, res *Result) (deleted int, retErr error) {
	targetF, err := os.CreateTemp(filepath.Dir(absArchivePath), "portal-backup-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp archive: %w", err)
	}
	tempName := targetF.Name()

	cw := &countingWriter{w: targetF}
	bufWriter := bufio.NewWriterSize(cw, c.bufferSize)
	aw, err := newArchiveWriter(bufWriter, p.Format, p.Level, make([]byte, c.bufferSize))
	if err != nil {
		targetF.Close()
		os.Remove(tempName)
		return 0, err
	}

	finalize := func() error {
		if err := aw.Close(); err != nil {
			return err
		}
		if err := bufWriter.Flush(); err != nil {
			return fmt.Errorf("buffer flush failed: %w", err)
		}
		if err := targetF.Chmod(util.UserWritableFilePerms); err != nil {
			return fmt.Errorf("failed to set archive permissions: %w", err)
		}
		if err := targetF.Close(); err != nil {
			return fmt.Errorf("failed to close temp file: %w", err)
		}
		if err := os.Rename(tempName, absArchivePath); err != nil {
			return fmt.Errorf("failed to rename temp archive to final path: %w", err)
		}
		return nil
	}

	finalized := false
	defer func() {
		res.BytesWritten = cw.n
		c.metrics.AddCompressedBytes(cw.n)
		if retErr == nil {
			return
		}
		if deleted > 0 {
			if finalized {
				targetF.Close()
				c.logger.Error("Partial archive left at temp path", "path", tempName)
				return
			}
			if err := finalize(); err != nil {
				c.logger.Error("Failed to finalize partial archive", "path", tempName, "error", err)
			}
			return
		}
		targetF.Close()
		os.Remove(tempName)
	}()

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}

		n, err := c.addEntry(aw, e)
		if err != nil {
			return deleted, err
		}
		// The entry must be on disk before its source goes away.
		if err := aw.Flush(); err != nil {
			return deleted, fmt.Errorf("failed to flush archive after %s: %w", e.name, err)
		}
		if err := bufWriter.Flush(); err != nil {
			return deleted, fmt.Errorf("failed to flush archive after %s: %w", e.name, err)
		}
		if err := os.Remove(e.absPath); err != nil {
			return deleted, fmt.Errorf("failed to delete archived source %s: %w", e.absPath, err)
		}
		deleted++

		c.logger.Log(ctx, plog.LevelNotice, "ADD", "file", e.name, "archive", absArchivePath)
		res.Entries++
		res.BytesRead += n
		c.metrics.AddEntriesArchived(1)
		c.metrics.AddOriginalBytes(n)
	}

	finalized = true
	if err := finalize(); err != nil {
		return deleted, err
	}
	return deleted, nil
}

func (c *PathCompressor) addEntry(aw archiveWriter, e entry) (int64, error) {
	f, err := secureFileOpen(e.absPath, e.info)
	if err != nil {
		return 0, fmt.Errorf("failed to open file %s: %w", e.absPath, err)
	}
	defer f.Close()

	n, err := aw.Add(e.name, e.info, f)
	if err != nil {
		return n, fmt.Errorf("failed to add %s to archive: %w", e.name, err)
	}
	return n, nil
}
