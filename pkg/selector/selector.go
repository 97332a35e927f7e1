// Package selector finds the Portal item files worth backing up.
//
// Item configuration files are named by their 32 character hexadecimal item
// ID. Everything else under the items tree (thumbnails, metadata folders,
// auxiliary files) is skipped.
package selector

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/paulschiretz/portal-backup/pkg/metrics"
	"github.com/paulschiretz/portal-backup/pkg/plog"
)

// ItemIDLength is the length of a Portal item ID.
const ItemIDLength = 32

// Selected is a file chosen for staging.
type Selected struct {
	AbsPath string
	Name    string
	Size    int64
}

// IsItemFileName reports whether name is exactly 32 hexadecimal digits.
// Either letter case is accepted. Signs, prefixes and separators are not.
func IsItemFileName(name string) bool {
	if len(name) != ItemIDLength {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// Selector walks a source tree and collects item files.
type Selector struct {
	logger  *slog.Logger
	metrics metrics.Metrics
}

// New creates a Selector. A nil logger uses the process default.
func New(logger *slog.Logger, m metrics.Metrics) *Selector {
	return &Selector{logger: plog.OrDefault(logger), metrics: metrics.OrNoop(m)}
}

// Select recursively walks root and returns every regular file whose name
// passes IsItemFileName, in walk order. Non-matching names are logged at debug
// level and never stop the walk. A symlinked root is followed, links below it
// are not.
func (s *Selector) Select(ctx context.Context, root string) ([]Selected, error) {
	var selected []Selected

	walkRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	if walkRoot != filepath.Clean(root) {
		s.logger.Debug("Following symlinked source", "source", root, "target", walkRoot)
	}

	err = filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		s.metrics.AddFilesSeen(1)
		name := d.Name()
		if !IsItemFileName(name) {
			s.metrics.AddFilesSkipped(1)
			s.logger.Debug("Skipping file, name is not an item ID", "file", name)
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("cannot stat %s: %w", path, err)
		}
		selected = append(selected, Selected{AbsPath: path, Name: name, Size: info.Size()})
		s.metrics.AddFilesSelected(1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	s.logger.Info("Selected item files", "source", root, "count", len(selected))
	return selected, nil
}
