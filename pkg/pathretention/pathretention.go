// --- ARCHITECTURAL OVERVIEW: Retention Strategy ---
//
// Retention is count based. Archive names embed a zero padded timestamp
// (items_2025_06_27_1447.zip, gisprod_portal_20250627.zip), so sorting the
// names of one series sorts it by age. The newest Keep archives survive and
// everything older is deleted.
//
// Only files matching the plan's prefix and extension are considered. Other
// files in the destination (logs, archives of a different series, the lock
// file) are never touched.

// Package pathretention deletes the oldest archives of a series once more
// than a configured number exist.
package pathretention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/paulschiretz/portal-backup/pkg/hints"
	"github.com/paulschiretz/portal-backup/pkg/metrics"
	"github.com/paulschiretz/portal-backup/pkg/plog"
	"github.com/paulschiretz/portal-backup/pkg/util"
)

var (
	// ErrInvalidRetention is returned when Keep is zero or negative.
	ErrInvalidRetention = errors.New("retention count must be at least 1")
	// ErrNothingToPrune is returned as a hint when the series is within its limit.
	ErrNothingToPrune = errors.New("nothing to prune")
)

type PathRetainer struct {
	logger  *slog.Logger
	metrics metrics.Metrics
}

// NewPathRetainer creates a PathRetainer. A nil logger uses the process default.
func NewPathRetainer(logger *slog.Logger, m metrics.Metrics) *PathRetainer {
	return &PathRetainer{logger: plog.OrDefault(logger), metrics: metrics.OrNoop(m)}
}

// Prune deletes the oldest archives in dir so that at most p.Keep remain and
// returns the names it deleted (or would delete, on a dry run).
//
// A failed deletion is logged and counted. The remaining deletions still run
// and the first failure is returned at the end.
func (r *PathRetainer) Prune(ctx context.Context, dir string, p *Plan) ([]string, error) {
	if p.Keep <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidRetention, p.Keep)
	}

	archives, err := r.fetchSortedArchives(ctx, dir, p)
	if err != nil {
		return nil, err
	}
	if p.DryRun {
		archives = withPending(archives, p.Pending)
	}

	if len(archives) <= p.Keep {
		r.logger.Debug("Archive count within retention limit", "dir", dir, "prefix", p.Prefix, "count", len(archives), "keep", p.Keep)
		return nil, hints.Newf("%w: %d of %d archives", ErrNothingToPrune, len(archives), p.Keep)
	}

	toDelete := archives[:len(archives)-p.Keep]
	r.logger.Info("Deleting outdated archives", "dir", dir, "prefix", p.Prefix, "count", len(toDelete), "keep", p.Keep)

	var deleted []string
	var firstErr error
	for _, name := range toDelete {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}

		absPath := filepath.Join(dir, name)
		if p.DryRun {
			r.logger.Log(ctx, plog.LevelNotice, "[DRY RUN] DELETE", "path", absPath)
			deleted = append(deleted, name)
			continue
		}

		r.logger.Log(ctx, plog.LevelNotice, "DELETE", "path", absPath)
		if err := os.Remove(absPath); err != nil {
			r.metrics.AddPruneFailures(1)
			r.logger.Warn("Failed to delete outdated archive", "path", absPath, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to delete %s: %w", absPath, err)
			}
			continue
		}
		r.metrics.AddArchivesPruned(1)
		deleted = append(deleted, name)
	}
	return deleted, firstErr
}

// withPending merges not yet written archives into the sorted series.
func withPending(archives, pending []string) []string {
	if len(pending) == 0 {
		return archives
	}
	merged := append([]string(nil), archives...)
	for _, name := range pending {
		if !slices.Contains(merged, name) {
			merged = append(merged, name)
		}
	}
	sort.Strings(merged)
	return merged
}

// fetchSortedArchives returns the names of the regular files in dir that
// belong to the series, oldest first.
func (r *PathRetainer) fetchSortedArchives(ctx context.Context, dir string, p *Plan) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if !entry.Type().IsRegular() {
			continue
		}
		if !util.HasPrefixFold(name, p.Prefix) || !util.HasSuffixFold(name, p.Extension) {
			continue
		}
		names = append(names, name)
	}

	sort.Strings(names)
	return names, nil
}
