package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/paulschiretz/portal-backup/pkg/buildinfo"
	"github.com/paulschiretz/portal-backup/pkg/hints"
	"github.com/paulschiretz/portal-backup/pkg/hook"
	"github.com/paulschiretz/portal-backup/pkg/lockfile"
	"github.com/paulschiretz/portal-backup/pkg/naming"
	"github.com/paulschiretz/portal-backup/pkg/pathretention"
	"github.com/paulschiretz/portal-backup/pkg/planner"
	"github.com/paulschiretz/portal-backup/pkg/plog"
	"github.com/paulschiretz/portal-backup/pkg/stager"
)

const (
	jobItems   = "items"
	jobReports = "reports"
	jobPrune   = "prune"

	// Environment passed to hook commands.
	envJob     = "PORTAL_BACKUP_JOB"
	envArchive = "PORTAL_BACKUP_ARCHIVE"
)

// ExecuteItems backs up the item files found under p.Source into a new
// archive in p.Destination and prunes the archives beyond the retention count.
func (r *Runner) ExecuteItems(ctx context.Context, p *planner.ItemsPlan) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := r.now()

	if err := r.validator.Run(ctx, p.Source, p.Destination, p.Preflight); err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}

	releaseLock, err := r.acquireTargetLock(ctx, jobItems, p.Destination)
	if err != nil {
		return err
	}
	if releaseLock == nil {
		return nil
	}
	defer releaseLock()

	name := naming.ItemsArchiveName(p.ArchivePrefix, start)
	absStagingDir := filepath.Join(p.Destination, name)
	absArchivePath := absStagingDir + p.Compression.Format.Extension()

	if err := r.runPreHooks(ctx, jobItems, p.Hooks); err != nil {
		return err
	}
	var archived string
	defer func() { r.runPostHooks(ctx, jobItems, p.Hooks, archived) }()

	r.logger.Info("Starting items backup", "source", p.Source, "destination", p.Destination, "archive", filepath.Base(absArchivePath))

	if err := naming.EnsureAvailable(absArchivePath); err != nil {
		return err
	}

	files, err := r.selector.Select(ctx, p.Source)
	if err != nil {
		return fmt.Errorf("error during select: %w", err)
	}
	if len(files) == 0 {
		r.logger.Warn("No item files found", "source", p.Source)
	}

	if p.DryRun {
		r.logger.Info("[DRY RUN] CREATE", "staging", absStagingDir)
	} else if err := stager.CreateStagingDir(absStagingDir); err != nil {
		r.logger.Log(ctx, plog.LevelCritical, "Cannot create staging directory, aborting", "staging", absStagingDir, "error", err)
		return err
	}

	if _, err := r.stager.Stage(ctx, files, absStagingDir, p.Stage); err != nil {
		if !p.DryRun {
			// Staging only holds copies, the sources are untouched.
			if rmErr := os.RemoveAll(absStagingDir); rmErr != nil {
				r.logger.Warn("Failed to remove staging directory", "staging", absStagingDir, "error", rmErr)
			}
		}
		return fmt.Errorf("error during staging: %w", err)
	}

	retention := p.Retention
	if p.DryRun {
		r.logger.Info("[DRY RUN] Would compress staging directory", "staging", absStagingDir, "archive", absArchivePath, "files", len(files))
		if len(files) > 0 {
			retention = withPending(p.Retention, absArchivePath)
		}
	} else {
		res, err := r.compressor.CompressDir(ctx, absStagingDir, absArchivePath, p.Compression)
		if err != nil {
			if !hints.IsHint(err) {
				return fmt.Errorf("error during compress: %w", err)
			}
			r.logger.Debug("Compression skipped", "reason", err)
		} else {
			archived = res.ArchivePath
		}
	}

	if err := r.prune(ctx, p.Destination, retention); err != nil {
		return err
	}

	r.metrics.LogSummary(r.logger, "Items backup summary")
	r.logger.Info("Items backup completed", "archive", archived, "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// ExecuteReports runs the reporter and moves everything it produced into a
// single archive inside the output directory.
func (r *Runner) ExecuteReports(ctx context.Context, p *planner.ReportsPlan) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := r.now()

	if err := r.validator.Run(ctx, "", p.OutputDir, p.Preflight); err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}

	releaseLock, err := r.acquireTargetLock(ctx, jobReports, p.OutputDir)
	if err != nil {
		return err
	}
	if releaseLock == nil {
		return nil
	}
	defer releaseLock()

	if err := r.runPreHooks(ctx, jobReports, p.Hooks); err != nil {
		return err
	}
	var archived string
	defer func() { r.runPostHooks(ctx, jobReports, p.Hooks, archived) }()

	r.logger.Info("Starting reports job", "output_dir", p.OutputDir)

	if err := r.reporter.Run(ctx, p.Report); err != nil {
		return fmt.Errorf("reporter failed, reports are not archived: %w", err)
	}

	// The reporter may run past midnight, the archive carries the day it finished.
	name, from, err := naming.FindReportBaseName(p.OutputDir, p.Marker, r.now(), p.Reserved)
	if err != nil {
		if p.DryRun && errors.Is(err, naming.ErrNoReportFiles) {
			r.logger.Info("[DRY RUN] Reporter was not run, no report files to archive", "output_dir", p.OutputDir)
			return nil
		}
		return fmt.Errorf("cannot name report archive: %w", err)
	}
	absArchivePath := filepath.Join(p.OutputDir, name+p.Compression.Format.Extension())
	r.logger.Debug("Derived report archive name", "archive", filepath.Base(absArchivePath), "from", from)

	if err := naming.EnsureAvailable(absArchivePath); err != nil {
		return err
	}

	res, err := r.compressor.CompressDir(ctx, p.OutputDir, absArchivePath, p.Compression)
	if err != nil {
		if !hints.IsHint(err) {
			return fmt.Errorf("error during compress: %w", err)
		}
		r.logger.Debug("Compression skipped", "reason", err)
	} else if !p.DryRun {
		archived = res.ArchivePath
	}

	if p.Retention != nil {
		rp := *p.Retention
		rp.Prefix = naming.ReportRetentionPrefix(name)
		if p.DryRun && err == nil {
			rp = *withPending(&rp, absArchivePath)
		}
		if err := r.prune(ctx, p.OutputDir, &rp); err != nil {
			return err
		}
	}

	r.metrics.LogSummary(r.logger, "Reports summary")
	r.logger.Info("Reports job completed", "archive", archived, "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// ExecutePrune applies the items retention count without creating a new archive.
func (r *Runner) ExecutePrune(ctx context.Context, p *planner.PrunePlan) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := r.validator.Run(ctx, "", p.Destination, p.Preflight); err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}

	releaseLock, err := r.acquireTargetLock(ctx, jobPrune, p.Destination)
	if err != nil {
		return err
	}
	if releaseLock == nil {
		return nil
	}
	defer releaseLock()

	r.logger.Info("Starting prune", "destination", p.Destination, "keep", p.Retention.Keep)
	if err := r.prune(ctx, p.Destination, p.Retention); err != nil {
		return err
	}
	r.metrics.LogSummary(r.logger, "Prune summary")
	r.logger.Info("Prune completed")
	return nil
}

func (r *Runner) prune(ctx context.Context, absDir string, p *pathretention.Plan) error {
	deleted, err := r.retainer.Prune(ctx, absDir, p)
	if err != nil {
		if hints.IsHint(err) {
			r.logger.Debug("Retention skipped", "reason", err)
			return nil
		}
		return fmt.Errorf("error during prune: %w", err)
	}
	r.logger.Info("Retention applied", "deleted", len(deleted), "keep", p.Keep)
	return nil
}

// withPending returns a copy of p that counts the archive a dry run skipped.
func withPending(p *pathretention.Plan, absArchivePath string) *pathretention.Plan {
	rp := *p
	rp.Pending = append(append([]string(nil), p.Pending...), filepath.Base(absArchivePath))
	return &rp
}

// acquireTargetLock takes the run lock of absDir. It returns a nil release
// function and no error when another run already holds the lock.
func (r *Runner) acquireTargetLock(ctx context.Context, job, absDir string) (func(), error) {
	r.logger.Debug("Attempting to acquire lock", "path", absDir)
	lock, err := r.locker.Acquire(ctx, absDir, buildinfo.AppID(job, absDir))
	if err != nil {
		var lockErr *lockfile.ErrLockActive
		if errors.As(err, &lockErr) {
			r.logger.Warn("Another run is active for this directory, skipping run", "details", lockErr.Error())
			return nil, nil
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	r.logger.Debug("Lock acquired", "path", lock.Path())
	return lock.Release, nil
}

func (r *Runner) runPreHooks(ctx context.Context, job string, p *hook.Plan) error {
	if r.hooks == nil || p == nil {
		return nil
	}
	hp := *p
	hp.Env = append(append([]string(nil), p.Env...), envJob+"="+job)

	if err := r.hooks.RunPreHook(ctx, job, &hp); err != nil {
		if hints.IsHint(err) {
			r.logger.Debug("Pre-hooks skipped", "reason", err)
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("pre-%s hook canceled: %w", job, err)
		}
		return fmt.Errorf("pre-%s hook failed: %w", job, err)
	}
	return nil
}

// runPostHooks never fails the run. archive is exported to the hooks when a
// new archive was written.
func (r *Runner) runPostHooks(ctx context.Context, job string, p *hook.Plan, archive string) {
	if r.hooks == nil || p == nil {
		return
	}
	hp := *p
	hp.Env = append(append([]string(nil), p.Env...), envJob+"="+job)
	if archive != "" {
		hp.Env = append(hp.Env, envArchive+"="+archive)
	}

	if err := r.hooks.RunPostHook(ctx, job, &hp); err != nil {
		switch {
		case hints.IsHint(err):
			r.logger.Debug("Post-hooks skipped", "reason", err)
		case errors.Is(err, context.Canceled):
			r.logger.Info("Post-hooks skipped due to cancellation")
		default:
			r.logger.Warn("Post-hook failed", "error", err)
		}
	}
}
