// Package engine runs the portal-backup jobs.
//
// Each job is a straight pipeline. A stage either finishes or returns an
// error, and the first error ends the run:
//
//	items:   preflight -> lock -> pre-hooks -> name -> select -> stage -> compress -> prune -> post-hooks
//	reports: preflight -> lock -> pre-hooks -> reporter -> name -> compress -> prune -> post-hooks
//	prune:   preflight -> lock -> prune
//
// Stages that find nothing to do return hints, which are logged and skipped.
// Post-hooks run on the way out, even when a stage failed.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/paulschiretz/portal-backup/pkg/hook"
	"github.com/paulschiretz/portal-backup/pkg/lockfile"
	"github.com/paulschiretz/portal-backup/pkg/metrics"
	"github.com/paulschiretz/portal-backup/pkg/pathcompression"
	"github.com/paulschiretz/portal-backup/pkg/pathretention"
	"github.com/paulschiretz/portal-backup/pkg/plog"
	"github.com/paulschiretz/portal-backup/pkg/preflight"
	"github.com/paulschiretz/portal-backup/pkg/reportrunner"
	"github.com/paulschiretz/portal-backup/pkg/selector"
	"github.com/paulschiretz/portal-backup/pkg/stager"
)

type Validator interface {
	Run(ctx context.Context, absSourcePath, absTargetPath string, p *preflight.Plan) error
}

type Selector interface {
	Select(ctx context.Context, absRoot string) ([]selector.Selected, error)
}

type Stager interface {
	Stage(ctx context.Context, files []selector.Selected, absStagingDir string, p *stager.Plan) (int, error)
}

type Compressor interface {
	CompressDir(ctx context.Context, absSrcDir, absArchivePath string, p *pathcompression.Plan) (pathcompression.Result, error)
}

type Retainer interface {
	Prune(ctx context.Context, absDir string, p *pathretention.Plan) ([]string, error)
}

type Reporter interface {
	Run(ctx context.Context, p *reportrunner.Plan) error
}

type HookRunner interface {
	RunPreHook(ctx context.Context, jobName string, p *hook.Plan) error
	RunPostHook(ctx context.Context, jobName string, p *hook.Plan) error
}

// Workers are the leaf components a Runner drives. Jobs only touch the
// workers they need, prune for example only uses Validator and Retainer.
type Workers struct {
	Validator  Validator
	Selector   Selector
	Stager     Stager
	Compressor Compressor
	Retainer   Retainer
	Reporter   Reporter
	Hooks      HookRunner
}

type Runner struct {
	validator  Validator
	selector   Selector
	stager     Stager
	compressor Compressor
	retainer   Retainer
	reporter   Reporter
	hooks      HookRunner

	locker  *lockfile.Locker
	logger  *slog.Logger
	metrics metrics.Metrics

	// now is the clock used to name archives.
	now func() time.Time
}

// NewRunner creates a Runner. A nil logger uses the process default, nil
// metrics are discarded.
func NewRunner(w Workers, logger *slog.Logger, m metrics.Metrics) *Runner {
	logger = plog.OrDefault(logger)
	return &Runner{
		validator:  w.Validator,
		selector:   w.Selector,
		stager:     w.Stager,
		compressor: w.Compressor,
		retainer:   w.Retainer,
		reporter:   w.Reporter,
		hooks:      w.Hooks,
		locker:     lockfile.New(logger),
		logger:     logger,
		metrics:    metrics.OrNoop(m),
		now:        time.Now,
	}
}
