// Package reportrunner runs the external GIS Enterprise Reporter and waits for it.
//
// The reporter writes its workbooks into the output directory named in its own
// config file. A non-zero exit status means the output cannot be trusted, so
// the caller must not archive (and delete) whatever the reporter left behind.
package reportrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/paulschiretz/portal-backup/pkg/plog"
)

// ErrReportFailed is wrapped by every error caused by the reporter itself.
var ErrReportFailed = errors.New("report run failed")

// ExitError carries the reporter's non-zero exit status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%v: exit status %d", ErrReportFailed, e.Code)
}

func (e *ExitError) Unwrap() error { return ErrReportFailed }

type Runner struct {
	// commandContext allows mocking os/exec for testing.
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
	logger         *slog.Logger
}

// New creates a Runner. A nil commandContext uses exec.CommandContext.
func New(commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd, logger *slog.Logger) *Runner {
	if commandContext == nil {
		commandContext = exec.CommandContext
	}
	return &Runner{commandContext: commandContext, logger: plog.OrDefault(logger)}
}

// Run starts the reporter with the config file as its only argument and
// blocks until it exits. A non-zero exit returns *ExitError.
func (r *Runner) Run(ctx context.Context, p *Plan) error {
	if p.Executable == "" {
		return fmt.Errorf("%w: no executable configured", ErrReportFailed)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if p.DryRun {
		r.logger.Info("[DRY RUN] Running reporter", "executable", p.Executable, "config", p.ConfigFile)
		return nil
	}

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	cmd := r.createCommand(ctx, p)
	if p.WorkDir != "" {
		cmd.Dir = p.WorkDir
	}
	stdout := plog.NewLineWriter(r.logger, plog.LevelDebug, "reporter output")
	stderr := plog.NewLineWriter(r.logger, plog.LevelDebug, "reporter error output")
	defer stdout.Close()
	defer stderr.Close()
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	r.logger.Info("Running reporter", "executable", p.Executable, "config", p.ConfigFile)
	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start).Round(time.Millisecond)

	if err == nil {
		r.logger.Info("Reporter finished", "duration", duration)
		return nil
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: timed out after %s", ErrReportFailed, p.Timeout)
	case errors.Is(ctx.Err(), context.Canceled):
		return context.Canceled
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		r.logger.Error("Reporter exited with an error", "exit_code", exitErr.ExitCode(), "duration", duration)
		return &ExitError{Code: exitErr.ExitCode()}
	}
	return fmt.Errorf("%w: cannot start %s: %v", ErrReportFailed, p.Executable, err)
}
