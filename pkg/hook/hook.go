// Package hook runs the user's shell commands before and after a job.
//
// Pre-hooks run before the lock is used for any work. A failing pre-hook stops
// the job when FailFast is set. Post-hooks always run and only warn.
package hook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/paulschiretz/portal-backup/pkg/hints"
	"github.com/paulschiretz/portal-backup/pkg/plog"
)

var ErrNothingToExecute = hints.New("nothing to execute")
var ErrDisabled = hints.New("hook execution is disabled")

type HookExecutor struct {
	// commandContext allows mocking os/exec for testing hooks.
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
	logger         *slog.Logger
}

// NewHookExecutor creates a HookExecutor. A nil commandContext uses exec.CommandContext.
func NewHookExecutor(commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd, logger *slog.Logger) *HookExecutor {
	if commandContext == nil {
		commandContext = exec.CommandContext
	}
	return &HookExecutor{
		commandContext: commandContext,
		logger:         plog.OrDefault(logger),
	}
}

func (e *HookExecutor) RunPreHook(ctx context.Context, jobName string, p *Plan) error {
	return e.run(ctx, "Pre-"+jobName, p.PreHookCommands, p)
}

func (e *HookExecutor) RunPostHook(ctx context.Context, jobName string, p *Plan) error {
	return e.run(ctx, "Post-"+jobName, p.PostHookCommands, p)
}

func (e *HookExecutor) run(ctx context.Context, stage string, commands []string, p *Plan) error {
	if !p.Enabled {
		return ErrDisabled
	}
	if len(commands) == 0 {
		return ErrNothingToExecute
	}

	e.logger.Info(fmt.Sprintf("Running %s hook commands", stage), "count", len(commands))

	for _, hookCommand := range commands {
		if err := ctx.Err(); err != nil {
			return err
		}

		if p.DryRun {
			e.logger.Info("[DRY RUN] Executing command", "command", hookCommand)
			continue
		}
		e.logger.Info("Executing command", "command", hookCommand)

		if err := e.execute(ctx, hookCommand, p.Env); err != nil {
			// A cancelled context kills the command, report the cancellation instead.
			if errors.Is(ctx.Err(), context.Canceled) {
				return context.Canceled
			}
			if p.FailFast {
				return fmt.Errorf("command '%s' failed: %w", hookCommand, err)
			}
			e.logger.Warn("Hook command failed", "command", hookCommand, "error", err)
		}
	}
	return nil
}

func (e *HookExecutor) execute(ctx context.Context, hookCommand string, env []string) error {
	cmd := e.createCommand(ctx, hookCommand)
	if len(env) > 0 {
		cmd.Env = append(cmd.Environ(), env...)
	}

	stdout := plog.NewLineWriter(e.logger, plog.LevelDebug, "hook output", "command", hookCommand)
	stderr := plog.NewLineWriter(e.logger, plog.LevelDebug, "hook error output", "command", hookCommand)
	defer stdout.Close()
	defer stderr.Close()
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	return cmd.Run()
}
