package cmd

import (
	"context"
	"time"

	"github.com/paulschiretz/portal-backup/pkg/buildinfo"
	"github.com/paulschiretz/portal-backup/pkg/engine"
	"github.com/paulschiretz/portal-backup/pkg/flagparse"
	"github.com/paulschiretz/portal-backup/pkg/hook"
	"github.com/paulschiretz/portal-backup/pkg/pathcompression"
	"github.com/paulschiretz/portal-backup/pkg/pathretention"
	"github.com/paulschiretz/portal-backup/pkg/planner"
	"github.com/paulschiretz/portal-backup/pkg/plog"
	"github.com/paulschiretz/portal-backup/pkg/preflight"
	"github.com/paulschiretz/portal-backup/pkg/selector"
	"github.com/paulschiretz/portal-backup/pkg/stager"
)

// RunItems handles the logic for the items backup job.
func RunItems(ctx context.Context, flagMap map[string]interface{}) error {
	runConfig, err := loadRunConfig(flagparse.Items, flagMap)
	if err != nil {
		return err
	}

	runLogger, closeLog, err := openRunLogger(runConfig)
	if err != nil {
		return err
	}
	defer closeLog()
	logger := runLogger.With("job", flagparse.Items.String())

	// Log the Summary
	runConfig.LogSummary(flagparse.Items)

	m := newRunMetrics(runConfig)
	bufferSizeKB := runConfig.Engine.BufferSizeKB

	// Create the runner and feed it with our leaf workers
	runner := engine.NewRunner(engine.Workers{
		Validator:  preflight.NewValidator(logger),
		Selector:   selector.New(logger, m),
		Stager:     stager.New(bufferSizeKB, logger, m),
		Compressor: pathcompression.NewPathCompressor(bufferSizeKB, logger, m),
		Retainer:   pathretention.NewPathRetainer(logger, m),
		Hooks:      hook.NewHookExecutor(commandContext, logger),
	}, logger, m)

	// Get the Plan
	itemsPlan, err := planner.GenerateItemsPlan(runConfig)
	if err != nil {
		return err
	}

	// Execute the plan
	startTime := time.Now()
	err = runner.ExecuteItems(ctx, itemsPlan)
	duration := time.Since(startTime).Round(time.Millisecond)
	exportMetrics(runConfig, flagparse.Items, m, err, duration, logger)
	if err != nil {
		// Lands in the log file, main() reports it again on the console.
		logger.Error("Items backup failed", "error", err, "duration", duration)
		return err
	}
	plog.Info(buildinfo.Name+" items backup finished successfully.", "duration", duration)
	return nil
}
