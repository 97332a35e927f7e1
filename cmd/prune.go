package cmd

import (
	"context"
	"time"

	"github.com/paulschiretz/portal-backup/pkg/buildinfo"
	"github.com/paulschiretz/portal-backup/pkg/engine"
	"github.com/paulschiretz/portal-backup/pkg/flagparse"
	"github.com/paulschiretz/portal-backup/pkg/pathretention"
	"github.com/paulschiretz/portal-backup/pkg/planner"
	"github.com/paulschiretz/portal-backup/pkg/plog"
	"github.com/paulschiretz/portal-backup/pkg/preflight"
)

// RunPrune handles the logic for the prune command. It applies the items
// retention count to the destination without taking a new backup.
func RunPrune(ctx context.Context, flagMap map[string]interface{}) error {
	runConfig, err := loadRunConfig(flagparse.Prune, flagMap)
	if err != nil {
		return err
	}

	runLogger, closeLog, err := openRunLogger(runConfig)
	if err != nil {
		return err
	}
	defer closeLog()
	logger := runLogger.With("job", flagparse.Prune.String())

	runConfig.LogSummary(flagparse.Prune)

	m := newRunMetrics(runConfig)
	runner := engine.NewRunner(engine.Workers{
		Validator: preflight.NewValidator(logger),
		Retainer:  pathretention.NewPathRetainer(logger, m),
	}, logger, m)

	prunePlan, err := planner.GeneratePrunePlan(runConfig)
	if err != nil {
		return err
	}

	startTime := time.Now()
	err = runner.ExecutePrune(ctx, prunePlan)
	duration := time.Since(startTime).Round(time.Millisecond)
	exportMetrics(runConfig, flagparse.Prune, m, err, duration, logger)
	if err != nil {
		// Lands in the log file, main() reports it again on the console.
		logger.Error("Prune failed", "error", err, "duration", duration)
		return err
	}
	plog.Info(buildinfo.Name+" prune finished successfully.", "duration", duration)
	return nil
}
