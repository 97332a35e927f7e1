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
	"github.com/paulschiretz/portal-backup/pkg/reportrunner"
)

// RunReports handles the logic for the reports job.
func RunReports(ctx context.Context, flagMap map[string]interface{}) error {
	runConfig, err := loadRunConfig(flagparse.Reports, flagMap)
	if err != nil {
		return err
	}

	runLogger, closeLog, err := openRunLogger(runConfig)
	if err != nil {
		return err
	}
	defer closeLog()
	logger := runLogger.With("job", flagparse.Reports.String())

	runConfig.LogSummary(flagparse.Reports)

	m := newRunMetrics(runConfig)

	runner := engine.NewRunner(engine.Workers{
		Validator:  preflight.NewValidator(logger),
		Compressor: pathcompression.NewPathCompressor(runConfig.Engine.BufferSizeKB, logger, m),
		Retainer:   pathretention.NewPathRetainer(logger, m),
		Reporter:   reportrunner.New(commandContext, logger),
		Hooks:      hook.NewHookExecutor(commandContext, logger),
	}, logger, m)

	reportsPlan, err := planner.GenerateReportsPlan(runConfig)
	if err != nil {
		return err
	}

	startTime := time.Now()
	err = runner.ExecuteReports(ctx, reportsPlan)
	duration := time.Since(startTime).Round(time.Millisecond)
	exportMetrics(runConfig, flagparse.Reports, m, err, duration, logger)
	if err != nil {
		// Lands in the log file, main() reports it again on the console.
		logger.Error("Reports job failed", "error", err, "duration", duration)
		return err
	}
	plog.Info(buildinfo.Name+" reports job finished successfully.", "duration", duration)
	return nil
}
