package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/paulschiretz/portal-backup/pkg/config"
	"github.com/paulschiretz/portal-backup/pkg/flagparse"
	"github.com/paulschiretz/portal-backup/pkg/metrics"
	"github.com/paulschiretz/portal-backup/pkg/plog"
	"github.com/paulschiretz/portal-backup/pkg/util"
)

// logConsole receives the debug-level console sink. Tests swap it out.
var logConsole io.Writer = os.Stderr

// commandContext starts hook commands and the reporter.
var commandContext = exec.CommandContext

// loadRunConfig builds the final configuration for a run: file and
// environment first, then the flags that were set, then validation.
func loadRunConfig(command flagparse.Command, flagMap map[string]interface{}) (config.Config, error) {
	loadedConfig, err := config.Load(config.ConfigPath(flagMap))
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}

	runConfig := config.MergeConfigWithFlags(command, loadedConfig, flagMap)

	if err := resolvePaths(&runConfig); err != nil {
		return config.Config{}, err
	}

	// CRITICAL: Validate the config for the run
	if err := runConfig.Validate(command); err != nil {
		return config.Config{}, err
	}
	return runConfig, nil
}

// resolvePaths turns every configured path into a cleaned absolute path.
// Unset paths stay empty so validation can report them.
func resolvePaths(c *config.Config) error {
	paths := []struct {
		name string
		ptr  *string
	}{
		{"log.file", &c.Log.File},
		{"metrics_file", &c.MetricsFile},
		{"items.source", &c.Items.Source},
		{"items.destination", &c.Items.Destination},
		{"reports.config_file", &c.Reports.ConfigFile},
		{"reports.output_dir", &c.Reports.OutputDir},
	}
	for _, p := range paths {
		resolved, err := util.ResolvePath(*p.ptr)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", p.name, err)
		}
		*p.ptr = resolved
	}
	return nil
}

// openRunLogger installs the run's two-sink logger as the process default.
// The returned close function closes the log file and puts the previous
// default back.
func openRunLogger(c config.Config) (*slog.Logger, func(), error) {
	level, err := plog.LevelFromString(c.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	sink, err := plog.Open(plog.Options{
		FilePath:  c.Log.File,
		FileLevel: level,
		Console:   logConsole,
	})
	if err != nil {
		return nil, nil, err
	}
	previous := plog.Default()
	plog.SetDefault(sink.Logger)
	if c.DryRun {
		plog.Notice("[DRY RUN] No files will be created or deleted")
	}
	return sink.Logger, func() {
		plog.SetDefault(previous)
		if err := sink.Close(); err != nil {
			previous.Warn("Failed to close log file", "path", c.Log.File, "error", err)
		}
	}, nil
}

// newRunMetrics collects counters when they are logged or exported.
func newRunMetrics(c config.Config) metrics.Metrics {
	return metrics.New(c.Metrics || c.MetricsFile != "")
}

// exportMetrics writes the metrics textfile if one is configured. A failed
// export is logged and never fails the run.
func exportMetrics(c config.Config, command flagparse.Command, m metrics.Metrics, runErr error, duration time.Duration, logger *slog.Logger) {
	if c.MetricsFile == "" || c.DryRun {
		return
	}
	if err := metrics.WriteTextfile(c.MetricsFile, command.String(), m, runErr == nil, time.Now(), duration); err != nil {
		logger.Warn("Failed to export metrics", "error", err)
	}
}
