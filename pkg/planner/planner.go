// Package planner turns a validated configuration into the plans the engine
// executes. Plans carry parsed values only, so the engine never looks at raw
// configuration strings.
package planner

import (
	"path/filepath"
	"strings"

	"github.com/paulschiretz/portal-backup/pkg/config"
	"github.com/paulschiretz/portal-backup/pkg/hook"
	"github.com/paulschiretz/portal-backup/pkg/lockfile"
	"github.com/paulschiretz/portal-backup/pkg/pathcompression"
	"github.com/paulschiretz/portal-backup/pkg/pathretention"
	"github.com/paulschiretz/portal-backup/pkg/preflight"
	"github.com/paulschiretz/portal-backup/pkg/reportrunner"
	"github.com/paulschiretz/portal-backup/pkg/stager"
)

type ItemsPlan struct {
	DryRun   bool
	FailFast bool
	Metrics  bool

	Source        string
	Destination   string
	ArchivePrefix string
	BufferSizeKB  int

	Preflight   *preflight.Plan
	Stage       *stager.Plan
	Compression *pathcompression.Plan
	Retention   *pathretention.Plan
	Hooks       *hook.Plan
}

type ReportsPlan struct {
	DryRun   bool
	FailFast bool
	Metrics  bool

	OutputDir    string
	Marker       string
	BufferSizeKB int

	// Reserved matches files in OutputDir that are never reports.
	Reserved func(name string) bool

	Preflight   *preflight.Plan
	Report      *reportrunner.Plan
	Compression *pathcompression.Plan
	// Retention is nil when report archives are kept forever. Its Prefix is
	// filled in once the archive name is known.
	Retention *pathretention.Plan
	Hooks     *hook.Plan
}

type PrunePlan struct {
	DryRun  bool
	Metrics bool

	Destination string

	Preflight *preflight.Plan
	Retention *pathretention.Plan
}

func GenerateItemsPlan(cfg config.Config) (*ItemsPlan, error) {

	// Global Flags
	dryRun := cfg.DryRun
	failFast := cfg.FailFast
	metrics := cfg.Metrics

	format, level, err := parseCompression(cfg)
	if err != nil {
		return nil, err
	}

	return &ItemsPlan{
		DryRun:   dryRun,
		FailFast: failFast,
		Metrics:  metrics,

		Source:        cfg.Items.Source,
		Destination:   cfg.Items.Destination,
		ArchivePrefix: cfg.Items.Prefix,
		BufferSizeKB:  cfg.Engine.BufferSizeKB,

		Preflight: &preflight.Plan{
			SourceAccessible: true,
			TargetAccessible: true,
			TargetWritable:   true,
			DryRun:           dryRun,
		},
		Stage: &stager.Plan{
			RetryCount: cfg.Engine.RetryCount,
			RetryWait:  cfg.Engine.RetryWait,
			DryRun:     dryRun,
		},
		Compression: &pathcompression.Plan{
			Format:          format,
			Level:           level,
			RemoveSourceDir: true,
			DryRun:          dryRun,
		},
		Retention: &pathretention.Plan{
			Prefix:    cfg.Items.Prefix,
			Extension: format.Extension(),
			Keep:      cfg.Items.Retention,
			DryRun:    dryRun,
		},
		Hooks: &hook.Plan{
			Enabled:          true,
			PreHookCommands:  cfg.Hooks.PreItems,
			PostHookCommands: cfg.Hooks.PostItems,
			DryRun:           dryRun,
			FailFast:         failFast,
		},
	}, nil
}

func GenerateReportsPlan(cfg config.Config) (*ReportsPlan, error) {

	// Global Flags
	dryRun := cfg.DryRun
	failFast := cfg.FailFast
	metrics := cfg.Metrics

	format, level, err := parseCompression(cfg)
	if err != nil {
		return nil, err
	}

	reserved := ReportReserved(cfg.Reports.OutputDir, cfg.Log.File)

	plan := &ReportsPlan{
		DryRun:   dryRun,
		FailFast: failFast,
		Metrics:  metrics,

		OutputDir:    cfg.Reports.OutputDir,
		Marker:       cfg.Reports.Marker,
		BufferSizeKB: cfg.Engine.BufferSizeKB,
		Reserved:     reserved,

		Preflight: &preflight.Plan{
			SourceAccessible: false,
			TargetAccessible: true,
			TargetWritable:   true,
			DryRun:           dryRun,
		},
		Report: &reportrunner.Plan{
			Executable: cfg.Reports.Executable,
			ConfigFile: cfg.Reports.ConfigFile,
			Timeout:    cfg.Reports.Timeout,
			DryRun:     dryRun,
		},
		Compression: &pathcompression.Plan{
			Format:          format,
			Level:           level,
			RemoveSourceDir: false,
			Skip:            reserved,
			DryRun:          dryRun,
		},
		Hooks: &hook.Plan{
			Enabled:          true,
			PreHookCommands:  cfg.Hooks.PreReports,
			PostHookCommands: cfg.Hooks.PostReports,
			DryRun:           dryRun,
			FailFast:         failFast,
		},
	}

	if cfg.Reports.Retention > 0 {
		plan.Retention = &pathretention.Plan{
			Extension: format.Extension(),
			Keep:      cfg.Reports.Retention,
			DryRun:    dryRun,
		}
	}
	return plan, nil
}

func GeneratePrunePlan(cfg config.Config) (*PrunePlan, error) {

	// Global Flags
	dryRun := cfg.DryRun
	metrics := cfg.Metrics

	format, err := pathcompression.ParseFormat(cfg.Compression.Format)
	if err != nil {
		return nil, err
	}

	return &PrunePlan{
		DryRun:  dryRun,
		Metrics: metrics,

		Destination: cfg.Items.Destination,

		Preflight: &preflight.Plan{
			SourceAccessible: false,
			TargetAccessible: true,
			TargetWritable:   true,
			DryRun:           dryRun,
		},
		Retention: &pathretention.Plan{
			Prefix:    cfg.Items.Prefix,
			Extension: format.Extension(),
			Keep:      cfg.Items.Retention,
			DryRun:    dryRun,
		},
	}, nil
}

func parseCompression(cfg config.Config) (pathcompression.Format, pathcompression.Level, error) {
	format, err := pathcompression.ParseFormat(cfg.Compression.Format)
	if err != nil {
		return "", "", err
	}
	level, err := pathcompression.ParseLevel(cfg.Compression.Level)
	if err != nil {
		return "", "", err
	}
	return format, level, nil
}

// ReportReserved returns a matcher for the files in outputDir that belong to
// us rather than the reporter: archives, the run lock, temp files and the run
// log when it lives in the same directory.
func ReportReserved(outputDir, logFile string) func(name string) bool {
	var logName string
	if logFile != "" && sameDir(filepath.Dir(logFile), outputDir) {
		logName = filepath.Base(logFile)
	}

	return func(name string) bool {
		switch {
		case pathcompression.IsArchiveName(name):
			return true
		case strings.HasPrefix(name, lockfile.LockFileName):
			return true
		case strings.HasPrefix(name, ".~portal-backup"):
			return true
		case strings.HasPrefix(name, "portal-backup-") && strings.HasSuffix(name, ".tmp"):
			return true
		case logName != "" && name == logName:
			return true
		}
		return false
	}
}

func sameDir(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
