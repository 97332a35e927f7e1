// Package config loads the layered configuration of portal-backup.
//
// Values are resolved in this order, later layers win:
//
//	defaults -> config file -> PORTAL_BACKUP_* environment -> command-line flags
//
// The config file is optional. It is taken from the -config flag, the
// PORTAL_BACKUP_CONFIG environment variable or ./portal-backup.yaml, in that
// order. Nested keys map to environment variables by replacing '.' with '_',
// so items.retention becomes PORTAL_BACKUP_ITEMS_RETENTION.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/paulschiretz/portal-backup/pkg/flagparse"
	"github.com/paulschiretz/portal-backup/pkg/naming"
	"github.com/paulschiretz/portal-backup/pkg/pathcompression"
	"github.com/paulschiretz/portal-backup/pkg/plog"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "PORTAL_BACKUP"
	// EnvConfigFile names the environment variable holding the config file path.
	EnvConfigFile = EnvPrefix + "_CONFIG"
	// DefaultConfigFileName is looked up in the working directory.
	DefaultConfigFileName = "portal-backup.yaml"
)

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type ItemsConfig struct {
	Source      string `mapstructure:"source"`
	Destination string `mapstructure:"destination"`
	Retention   int    `mapstructure:"retention"`
	Prefix      string `mapstructure:"prefix"`
}

type ReportsConfig struct {
	Executable string        `mapstructure:"executable"`
	ConfigFile string        `mapstructure:"config_file"`
	OutputDir  string        `mapstructure:"output_dir"`
	Marker     string        `mapstructure:"marker"`
	Retention  int           `mapstructure:"retention"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type CompressionConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

type EngineConfig struct {
	BufferSizeKB int `mapstructure:"buffer_size_kb"`
	// RetryCount and RetryWait apply to copying item files into staging.
	RetryCount int           `mapstructure:"retry_count"`
	RetryWait  time.Duration `mapstructure:"retry_wait"`
}

type HooksConfig struct {
	PreItems    []string `mapstructure:"pre_items"`
	PostItems   []string `mapstructure:"post_items"`
	PreReports  []string `mapstructure:"pre_reports"`
	PostReports []string `mapstructure:"post_reports"`
}

// Config is the effective configuration of a single run.
type Config struct {
	Log      LogConfig `mapstructure:"log"`
	DryRun   bool      `mapstructure:"dry_run"`
	Metrics  bool      `mapstructure:"metrics"`
	FailFast bool      `mapstructure:"fail_fast"`
	// MetricsFile receives a Prometheus textfile after every run. Empty disables it.
	MetricsFile string `mapstructure:"metrics_file"`

	Items       ItemsConfig       `mapstructure:"items"`
	Reports     ReportsConfig     `mapstructure:"reports"`
	Compression CompressionConfig `mapstructure:"compression"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Hooks       HooksConfig       `mapstructure:"hooks"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

// setDefaults sets default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("dry_run", false)
	v.SetDefault("metrics", false)
	v.SetDefault("fail_fast", true)
	v.SetDefault("metrics_file", "")

	v.SetDefault("items.source", "")
	v.SetDefault("items.destination", "")
	v.SetDefault("items.retention", 10)
	v.SetDefault("items.prefix", naming.DefaultItemsPrefix)

	v.SetDefault("reports.executable", "")
	v.SetDefault("reports.config_file", "")
	v.SetDefault("reports.output_dir", "")
	v.SetDefault("reports.marker", naming.DefaultMarker)
	v.SetDefault("reports.retention", 0) // 0 = keep all
	v.SetDefault("reports.timeout", 0*time.Second)

	v.SetDefault("compression.format", pathcompression.Zip.String())
	v.SetDefault("compression.level", pathcompression.Best.String())

	v.SetDefault("engine.buffer_size_kb", 256)
	v.SetDefault("engine.retry_count", 3)
	v.SetDefault("engine.retry_wait", 2*time.Second)

	v.SetDefault("hooks.pre_items", []string{})
	v.SetDefault("hooks.post_items", []string{})
	v.SetDefault("hooks.pre_reports", []string{})
	v.SetDefault("hooks.post_reports", []string{})
}

// NewDefault returns the configuration used when neither a file nor the
// environment sets anything.
func NewDefault() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return cfg
}

// Load reads configuration from file and environment variables. An empty
// configPath falls back to PORTAL_BACKUP_CONFIG and then ./portal-backup.yaml.
// A missing default file is not an error, a missing explicit one is.
func Load(configPath string) (Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath == "" {
		configPath = os.Getenv(EnvConfigFile)
	}
	if configPath == "" {
		if _, err := os.Stat(DefaultConfigFileName); err == nil {
			configPath = DefaultConfigFileName
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.File = configPath
	return cfg, nil
}

// ConfigPath returns the -config flag value from a parsed flag map.
func ConfigPath(setFlags map[string]any) string {
	if p, ok := setFlags["config"].(string); ok {
		return p
	}
	return ""
}

// Validate checks the settings the given command depends on.
func (c *Config) Validate(command flagparse.Command) error {
	if err := c.validateLog(); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	if err := c.validateCompression(); err != nil {
		return fmt.Errorf("compression config: %w", err)
	}
	if c.Engine.BufferSizeKB <= 0 {
		return fmt.Errorf("engine config: buffer_size_kb must be greater than 0, got %d", c.Engine.BufferSizeKB)
	}
	if c.Engine.RetryCount < 0 {
		return fmt.Errorf("engine config: retry_count cannot be negative, got %d", c.Engine.RetryCount)
	}

	switch command {
	case flagparse.Items:
		if err := c.validateItems(true); err != nil {
			return fmt.Errorf("items config: %w", err)
		}
	case flagparse.Prune:
		if err := c.validateItems(false); err != nil {
			return fmt.Errorf("items config: %w", err)
		}
	case flagparse.Reports:
		if err := c.validateReports(); err != nil {
			return fmt.Errorf("reports config: %w", err)
		}
	}
	return nil
}

func (c *Config) validateLog() error {
	if _, err := plog.LevelFromString(c.Log.Level); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateCompression() error {
	if _, err := pathcompression.ParseFormat(c.Compression.Format); err != nil {
		return err
	}
	if _, err := pathcompression.ParseLevel(c.Compression.Level); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateItems(needSource bool) error {
	if needSource && strings.TrimSpace(c.Items.Source) == "" {
		return errors.New("source path cannot be empty")
	}
	if strings.TrimSpace(c.Items.Destination) == "" {
		return errors.New("destination path cannot be empty")
	}
	if c.Items.Retention < 1 {
		return fmt.Errorf("retention must be at least 1, got %d", c.Items.Retention)
	}
	if c.Items.Prefix == "" {
		return errors.New("prefix cannot be empty")
	}
	if strings.ContainsAny(c.Items.Prefix, `/\`) {
		return fmt.Errorf("prefix %q cannot contain path separators", c.Items.Prefix)
	}
	return nil
}

func (c *Config) validateReports() error {
	if strings.TrimSpace(c.Reports.Executable) == "" {
		return errors.New("executable cannot be empty")
	}
	if strings.TrimSpace(c.Reports.ConfigFile) == "" {
		return errors.New("config_file cannot be empty")
	}
	if strings.TrimSpace(c.Reports.OutputDir) == "" {
		return errors.New("output_dir cannot be empty")
	}
	if c.Reports.Marker == "" {
		return errors.New("marker cannot be empty")
	}
	if strings.Contains(c.Reports.Marker, "_") {
		return fmt.Errorf("marker %q cannot contain '_', it is matched against single filename tokens", c.Reports.Marker)
	}
	if c.Reports.Retention < 0 {
		return fmt.Errorf("retention cannot be negative, got %d", c.Reports.Retention)
	}
	if c.Reports.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative, got %s", c.Reports.Timeout)
	}
	return nil
}

// LogSummary logs the effective configuration for the given command.
func (c *Config) LogSummary(command flagparse.Command) {
	logArgs := []interface{}{
		"command", command,
		"log_level", c.Log.Level,
		"dry_run", c.DryRun,
		"metrics", c.Metrics,
		"fail_fast", c.FailFast,
	}
	if c.File != "" {
		logArgs = append(logArgs, "config_file", c.File)
	}
	if c.Log.File != "" {
		logArgs = append(logArgs, "log_file", c.Log.File)
	}
	if c.MetricsFile != "" {
		logArgs = append(logArgs, "metrics_file", c.MetricsFile)
	}

	switch command {
	case flagparse.Items:
		logArgs = append(logArgs,
			"source", c.Items.Source,
			"destination", c.Items.Destination,
			"retention", c.Items.Retention,
			"prefix", c.Items.Prefix,
			"compression_format", c.Compression.Format,
			"compression_level", c.Compression.Level,
		)
		if len(c.Hooks.PreItems) > 0 {
			logArgs = append(logArgs, "pre_hooks", strings.Join(c.Hooks.PreItems, "; "))
		}
		if len(c.Hooks.PostItems) > 0 {
			logArgs = append(logArgs, "post_hooks", strings.Join(c.Hooks.PostItems, "; "))
		}
	case flagparse.Reports:
		logArgs = append(logArgs,
			"executable", c.Reports.Executable,
			"report_config", c.Reports.ConfigFile,
			"output_dir", c.Reports.OutputDir,
			"marker", c.Reports.Marker,
			"retention", c.Reports.Retention,
			"compression_format", c.Compression.Format,
			"compression_level", c.Compression.Level,
		)
		if c.Reports.Timeout > 0 {
			logArgs = append(logArgs, "timeout", c.Reports.Timeout)
		}
		if len(c.Hooks.PreReports) > 0 {
			logArgs = append(logArgs, "pre_hooks", strings.Join(c.Hooks.PreReports, "; "))
		}
		if len(c.Hooks.PostReports) > 0 {
			logArgs = append(logArgs, "post_hooks", strings.Join(c.Hooks.PostReports, "; "))
		}
	case flagparse.Prune:
		logArgs = append(logArgs,
			"destination", c.Items.Destination,
			"retention", c.Items.Retention,
			"prefix", c.Items.Prefix,
			"compression_format", c.Compression.Format,
		)
	}
	plog.Info("Configuration loaded", logArgs...)
}

// MergeConfigWithFlags overlays the flags the user set explicitly on base.
// Flags shared between commands (retention, hooks) land in the section of the
// command being run.
func MergeConfigWithFlags(command flagparse.Command, base Config, setFlags map[string]any) Config {
	merged := base

	for name, value := range setFlags {
		switch name {
		case "config":
			// Consumed by Load.
		case "log-level":
			merged.Log.Level = value.(string)
		case "log-file":
			merged.Log.File = value.(string)
		case "dry-run":
			merged.DryRun = value.(bool)
		case "metrics":
			merged.Metrics = value.(bool)
		case "fail-fast":
			merged.FailFast = value.(bool)
		case "metrics-file":
			merged.MetricsFile = value.(string)
		case "source":
			merged.Items.Source = value.(string)
		case "destination":
			merged.Items.Destination = value.(string)
		case "prefix":
			merged.Items.Prefix = value.(string)
		case "executable":
			merged.Reports.Executable = value.(string)
		case "report-config":
			merged.Reports.ConfigFile = value.(string)
		case "output-dir":
			merged.Reports.OutputDir = value.(string)
		case "marker":
			merged.Reports.Marker = value.(string)
		case "timeout":
			merged.Reports.Timeout = value.(time.Duration)
		case "retention":
			switch command {
			case flagparse.Reports:
				merged.Reports.Retention = value.(int)
			default:
				merged.Items.Retention = value.(int)
			}
		case "compression-format":
			merged.Compression.Format = value.(string)
		case "compression-level":
			merged.Compression.Level = value.(string)
		case "buffer-size-kb":
			merged.Engine.BufferSizeKB = value.(int)
		case "pre-hooks":
			switch command {
			case flagparse.Reports:
				merged.Hooks.PreReports = value.([]string)
			default:
				merged.Hooks.PreItems = value.([]string)
			}
		case "post-hooks":
			switch command {
			case flagparse.Reports:
				merged.Hooks.PostReports = value.([]string)
			default:
				merged.Hooks.PostItems = value.([]string)
			}
		default:
			plog.Debug("unhandled flag in MergeConfigWithFlags", "flag", name)
		}
	}
	return merged
}
