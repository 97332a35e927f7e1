package flagparse

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulschiretz/portal-backup/pkg/buildinfo"
)

// cliFlags holds pointers to all possible command-line flags.
// Fields are pointers so we can distinguish between "not registered for this command" (nil)
// and "registered but not set by user" (non-nil pointer to zero value).
type cliFlags struct {
	// Global
	ConfigFile  *string
	LogLevel    *string
	LogFile     *string
	DryRun      *bool
	Metrics     *bool
	MetricsFile *string
	FailFast    *bool

	// Items / Prune
	Source      *string
	Destination *string
	Prefix      *string

	// Reports
	Executable   *string
	ReportConfig *string
	OutputDir    *string
	Marker       *string
	Timeout      *time.Duration

	// Shared
	Retention         *int
	CompressionFormat *string
	CompressionLevel  *string
	BufferSizeKB      *int
	PreHooks          *string
	PostHooks         *string
}

func registerGlobalFlags(fs *flag.FlagSet, f *cliFlags) {
	f.ConfigFile = fs.String("config", "", "Path to a YAML configuration file (default: $PORTAL_BACKUP_CONFIG or ./portal-backup.yaml).")
	f.LogLevel = fs.String("log-level", "info", "Minimum level written to the log file: 'debug', 'info', 'notice', 'warn', 'error'.")
	f.LogFile = fs.String("log-file", "", "Append the run log to this file.")
	f.DryRun = fs.Bool("dry-run", false, "Show what would be done without making any changes.")
	f.Metrics = fs.Bool("metrics", false, "Log file counts and compression statistics at the end of the run.")
	f.MetricsFile = fs.String("metrics-file", "", "Write the run's metrics in Prometheus text format to this file (for the node_exporter textfile collector).")
	f.FailFast = fs.Bool("fail-fast", true, "Abort the job when a pre-hook command fails.")
}

func registerCompressionFlags(fs *flag.FlagSet, f *cliFlags) {
	f.CompressionFormat = fs.String("compression-format", "", "Archive format: 'zip', 'tar.gz', or 'tar.zst'.")
	f.CompressionLevel = fs.String("compression-level", "", "Compression level: 'default', 'fastest', 'better', 'best'.")
	f.BufferSizeKB = fs.Int("buffer-size-kb", 0, "Size of the I/O buffer in kilobytes for file copies and compression.")
}

func registerHookFlags(fs *flag.FlagSet, f *cliFlags, job string) {
	f.PreHooks = fs.String("pre-hooks", "", fmt.Sprintf("Comma-separated list of commands to run before the %s job.", job))
	f.PostHooks = fs.String("post-hooks", "", fmt.Sprintf("Comma-separated list of commands to run after the %s job.", job))
}

func registerItemsFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Source = fs.String("source", "", "Portal items directory to back up. (Required)")
	f.Destination = fs.String("destination", "", "Directory that receives the item archives. (Required)")
	f.Retention = fs.Int("retention", 10, "Number of item archives to keep.")
	f.Prefix = fs.String("prefix", "", "Name prefix of the item archives (default 'items_').")
	registerCompressionFlags(fs, f)
	registerHookFlags(fs, f, "items")
}

func registerReportsFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Executable = fs.String("executable", "", "Path to the reporter executable. (Required)")
	f.ReportConfig = fs.String("report-config", "", "Config file passed to the reporter as its only argument.")
	f.OutputDir = fs.String("output-dir", "", "Directory the reporter writes its reports to. (Required)")
	f.Marker = fs.String("marker", "", "Filename token that ends the report name prefix (default 'portal').")
	f.Retention = fs.Int("retention", 0, "Number of report archives to keep (0 keeps all).")
	f.Timeout = fs.Duration("timeout", 0, "Kill the reporter after this duration (0 waits forever).")
	registerCompressionFlags(fs, f)
	registerHookFlags(fs, f, "reports")
}

func registerPruneFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Destination = fs.String("destination", "", "Directory holding the item archives to prune. (Required)")
	f.Retention = fs.Int("retention", 10, "Number of item archives to keep.")
	f.Prefix = fs.String("prefix", "", "Name prefix of the item archives (default 'items_').")
	f.CompressionFormat = fs.String("compression-format", "", "Archive format whose files are pruned: 'zip', 'tar.gz', or 'tar.zst'.")
}

// Parse parses the provided arguments (usually os.Args[1:]) and returns the command and config map.
func Parse(args []string) (Command, map[string]interface{}, error) {
	// If no arguments provided, print help and exit.
	if len(args) == 0 {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	cmdStr := strings.ToLower(args[0])

	if cmdStr == "help" || cmdStr == "-h" || cmdStr == "-help" || cmdStr == "--help" {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	command, err := ParseCommand(cmdStr)
	if err != nil {
		return None, nil, err
	}

	f := &cliFlags{}
	fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)

	var desc string
	switch command {
	case Items:
		registerGlobalFlags(fs, f)
		registerItemsFlags(fs, f)
		desc = "Back up the Portal item files into a timestamped archive and prune old archives."
	case Reports:
		registerGlobalFlags(fs, f)
		registerReportsFlags(fs, f)
		desc = "Run the reporter and collect its output into a single archive."
	case Prune:
		registerGlobalFlags(fs, f)
		registerPruneFlags(fs, f)
		desc = "Delete the oldest item archives beyond the retention count."
	case Version:
		return command, nil, nil
	default:
		return None, nil, fmt.Errorf("unknown command: %s", args[0])
	}

	fs.Usage = func() {
		printSubcommandUsage(command, desc, fs)
	}
	if err := fs.Parse(args[1:]); err != nil {
		return command, nil, err
	}
	if fs.NArg() > 0 {
		return command, nil, fmt.Errorf("unexpected arguments for %s: %v", command, fs.Args())
	}

	flagMap, err := flagsToMap(fs, f)
	return command, flagMap, err
}

func flagsToMap(fs *flag.FlagSet, f *cliFlags) (map[string]interface{}, error) {
	// Create a map of the flags that were explicitly set by the user, along with their values.
	// This map is used to selectively override the base configuration.
	usedFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { usedFlags[f.Name] = true })

	flagMap := make(map[string]any)

	addIfUsed(flagMap, usedFlags, "config", f.ConfigFile)
	addIfUsed(flagMap, usedFlags, "log-level", f.LogLevel)
	addIfUsed(flagMap, usedFlags, "log-file", f.LogFile)
	addIfUsed(flagMap, usedFlags, "dry-run", f.DryRun)
	addIfUsed(flagMap, usedFlags, "metrics", f.Metrics)
	addIfUsed(flagMap, usedFlags, "metrics-file", f.MetricsFile)
	addIfUsed(flagMap, usedFlags, "fail-fast", f.FailFast)

	addIfUsed(flagMap, usedFlags, "source", f.Source)
	addIfUsed(flagMap, usedFlags, "destination", f.Destination)
	addIfUsed(flagMap, usedFlags, "prefix", f.Prefix)

	addIfUsed(flagMap, usedFlags, "executable", f.Executable)
	addIfUsed(flagMap, usedFlags, "report-config", f.ReportConfig)
	addIfUsed(flagMap, usedFlags, "output-dir", f.OutputDir)
	addIfUsed(flagMap, usedFlags, "marker", f.Marker)
	addIfUsed(flagMap, usedFlags, "timeout", f.Timeout)

	addIfUsed(flagMap, usedFlags, "retention", f.Retention)
	addIfUsed(flagMap, usedFlags, "compression-format", f.CompressionFormat)
	addIfUsed(flagMap, usedFlags, "compression-level", f.CompressionLevel)
	addIfUsed(flagMap, usedFlags, "buffer-size-kb", f.BufferSizeKB)

	// Handle flags that require parsing/validation.
	addParsedIfUsed(flagMap, usedFlags, "pre-hooks", f.PreHooks, ParseCmdList)
	addParsedIfUsed(flagMap, usedFlags, "post-hooks", f.PostHooks, ParseCmdList)

	return flagMap, nil
}

// addIfUsed adds the value of ptr to flagMap if ptr is not nil and the flag was set.
func addIfUsed[T any](flagMap map[string]interface{}, usedFlags map[string]bool, name string, ptr *T) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = *ptr
	}
}

// addParsedIfUsed adds the parsed value of ptr to flagMap if ptr is not nil and the flag was set.
func addParsedIfUsed(flagMap map[string]interface{}, usedFlags map[string]bool, name string, ptr *string, parser func(string) []string) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = parser(*ptr)
	}
}

// printTopLevelUsage prints the main help message.
func printTopLevelUsage(fs *flag.FlagSet) {

	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "Scheduled backups of Portal items and reports.\n\n")
	fmt.Fprintf(fs.Output(), "Usage: %s <command> [flags]\n\n", execName)
	fmt.Fprintf(fs.Output(), "Commands:\n")
	fmt.Fprintf(fs.Output(), "  items       Back up the Portal item files\n")
	fmt.Fprintf(fs.Output(), "  reports     Run the reporter and archive its output\n")
	fmt.Fprintf(fs.Output(), "  prune       Apply the retention count to the item archives\n")
	fmt.Fprintf(fs.Output(), "  version     Print the application version\n")
	fmt.Fprintf(fs.Output(), "\nRun '%s <command> -help' for more information on a command.\n", execName)
}

// printSubcommandUsage prints the help message for a specific subcommand.
func printSubcommandUsage(command Command, desc string, fs *flag.FlagSet) {

	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "Scheduled backups of Portal items and reports.\n\n")
	fmt.Fprintf(fs.Output(), "Usage of the %s command: %s %s [flags]\n\n", command, execName, command)
	fmt.Fprintf(fs.Output(), "%s\n\n", desc)
	fmt.Fprintf(fs.Output(), "Flags:\n")
	fs.PrintDefaults()
}

// ParseCmdList parses a comma-separated list of shell-like commands.
// It preserves quotes and handles backslash escapes so they can be interpreted by the shell.
func ParseCmdList(s string) []string {
	return parseListInternal(s, true, true)
}

// parseListInternal is the core implementation for parsing a comma-separated list. It supports
// both single (') and double (") quotes to allow items to contain commas or spaces.
// - `keepQuotes`: Preserves quote characters in the output.
// - `handleEscapes`: Treats backslashes as escape characters.
func parseListInternal(s string, keepQuotes, handleEscapes bool) []string {
	var list []string
	var current strings.Builder
	var quoteChar rune

	// Helper to add the current buffered item to the list after trimming whitespace.
	appendItem := func() {
		trimmed := strings.TrimSpace(current.String())
		if trimmed != "" {
			list = append(list, trimmed)
		}
		current.Reset()
	}

	var isEscaped bool
	for _, r := range s {
		if isEscaped {
			current.WriteRune(r)
			isEscaped = false
			continue
		}

		switch {
		case r == '\\' && handleEscapes:
			isEscaped = true
			// For commands, we also keep the backslash for the shell to interpret.
			current.WriteRune(r)
		case r == '\'' || r == '"':
			if quoteChar == 0 { // Start of a new quoted section.
				quoteChar = r
				if keepQuotes {
					current.WriteRune(r)
				}
			} else if quoteChar == r { // End of the current quoted section.
				quoteChar = 0
				if keepQuotes {
					current.WriteRune(r)
				}
			} else { // A different quote character inside an existing quoted section.
				current.WriteRune(r) // Treat it as a literal character.
			}
		case r == ',' && quoteChar == 0: // Comma outside of any quotes.
			appendItem()
		default:
			current.WriteRune(r)
		}
	}
	appendItem() // Add the final item after the loop finishes.
	return list
}
