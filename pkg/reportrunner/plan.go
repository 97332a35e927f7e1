package reportrunner

import "time"

type Plan struct {
	// Executable is the reporter binary, ConfigFile its only argument.
	Executable string
	ConfigFile string

	// WorkDir is the child's working directory. Empty keeps ours.
	WorkDir string

	// Timeout bounds the run. Zero waits as long as the reporter needs.
	Timeout time.Duration

	DryRun bool
}
