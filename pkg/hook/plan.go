package hook

type Plan struct {
	Enabled bool

	PreHookCommands  []string
	PostHookCommands []string

	// Env is added to the environment of every hook command, e.g.
	// PORTAL_BACKUP_JOB=items.
	Env []string

	DryRun   bool
	FailFast bool
}
