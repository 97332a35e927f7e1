package buildinfo

// Version holds the application's version string.
// It's a `var` so it can be set at compile time using ldflags.
// Example: go build -ldflags="-X github.com/paulschiretz/portal-backup/pkg/buildinfo.Version=1.0.0"
var Version = "dev"

// Name is the canonical name of the application used for logging.
var Name = "Portal-Backup"

// AppID returns the identifier written into lock files for the given job and directory.
func AppID(job, dir string) string {
	return "portal-backup:" + job + ":" + dir
}
