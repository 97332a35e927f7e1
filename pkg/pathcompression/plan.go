package pathcompression

type Plan struct {
	Format Format
	Level  Level

	// RemoveSourceDir deletes the (then empty) source directory after the
	// archive is in place. Staging directories are removed, report output
	// directories are kept.
	RemoveSourceDir bool

	// Skip excludes top-level entries by name, e.g. earlier archives.
	Skip func(name string) bool

	DryRun bool
}

// Result describes a finished compression run.
type Result struct {
	ArchivePath  string
	Entries      int
	BytesRead    int64
	BytesWritten int64
}
