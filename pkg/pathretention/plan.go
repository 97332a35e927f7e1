package pathretention

type Plan struct {
	// Prefix and Extension select the archives this policy owns.
	Prefix    string
	Extension string

	// Keep is the number of newest archives that survive.
	Keep int

	// Pending names archives a dry run would have written. They are counted
	// as present so the preview matches a real run.
	Pending []string

	DryRun bool
}
