package preflight

type Plan struct {
	SourceAccessible bool
	TargetAccessible bool
	TargetWritable   bool

	DryRun bool
}
