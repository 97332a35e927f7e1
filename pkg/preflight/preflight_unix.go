//go:build !windows

package preflight

// checkVolumeExists is a no-op on Unix, a missing mount shows up as a missing directory.
func checkVolumeExists(string) error { return nil }
