//go:build !windows

package preflight

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// IsMountPoint reports whether path sits on a different device than its
// parent, or is the filesystem root.
func IsMountPoint(path string) (bool, error) {
	var st, parentSt unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false, &os.PathError{Op: "stat", Path: path, Err: err}
	}
	parent := filepath.Dir(path)
	if parent == path {
		return true, nil
	}
	if err := unix.Stat(parent, &parentSt); err != nil {
		return false, fmt.Errorf("failed to stat parent of %s: %w", path, err)
	}
	return st.Dev != parentSt.Dev, nil
}
