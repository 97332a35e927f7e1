//go:build windows

package preflight

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/windows"
)

// IsMountPoint reports whether path is the root of a volume. Both drive roots
// ("D:\") and volumes mounted into a folder are detected.
func IsMountPoint(path string) (bool, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return false, err
	}
	buf := make([]uint16, windows.MAX_PATH+1)
	if err := windows.GetVolumePathName(p, &buf[0], uint32(len(buf))); err != nil {
		return false, &os.PathError{Op: "GetVolumePathName", Path: path, Err: err}
	}
	volume := windows.UTF16ToString(buf)
	return strings.EqualFold(filepath.Clean(volume), filepath.Clean(path)), nil
}
