// Package preflight provides the checks that run before a job touches the
// filesystem. The checks never change anything except for the write probe,
// which creates and deletes a single file.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/paulschiretz/portal-backup/pkg/plog"
)

// ErrPathRequired is returned when a required path is empty.
var ErrPathRequired = errors.New("path is required")

// writeProbeName is created and removed by CheckTargetWritable.
const writeProbeName = ".~portal-backup-writetest.tmp"

// CheckSourceAccessible validates that the source path exists and is a directory.
func CheckSourceAccessible(srcPath string) error {
	if srcPath == "" {
		return fmt.Errorf("source: %w", ErrPathRequired)
	}
	if err := checkVolumeExists(srcPath); err != nil {
		return err
	}
	info, err := os.Stat(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("source directory %s does not exist", srcPath)
		}
		return fmt.Errorf("cannot stat source directory %s: %w", srcPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source path %s is not a directory", srcPath)
	}
	return nil
}

// CheckTargetAccessible validates that the target path exists and is a
// directory. It is never created, a missing target usually means a share or
// drive is not mounted.
func CheckTargetAccessible(targetPath string) error {
	if targetPath == "" {
		return fmt.Errorf("target: %w", ErrPathRequired)
	}
	if err := checkVolumeExists(targetPath); err != nil {
		return err
	}
	info, err := os.Stat(targetPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("target directory %s does not exist", targetPath)
		}
		return fmt.Errorf("cannot access target path %s: %w", targetPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("target path exists but is not a directory: %s", targetPath)
	}
	return nil
}

// CheckTargetWritable creates and deletes a probe file in targetPath.
func CheckTargetWritable(targetPath string) error {
	probe := filepath.Join(targetPath, writeProbeName)
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("target directory %s is not writable: %w", targetPath, err)
	}
	f.Close()
	if err := os.Remove(probe); err != nil {
		return fmt.Errorf("failed to remove write probe in %s: %w", targetPath, err)
	}
	return nil
}

// Validator runs the checks a plan asks for.
type Validator struct {
	logger *slog.Logger
}

// NewValidator returns a Validator. A nil logger uses the process default.
func NewValidator(logger *slog.Logger) *Validator {
	return &Validator{logger: plog.OrDefault(logger)}
}

// Run validates src and dst. An empty src skips the source check, jobs like
// prune only have a target.
func (v *Validator) Run(ctx context.Context, src, dst string, p *Plan) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if p.SourceAccessible && src != "" {
		if err := CheckSourceAccessible(src); err != nil {
			return err
		}
		v.logger.Debug("Source is accessible", "path", src)
	}

	if p.TargetAccessible {
		if err := CheckTargetAccessible(dst); err != nil {
			return err
		}
		v.logMountPoint(dst)
		v.logger.Debug("Target is accessible", "path", dst)
	}

	if p.TargetWritable {
		if p.DryRun {
			v.logger.Debug("[DRY RUN] Skipping write check", "path", dst)
			return nil
		}
		if err := CheckTargetWritable(dst); err != nil {
			return err
		}
		v.logger.Debug("Target is writable", "path", dst)
	}
	return nil
}

func (v *Validator) logMountPoint(path string) {
	isMount, err := IsMountPoint(path)
	if err != nil {
		v.logger.Debug("Could not determine mount point status", "path", path, "error", err)
		return
	}
	v.logger.Debug("Target mount point status", "path", path, "mount_point", isMount)
}
