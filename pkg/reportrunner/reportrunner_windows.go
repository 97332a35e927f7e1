//go:build windows

package reportrunner

import (
	"context"
	"os/exec"

	"golang.org/x/sys/windows"
)

func (r *Runner) createCommand(ctx context.Context, p *Plan) *exec.Cmd {
	cmd := r.commandContext(ctx, p.Executable, p.ConfigFile)
	cmd.SysProcAttr = &windows.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
	return cmd
}
