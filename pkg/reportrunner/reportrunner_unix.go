//go:build !windows

package reportrunner

import (
	"context"
	"os/exec"

	"golang.org/x/sys/unix"
)

func (r *Runner) createCommand(ctx context.Context, p *Plan) *exec.Cmd {
	cmd := r.commandContext(ctx, p.Executable, p.ConfigFile)
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
	return cmd
}
