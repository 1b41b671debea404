//go:build windows

package portprobe

import (
	"context"
	"os/exec"
	"syscall"
)

func lookup(ctx context.Context, run Runner, port int) (int, bool) {
	out, err := run(ctx, "netstat", "-ano", "-p", "TCP")
	if err != nil {
		return 0, false
	}
	return ParseNetstat(string(out), port)
}

func hideWindow(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
}
