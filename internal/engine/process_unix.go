//go:build !windows

package engine

import (
	"context"
	"os/exec"
	"syscall"
)

// sessionAttr places the command in its own session, detached from the
// parent's controlling terminal.
func sessionAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

func shellCommand(ctx context.Context, line string) *exec.Cmd {
	return exec.CommandContext(ctx, "/bin/sh", "-c", line)
}
