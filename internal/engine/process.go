package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// ProcessExecutor runs commands through the platform shell in their working
// directory, each in its own session. It does not intercept file access, so
// results are never Monitored.
type ProcessExecutor struct {
	// Env is appended to the current environment.
	Env []string
}

// Execute runs req.Command and captures its output.
func (p ProcessExecutor) Execute(ctx context.Context, req ExecRequest) (ExecResult, error) {
	line := req.Command.String()
	cmd := shellCommand(ctx, line)
	cmd.Dir = req.Command.WorkingDirectory
	cmd.SysProcAttr = sessionAttr()
	cmd.Env = append(os.Environ(), p.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return res, nil
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	default:
		res.ExitCode = -1
		return res, fmt.Errorf("launching %q in %s: %w", line, req.Command.WorkingDirectory, err)
	}
}
