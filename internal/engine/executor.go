package engine

import (
	"context"

	"github.com/papapumpkin/kiln/internal/opgraph"
)

// ExecRequest is what the engine hands to an Executor for one operation.
// File lists are absolute paths.
type ExecRequest struct {
	Title       string
	Command     opgraph.CommandIdentity
	Inputs      []string
	Outputs     []string
	ReadAccess  []string
	WriteAccess []string
}

// ExecResult is what an Executor reports back. ObservedReads and
// ObservedWrites are only meaningful when Monitored is true; relative paths
// are resolved against the command's working directory.
type ExecResult struct {
	ExitCode       int
	Stdout         string
	Stderr         string
	Monitored      bool
	ObservedReads  []string
	ObservedWrites []string
}

// Executor runs one operation's command. A non-nil error means the command
// could not be run at all; a command that ran and failed reports a non-zero
// ExitCode with a nil error.
type Executor interface {
	Execute(ctx context.Context, req ExecRequest) (ExecResult, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, req ExecRequest) (ExecResult, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, req ExecRequest) (ExecResult, error) {
	return f(ctx, req)
}
