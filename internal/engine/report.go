package engine

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/papapumpkin/kiln/internal/opgraph"
)

// ErrBuildFailed is returned by Run when at least one operation failed.
var ErrBuildFailed = errors.New("build failed")

// ErrNoExecutor is returned by Run when no Executor was configured.
var ErrNoExecutor = errors.New("no executor configured")

// Status is the terminal state of an operation within one pass.
type Status string

const (
	// StatusPending means the operation was never reached, e.g. after cancellation.
	StatusPending Status = "pending"
	// StatusSkipped means the operation was up to date.
	StatusSkipped Status = "skipped"
	// StatusSucceeded means the operation ran and exited zero.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the operation ran and failed, or could not be launched.
	StatusFailed Status = "failed"
	// StatusBlocked means a dependency failed so the operation was not run.
	StatusBlocked Status = "blocked"
)

// OperationError describes one failed operation.
type OperationError struct {
	ID       opgraph.OperationID
	Title    string
	ExitCode int
	Err      error
}

// Error returns the operation and the failure.
func (e *OperationError) Error() string {
	return fmt.Sprintf("operation %d (%s): %v", e.ID, e.Title, e.Err)
}

// Unwrap returns the underlying error.
func (e *OperationError) Unwrap() error {
	return e.Err
}

// Outcome is what happened to one operation during a pass.
type Outcome struct {
	ID       opgraph.OperationID
	Title    string
	Status   Status
	ExitCode int
	Duration time.Duration
	Stdout   string
	Stderr   string
	Err      error
}

// Report summarizes one pass. Outcomes are in the order operations reached
// their terminal state.
type Report struct {
	PassID   string
	Started  time.Time
	Finished time.Time
	Outcomes []Outcome
}

// Count returns how many operations ended with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Executed returns the ids of operations that ran, in completion order.
func (r *Report) Executed() []opgraph.OperationID {
	var ids []opgraph.OperationID
	for _, o := range r.Outcomes {
		if o.Status == StatusSucceeded || o.Status == StatusFailed {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

// Outcome returns the outcome for id.
func (r *Report) Outcome(id opgraph.OperationID) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.ID == id {
			return o, true
		}
	}
	return Outcome{}, false
}

// Sorted returns the outcomes ordered by operation id.
func (r *Report) Sorted() []Outcome {
	out := make([]Outcome, len(r.Outcomes))
	copy(out, r.Outcomes)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
