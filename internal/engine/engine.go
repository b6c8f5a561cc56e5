// Package engine evaluates an operation graph: it walks operations in
// dependency order, skips those whose outputs are up to date, executes the
// rest through an Executor and records the results.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/papapumpkin/kiln/internal/filereg"
	"github.com/papapumpkin/kiln/internal/history"
	"github.com/papapumpkin/kiln/internal/opgraph"
	"github.com/papapumpkin/kiln/internal/staleness"
)

// Engine owns the registry, graph and history for the duration of a pass.
type Engine struct {
	files   *filereg.Registry
	graph   *opgraph.Graph
	history *history.History
	oracle  *staleness.Oracle

	executor Executor
	workers  int
	logger   *slog.Logger
	metrics  *Metrics
	recorder Recorder
	store    Store
	now      func() time.Time
}

// New creates an Engine over the given stores.
func New(files *filereg.Registry, graph *opgraph.Graph, hist *history.History, opts ...Option) *Engine {
	e := &Engine{
		files:   files,
		graph:   graph,
		history: hist,
		workers: 1,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.workers <= 0 {
		e.workers = 1
	}
	e.oracle = staleness.New(files, e.logger)
	return e
}

// completion carries a worker's result back to the dispatch loop.
type completion struct {
	outcome  Outcome
	executed bool
	result   history.Result
}

// Run performs one evaluation pass.
//
// An invalid graph aborts before anything runs. Otherwise every operation
// reaches a terminal state: skipped, succeeded, failed, or blocked behind a
// failure. Independent operations keep running after a failure; the error
// wraps ErrBuildFailed and each OperationError once the pass drains. Stores
// are persisted whether or not the pass failed.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	if e.executor == nil {
		return nil, ErrNoExecutor
	}
	if err := e.graph.Validate(); err != nil {
		return nil, fmt.Errorf("invalid operation graph: %w", err)
	}

	report := &Report{PassID: uuid.NewString(), Started: e.now()}
	logger := e.logger.With(slog.String("pass", report.PassID[:8]))
	logger.Info("pass started",
		slog.Int("operations", e.graph.Len()),
		slog.Int("workers", e.workers),
	)
	if e.recorder != nil {
		if err := e.recorder.BeginPass(ctx, report.PassID, report.Started, e.graph.Len()); err != nil {
			logger.Warn("recording pass start failed", slog.Any("error", err))
		}
	}

	// Write times from an earlier pass in this process may be stale.
	e.files.InvalidateWriteTimes(e.graph.Files())
	e.files.InvalidateWriteTimes(e.history.Files())

	s := newScheduler(e.graph)
	sem := semaphore.NewWeighted(int64(e.workers))
	completionCh := make(chan completion, e.graph.Len())
	active := 0

	for {
		for ctx.Err() == nil && s.hasReady() && sem.TryAcquire(1) {
			id := s.pop()
			active++
			go func(id opgraph.OperationID) {
				c := e.evaluate(ctx, logger, id)
				sem.Release(1)
				completionCh <- c
			}(id)
		}
		if active == 0 {
			break
		}
		c := <-completionCh
		active--
		e.settle(ctx, logger, s, report, c)
	}

	for _, id := range s.unfinished() {
		e.finish(ctx, logger, report, Outcome{ID: id, Title: e.graph.Operation(id).Title, Status: StatusPending})
	}
	report.Finished = e.now()

	if n := e.history.Prune(func(id opgraph.OperationID) bool { return e.graph.Operation(id) != nil }); n > 0 {
		logger.Debug("pruned results of removed operations", slog.Int("count", n))
	}

	var failures []error
	for _, o := range report.Outcomes {
		if o.Err != nil {
			failures = append(failures, o.Err)
		}
	}

	var errs []error
	if len(failures) > 0 {
		errs = append(errs, fmt.Errorf("%w: %d of %d operations failed", ErrBuildFailed, len(failures), e.graph.Len()))
		errs = append(errs, failures...)
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	if e.store != nil {
		if err := e.store.Save(e.files, e.graph, e.history); err != nil {
			errs = append(errs, fmt.Errorf("persisting build state: %w", err))
		}
	}

	e.metrics.pass(len(failures) > 0)
	if e.recorder != nil {
		// A cancelled pass is still journaled.
		if err := e.recorder.FinishPass(context.WithoutCancel(ctx), report); err != nil {
			logger.Warn("recording pass finish failed", slog.Any("error", err))
		}
	}
	logger.Info("pass finished",
		slog.Int("succeeded", report.Count(StatusSucceeded)),
		slog.Int("skipped", report.Count(StatusSkipped)),
		slog.Int("failed", report.Count(StatusFailed)),
		slog.Int("blocked", report.Count(StatusBlocked)),
		slog.Duration("elapsed", report.Finished.Sub(report.Started)),
	)
	return report, errors.Join(errs...)
}

// settle applies a completion. It runs on the dispatch loop only.
func (e *Engine) settle(ctx context.Context, logger *slog.Logger, s *scheduler, report *Report, c completion) {
	id := c.outcome.ID
	if c.executed {
		e.history.Record(id, c.result)
		op := e.graph.Operation(id)
		op.WasSuccessfulRun = c.result.WasSuccessful
		op.EvaluateTime = c.result.EvaluateTime
		op.ObservedInputs = c.result.ObservedInputs
		op.ObservedOutputs = c.result.ObservedOutputs
	}
	e.finish(ctx, logger, report, c.outcome)

	for _, b := range s.complete(id, c.outcome.Status) {
		title := e.graph.Operation(b).Title
		logger.Warn("not running, a dependency failed",
			slog.Uint64("op", uint64(b)),
			slog.String("title", title),
			slog.Uint64("failed_op", uint64(id)),
		)
		e.finish(ctx, logger, report, Outcome{ID: b, Title: title, Status: StatusBlocked})
	}
}

func (e *Engine) finish(ctx context.Context, logger *slog.Logger, report *Report, o Outcome) {
	report.Outcomes = append(report.Outcomes, o)
	e.metrics.observe(o)
	if e.recorder != nil {
		if err := e.recorder.RecordOutcome(context.WithoutCancel(ctx), report.PassID, o); err != nil {
			logger.Warn("recording outcome failed", slog.Uint64("op", uint64(o.ID)), slog.Any("error", err))
		}
	}
}

// evaluate decides whether an operation must run and runs it. It is called
// on a worker goroutine and touches only the registry and history, which
// are synchronized, plus its own operation.
func (e *Engine) evaluate(ctx context.Context, logger *slog.Logger, id opgraph.OperationID) completion {
	op := e.graph.Operation(id)
	log := logger.With(slog.Uint64("op", uint64(id)), slog.String("title", op.Title))

	inputs, outputs := op.DeclaredInputs, op.DeclaredOutputs
	prev, hasHistory := e.history.Get(id)
	if hasHistory {
		inputs = union(prev.ObservedInputs, op.DeclaredInputs)
		outputs = union(prev.ObservedOutputs, op.DeclaredOutputs)
	}
	e.files.EnsureWriteTimes(union(inputs, outputs))

	switch {
	case !hasHistory:
		log.Info("no recorded result, executing")
	case !prev.WasSuccessful:
		log.Info("last execution failed, executing")
	case e.oracle.IsOutdated(outputs, inputs):
		log.Info("outdated, executing")
	default:
		log.Info("up to date")
		return completion{outcome: Outcome{ID: id, Title: op.Title, Status: StatusSkipped}}
	}
	return e.execute(ctx, log, op)
}

func (e *Engine) execute(ctx context.Context, log *slog.Logger, op *opgraph.Operation) completion {
	req := ExecRequest{
		Title:       op.Title,
		Command:     op.Command,
		Inputs:      e.paths(op.DeclaredInputs),
		Outputs:     e.paths(op.DeclaredOutputs),
		ReadAccess:  e.paths(op.ReadAccess),
		WriteAccess: e.paths(op.WriteAccess),
	}
	log.Debug("executing", slog.String("command", op.Command.String()), slog.String("dir", op.Command.WorkingDirectory))

	start := e.now()
	res, err := e.executor.Execute(ctx, req)
	elapsed := e.now().Sub(start)

	observedIn, observedOut := op.DeclaredInputs, op.DeclaredOutputs
	if res.Monitored {
		observedIn = e.intern(res.ObservedReads, op.Command.WorkingDirectory)
		observedOut = e.intern(res.ObservedWrites, op.Command.WorkingDirectory)
		e.audit(log, op, observedOut)
	}
	// Dependents evaluated later in this pass must see what was just written.
	e.files.ProbeWriteTimes(union(observedOut, op.DeclaredOutputs))

	if err == nil && res.ExitCode != 0 {
		err = fmt.Errorf("exit code %d", res.ExitCode)
	}
	if err != nil && res.ExitCode == 0 {
		res.ExitCode = -1
	}

	outcome := Outcome{
		ID:       op.ID,
		Title:    op.Title,
		Status:   StatusSucceeded,
		ExitCode: res.ExitCode,
		Duration: elapsed,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}
	if err != nil {
		outcome.Status = StatusFailed
		outcome.Err = &OperationError{ID: op.ID, Title: op.Title, ExitCode: res.ExitCode, Err: err}
		log.Error("operation failed",
			slog.Int("exit_code", res.ExitCode),
			slog.Any("error", err),
			slog.String("stderr", res.Stderr),
		)
	} else {
		log.Info("operation succeeded", slog.Duration("elapsed", elapsed))
	}

	return completion{
		outcome:  outcome,
		executed: true,
		result: history.Result{
			WasSuccessful:   err == nil,
			EvaluateTime:    start.UTC().Truncate(time.Millisecond),
			ObservedInputs:  observedIn,
			ObservedOutputs: observedOut,
		},
	}
}

// audit warns when observed writes disagree with the declared outputs and
// the write allow-list.
func (e *Engine) audit(log *slog.Logger, op *opgraph.Operation, written []filereg.FileID) {
	allowed := make(map[filereg.FileID]bool)
	for _, id := range union(op.DeclaredOutputs, op.WriteAccess) {
		allowed[id] = true
	}
	wrote := make(map[filereg.FileID]bool, len(written))
	for _, id := range written {
		wrote[id] = true
		if !allowed[id] {
			log.Warn("undeclared write", slog.String("path", e.files.MustPath(id)))
		}
	}
	for _, id := range op.DeclaredOutputs {
		if !wrote[id] {
			log.Warn("declared output was not written", slog.String("path", e.files.MustPath(id)))
		}
	}
}

func (e *Engine) paths(ids []filereg.FileID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = e.files.MustPath(id)
	}
	return out
}

func (e *Engine) intern(paths []string, wd string) []filereg.FileID {
	var ids []filereg.FileID
	for _, p := range paths {
		ids = append(ids, e.files.Intern(p, wd))
	}
	return union(ids, nil)
}

// union returns the distinct ids of a followed by those of b, in order.
func union(a, b []filereg.FileID) []filereg.FileID {
	if len(a)+len(b) == 0 {
		return nil
	}
	seen := make(map[filereg.FileID]bool, len(a)+len(b))
	out := make([]filereg.FileID, 0, len(a)+len(b))
	for _, set := range [][]filereg.FileID{a, b} {
		for _, id := range set {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}
