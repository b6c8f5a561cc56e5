package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/papapumpkin/kiln/internal/filereg"
	"github.com/papapumpkin/kiln/internal/history"
	"github.com/papapumpkin/kiln/internal/opgraph"
)

// Recorder receives pass and operation outcomes, e.g. a run journal.
// Recorder failures are logged and never fail the pass.
type Recorder interface {
	BeginPass(ctx context.Context, passID string, started time.Time, operations int) error
	RecordOutcome(ctx context.Context, passID string, o Outcome) error
	FinishPass(ctx context.Context, r *Report) error
}

// Store persists the three stores at the end of a pass.
type Store interface {
	Save(reg *filereg.Registry, g *opgraph.Graph, h *history.History) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithExecutor sets the executor. Required before calling Run.
func WithExecutor(x Executor) Option {
	return func(e *Engine) { e.executor = x }
}

// WithWorkers sets the maximum number of concurrent executions.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithLogger sets the logger. Nil means slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics enables metrics collection.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRecorder sets a recorder for pass outcomes.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithStore sets where stores are persisted after each pass.
func WithStore(s Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithClock overrides time.Now for evaluate times and durations.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}
