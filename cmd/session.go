package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/papapumpkin/kiln/internal/buildstate"
	"github.com/papapumpkin/kiln/internal/config"
	"github.com/papapumpkin/kiln/internal/describe"
	"github.com/papapumpkin/kiln/internal/engine"
	"github.com/papapumpkin/kiln/internal/filereg"
	"github.com/papapumpkin/kiln/internal/journal"
	"github.com/papapumpkin/kiln/internal/opgraph"
	"github.com/papapumpkin/kiln/internal/report"
)

// newLogger builds the process logger from configuration.
func newLogger(cfg config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// setupSignalContext returns a context that is canceled on SIGINT or SIGTERM.
func setupSignalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("interrupted, letting running operations finish")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// loadSetup loads config and the logger for a subcommand.
func loadSetup(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

// builder runs passes over a fixed set of description documents. The
// journal and the metrics registry live across passes in watch mode.
type builder struct {
	cfg     config.Config
	logger  *slog.Logger
	docs    []string
	out     io.Writer
	color   bool
	journal *journal.Journal
	metrics *engine.Metrics
	gather  prometheus.Gatherer
}

func newBuilder(ctx context.Context, cmd *cobra.Command, cfg config.Config, logger *slog.Logger, docs []string) (*builder, error) {
	abs := make([]string, len(docs))
	for i, d := range docs {
		p, err := filepath.Abs(d)
		if err != nil {
			return nil, err
		}
		abs[i] = p
	}
	noColor, _ := cmd.Flags().GetBool("no-color")

	reg := prometheus.NewRegistry()
	b := &builder{
		cfg:     cfg,
		logger:  logger,
		docs:    abs,
		out:     cmd.OutOrStdout(),
		color:   !noColor,
		metrics: engine.NewMetrics(reg),
		gather:  reg,
	}
	if cfg.Journal != "" {
		j, err := journal.Open(ctx, cfg.Journal)
		if err != nil {
			return nil, err
		}
		b.journal = j
	}
	return b, nil
}

func (b *builder) Close() error {
	if b.journal == nil {
		return nil
	}
	return b.journal.Close()
}

// pass loads the persisted state, rebuilds the graph from the documents and
// runs one evaluation pass. It returns the graph it ran so watch mode can
// pick the files to observe.
func (b *builder) pass(ctx context.Context) (*engine.Report, *opgraph.Graph, *filereg.Registry, error) {
	st, _ := buildstate.Load(b.cfg.StateDir, filereg.OSFileSystem{}, b.logger)

	descs, err := describe.Collect(ctx, describe.DocumentProvider{Paths: b.docs})
	if err != nil {
		return nil, nil, nil, err
	}
	g, err := describe.Build(descs, st.Registry, st.Graph)
	if err != nil {
		return nil, nil, nil, err
	}

	opts := []engine.Option{
		engine.WithExecutor(engine.ProcessExecutor{}),
		engine.WithWorkers(b.cfg.Workers),
		engine.WithLogger(b.logger),
		engine.WithMetrics(b.metrics),
		engine.WithStore(buildstate.Saver{Dir: b.cfg.StateDir}),
	}
	if b.journal != nil {
		opts = append(opts, engine.WithRecorder(b.journal))
	}

	r, runErr := engine.New(st.Registry, g, st.History, opts...).Run(ctx)
	if r != nil {
		if err := report.WriteSummary(b.out, r, report.Options{Color: b.color}); err != nil {
			b.logger.Warn("writing summary", slog.Any("error", err))
		}
	}
	if b.cfg.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(b.cfg.MetricsFile, b.gather); err != nil {
			b.logger.Warn("writing metrics file", slog.String("path", b.cfg.MetricsFile), slog.Any("error", err))
		}
	}
	return r, g, st.Registry, runErr
}

// sourceFiles lists the files a watch should observe: every declared input
// that no operation produces, plus the description documents.
func (b *builder) sourceFiles(g *opgraph.Graph, reg *filereg.Registry) []string {
	produced := make(map[filereg.FileID]bool)
	for _, id := range g.IDs() {
		for _, out := range g.Operation(id).DeclaredOutputs {
			produced[out] = true
		}
	}

	seen := make(map[filereg.FileID]bool)
	files := append([]string(nil), b.docs...)
	for _, id := range g.IDs() {
		for _, in := range g.Operation(id).DeclaredInputs {
			if produced[in] || seen[in] {
				continue
			}
			seen[in] = true
			files = append(files, reg.MustPath(in))
		}
	}
	return files
}
