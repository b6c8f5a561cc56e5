package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/kiln/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch <descriptions.toml>...",
	Short: "Rebuild whenever a source file changes",
	Long:  "Watch runs a build pass, then runs another one each time a declared input that no operation produces, or a description document, changes.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadSetup(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := setupSignalContext(logger)
	defer cancel()

	b, err := newBuilder(ctx, cmd, cfg, logger, args)
	if err != nil {
		return err
	}
	defer b.Close()

	w, err := watch.New(cfg.WatchDebounce, logger)
	if err != nil {
		return err
	}
	w.Start()
	defer w.Stop()

	rebuild := func(ctx context.Context, changed []string) {
		if len(changed) > 0 {
			logger.Info("sources changed", slog.Any("files", changed))
		}
		_, g, reg, err := b.pass(ctx)
		if err != nil {
			logger.Error("pass failed", slog.Any("error", err))
		}
		// A pass that could not build a graph keeps watching the documents
		// so fixing them triggers the next attempt.
		files := b.docs
		if g != nil {
			files = b.sourceFiles(g, reg)
		}
		w.SetFiles(files)
	}

	rebuild(ctx, nil)
	err = watch.Run(ctx, w, rebuild)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
