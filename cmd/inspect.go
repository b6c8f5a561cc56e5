package cmd

import (
	"github.com/spf13/cobra"

	"github.com/papapumpkin/kiln/internal/buildstate"
	"github.com/papapumpkin/kiln/internal/filereg"
	"github.com/papapumpkin/kiln/internal/report"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the persisted operation graph",
	Args:  cobra.NoArgs,
	RunE:  runGraph,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the persisted execution results",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete the persisted build state so the next build runs everything",
	Args:  cobra.NoArgs,
	RunE:  runClean,
}

func init() {
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(cleanCmd)
}

func runGraph(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadSetup(cmd)
	if err != nil {
		return err
	}
	st, _ := buildstate.Load(cfg.StateDir, filereg.OSFileSystem{}, logger)
	return report.WriteGraph(cmd.OutOrStdout(), st.Graph, st.Registry)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadSetup(cmd)
	if err != nil {
		return err
	}
	st, _ := buildstate.Load(cfg.StateDir, filereg.OSFileSystem{}, logger)
	return report.WriteHistory(cmd.OutOrStdout(), st.History, st.Graph)
}

func runClean(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadSetup(cmd)
	if err != nil {
		return err
	}
	return buildstate.Clean(cfg.StateDir)
}
