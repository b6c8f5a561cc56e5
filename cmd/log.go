package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/kiln/internal/journal"
	"github.com/papapumpkin/kiln/internal/report"
)

var logCmd = &cobra.Command{
	Use:   "log [pass-id]",
	Short: "List recent passes, or the outcomes of one pass",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLog,
}

func init() {
	logCmd.Flags().IntP("limit", "n", 10, "passes to list, 0 for all")
	rootCmd.AddCommand(logCmd)
}

func runLog(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadSetup(cmd)
	if err != nil {
		return err
	}
	if cfg.Journal == "" {
		return errors.New("the journal is disabled (journal is empty in the configuration)")
	}

	ctx := cmd.Context()
	j, err := journal.Open(ctx, cfg.Journal)
	if err != nil {
		return err
	}
	defer j.Close()

	if len(args) == 1 {
		entries, err := j.Entries(ctx, args[0])
		if err != nil {
			return err
		}
		noColor, _ := cmd.Flags().GetBool("no-color")
		return report.WriteEntries(cmd.OutOrStdout(), entries, report.Options{Color: !noColor})
	}

	limit, _ := cmd.Flags().GetInt("limit")
	passes, err := j.Passes(ctx, limit)
	if err != nil {
		return err
	}
	return report.WritePasses(cmd.OutOrStdout(), passes)
}
