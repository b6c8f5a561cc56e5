package cmd

import (
	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build <descriptions.toml>...",
	Short: "Run one incremental build pass",
	Long:  "Build loads the operations described in the given TOML documents, runs the ones that are outdated and records the results in the state directory.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
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

	_, _, _, err = b.pass(ctx)
	return err
}
