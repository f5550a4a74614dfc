package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ogurasousui/directory-sync/internal/core/reconcile"
)

func (a *app) runCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single synchronization and exit",
		Example: `  directory-sync run
  directory-sync run --dry-run --log-level debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			ctx := cmd.Context()

			c, err := a.build(ctx, dryRun)
			if err != nil {
				return err
			}
			defer c.Close()

			summary, err := c.engine.Run(ctx)
			logSummary(a.logger, summary, err)
			return err
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute changes without writing to the target")
	return cmd
}

func logSummary(logger zerolog.Logger, summary *reconcile.Summary, err error) {
	if err != nil {
		logger.Error().Err(err).Msg("sync failed")
		return
	}
	logger.Info().EmbedObject(summary).Msg("sync completed")
}
