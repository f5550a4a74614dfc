package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ogurasousui/directory-sync/internal/adapters/grpc/handler"
	"github.com/ogurasousui/directory-sync/internal/core/reconcile"
	"github.com/ogurasousui/directory-sync/internal/platform/scheduler"
	"github.com/ogurasousui/directory-sync/internal/platform/server"
)

func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run synchronizations on a schedule and expose gRPC control, health and metrics endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			ctx := cmd.Context()

			c, err := a.build(ctx, false)
			if err != nil {
				return err
			}
			defer c.Close()

			srv := server.New(a.cfg.Server.ListenAddr, a.cfg.Server.MetricsAddr, c.metrics.Handler())
			syncHandler := handler.NewSyncGrpcHandler(c.engine, func(summary *reconcile.Summary, err error) {
				if errors.Is(err, reconcile.ErrRunInProgress) {
					a.logger.Warn().Msg("sync skipped: previous run still in progress")
					return
				}
				logSummary(a.logger, summary, err)
				srv.SetServing(err == nil)
			})
			srv.RegisterService(&handler.SyncServiceDesc, syncHandler)

			sched, err := scheduler.New(scheduler.Spec{
				Interval:   a.cfg.Schedule.Interval,
				Cron:       a.cfg.Schedule.Cron,
				RunOnStart: *a.cfg.Schedule.RunOnStart,
			}, func(ctx context.Context) error {
				_, err := syncHandler.RunOnce(ctx)
				return err
			}, a.logger)
			if err != nil {
				return err
			}

			a.logger.Info().
				Str("listen_addr", a.cfg.Server.ListenAddr).
				Str("metrics_addr", a.cfg.Server.MetricsAddr).
				Msg("directory-sync serving")

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(gctx) })
			g.Go(func() error { return sched.Run(gctx) })
			return g.Wait()
		},
	}
}
