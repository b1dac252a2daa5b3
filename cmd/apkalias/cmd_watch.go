package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kingrea/apkalias/internal/finalizers/copyapk"
	"github.com/kingrea/apkalias/internal/renamer"
	"github.com/kingrea/apkalias/internal/tui"
	"github.com/kingrea/apkalias/internal/watch"
)

// watchStage is the pseudo-stage completed whenever new artifacts settle.
const watchStage = "watch"

func (c *cli) watchCmd() *cobra.Command {
	var dashboard bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Copy new artifacts as soon as they appear in the output directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var feed *tui.Feed
			opts := []copyapk.Option{copyapk.WithOutput(cmd.OutOrStdout())}
			if dashboard {
				feed = tui.NewFeed()
				opts = []copyapk.Option{
					copyapk.WithOutput(io.Discard),
					copyapk.WithObserver(func(stage string, o renamer.Outcome) {
						feed.Outcome(stage, o)
					}),
				}
			}
			p, err := c.load(opts...)
			if err != nil {
				return err
			}
			if err := p.registry.FinalizedBy(watchStage, copyapk.ID); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			watchCtx := p.hctx.ForStage("", "watch")
			w, err := watch.New(p.cfg.CandidateDirs(), p.cfg.Extension(), p.cfg.Prefix(),
				func(ctx context.Context, paths []string) {
					if feed != nil {
						feed.Statusf("%d new artifact(s) settled", len(paths))
					}
					runs := p.registry.Complete(ctx, watchCtx, watchStage)
					reportRuns(cmd.ErrOrStderr(), c.logger.Zap(), runs)
				},
				watch.WithDebounce(p.cfg.Debounce()),
				watch.WithLogger(c.logger.Zap()),
			)
			if err != nil {
				return err
			}
			if err := w.Start(ctx); err != nil {
				return err
			}
			defer func() {
				if err := w.Stop(); err != nil {
					c.logger.Zap().Warn("watcher stop", zap.Error(err))
				}
			}()

			if feed == nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Watching %d output directories under %s (ctrl+c to stop)\n",
					len(p.cfg.CandidateDirs()), p.cfg.BuildDir())
				<-ctx.Done()
				return nil
			}
			defer feed.Close()
			feed.Statusf("watching %d output directories under %s", len(p.cfg.CandidateDirs()), p.cfg.BuildDir())
			err = tui.Run(ctx, tui.NewDashboard("apkalias watch", feed))
			stop()
			return err
		},
	}
	cmd.Flags().BoolVar(&dashboard, "tui", false, "show a live terminal dashboard")
	return cmd
}
