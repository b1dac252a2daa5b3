package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/apkalias/internal/config"
	"github.com/kingrea/apkalias/internal/eventbridge"
	"github.com/kingrea/apkalias/internal/finalizers/copyapk"
	"github.com/kingrea/apkalias/internal/hook"
)

const shutdownTimeout = 5 * time.Second

func (c *cli) notifyCmd() *cobra.Command {
	var (
		url     string
		outcome string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "notify <stage>",
		Short: "Tell a running bridge that a build stage finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfig(c.projectDir)
			if err != nil {
				return err
			}
			base := strings.TrimSpace(url)
			if base == "" {
				base = eventbridge.SettingsFromConfig(cfg).URL()
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			evt := eventbridge.StageFinished(args[0], cfg.BuildDir(), outcome)
			if err := eventbridge.NewClient(base).Notify(ctx, evt); err != nil {
				return err
			}
			c.logger.Zap().Info("stage event sent",
				zap.String("stage", evt.Stage),
				zap.String("event_id", evt.EventID),
				zap.String("bridge", base))
			fmt.Fprintf(cmd.OutOrStdout(), "Notified %s: %s finished\n", base, strings.TrimSpace(args[0]))
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "bridge base URL (default: from config)")
	cmd.Flags().StringVar(&outcome, "outcome", "success", "reported stage outcome (success or failure)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP bridge that finalizes stages reported via POST /events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.load(copyapk.WithOutput(cmd.OutOrStdout()))
			if err != nil {
				return err
			}
			settings := eventbridge.SettingsFromConfig(p.cfg)
			if !settings.Enabled {
				return errors.New("serve: bridge is disabled (bridge.enabled / APKALIAS_BRIDGE_ENABLED)")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			router := eventbridge.NewRouter(eventbridge.RouterWithLogger(c.logger))
			server := eventbridge.NewServer(settings,
				eventbridge.WithProcessor(router),
				eventbridge.WithLogger(c.logger),
				eventbridge.WithStages(p.registry.Stages()),
				eventbridge.WithRunSource(p.hctx.Artifacts))
			if err := server.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "apkalias bridge listening on %s\n", server.BaseURL())

			handle := p.bridgeHandler(cmd.ErrOrStderr(), c.logger.Zap())
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				eventbridge.Dispatch(gctx, router, p.registry.Stages(), handle)
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("serve: shutdown: %w", err)
				}
				return nil
			})
			return g.Wait()
		},
	}
}

// bridgeHandler completes the stage named by each finished event. The
// event's build_dir replaces the configured build root for that run only.
func (p *project) bridgeHandler(w io.Writer, log *zap.Logger) eventbridge.StageHandler {
	return func(ctx context.Context, evt eventbridge.Event) {
		hctx := p.hctx.ForStage("", "bridge")
		hctx.Outcome = evt.Outcome
		if evt.BuildDir != "" {
			hctx.Overrides = hook.Config{"build_dir": evt.BuildDir}
		}
		fields := []zap.Field{
			zap.String("event_id", evt.EventID),
			zap.String("outcome", evt.Outcome),
			zap.String("build_dir", evt.BuildDir),
		}
		log.Info("stage event", append([]zap.Field{zap.String("stage", evt.Stage)}, fields...)...)
		reportRuns(w, log, p.registry.Complete(ctx, hctx, evt.Stage), fields...)
	}
}
