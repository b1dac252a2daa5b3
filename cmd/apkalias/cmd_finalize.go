package main

import (
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kingrea/apkalias/internal/finalizers/copyapk"
	"github.com/kingrea/apkalias/internal/hook"
)

// manualStage is the pseudo-stage completed by `apkalias run`.
const manualStage = "manual"

func (c *cli) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Copy matching artifacts right now",
		Long:  "Runs the copy step once, outside of any build stage. Exits non-zero when a file could not be copied.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.load(copyapk.WithOutput(cmd.OutOrStdout()))
			if err != nil {
				return err
			}
			if err := p.registry.FinalizedBy(manualStage, copyapk.ID); err != nil {
				return err
			}
			runs := p.registry.Complete(cmd.Context(), p.hctx.ForStage("", manualStage), manualStage)
			reportRuns(cmd.ErrOrStderr(), c.logger.Zap(), runs)
			if len(runs) == 0 {
				return fmt.Errorf("run: %s is not registered", copyapk.ID)
			}
			result := runs[0].Result
			if result.Status == hook.StatusFailed {
				return fmt.Errorf("run: %s", result.Message)
			}
			if result.Status == hook.StatusNoOp {
				fmt.Fprintln(cmd.ErrOrStderr(), "No matching artifacts found.")
			}
			return nil
		},
	}
}

// finalizeCmd is what the Gradle finalizedBy task invokes. It never fails
// the build: every problem is reported and the exit status stays zero.
func (c *cli) finalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <stage>",
		Short: "Run the finalizers bound to a completed build stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage := strings.TrimSpace(args[0])
			p, err := c.load(copyapk.WithOutput(cmd.OutOrStdout()))
			if err != nil {
				c.logger.Zap().Error("finalize skipped", zap.String("stage", stage), zap.Error(err))
				fmt.Fprintf(cmd.ErrOrStderr(), "apkalias: finalize %s skipped: %v\n", stage, err)
				return nil
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			runs := p.registry.Complete(ctx, p.hctx.ForStage("", "cli"), stage)
			if len(runs) == 0 {
				c.logger.Zap().Debug("stage has no finalizers", zap.String("stage", stage))
			}
			reportRuns(cmd.ErrOrStderr(), c.logger.Zap(), runs)
			return nil
		},
	}
}

// reportRuns logs each run with extra appended to its fields and prints
// failures to w.
func reportRuns(w io.Writer, log *zap.Logger, runs []hook.Run, extra ...zap.Field) {
	for _, run := range runs {
		fields := []zap.Field{
			zap.String("stage", run.Stage),
			zap.String("finalizer", run.Finalizer),
			zap.String("trigger", run.Trigger),
			zap.String("status", string(run.Result.Status)),
			zap.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)),
		}
		fields = append(fields, extra...)
		if run.Err != nil {
			log.Error("finalizer error", append(fields, zap.Error(run.Err))...)
		} else {
			log.Info("finalizer run", fields...)
		}
		if run.Result.Status == hook.StatusFailed {
			fmt.Fprintf(w, "apkalias: %s after %s: %s\n", run.Finalizer, run.Stage, run.Result.Message)
		}
	}
}
