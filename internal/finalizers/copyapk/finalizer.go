package copyapk

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/kingrea/apkalias/internal/artifact"
	"github.com/kingrea/apkalias/internal/hook"
	"github.com/kingrea/apkalias/internal/renamer"
)

const (
	// ID is the registry identifier of the finalizer.
	ID      = "copy-apk-with-custom-name"
	version = "1.0.0"
)

// Option customizes the finalizer.
type Option func(*Finalizer)

// WithOutput redirects console lines (stdout by default).
func WithOutput(w io.Writer) Option {
	return func(f *Finalizer) {
		f.out = w
	}
}

// WithObserver receives every per-file outcome as it happens.
func WithObserver(fn func(stage string, o renamer.Outcome)) Option {
	return func(f *Finalizer) {
		f.observer = fn
	}
}

// Finalizer copies matching artifacts to their prefixed names.
type Finalizer struct {
	cfg      hook.Config
	out      io.Writer
	observer func(stage string, o renamer.Outcome)
}

// Register installs the finalizer factory.
func Register(reg *hook.Registry, opts ...Option) {
	if reg == nil {
		return
	}
	reg.MustRegister(ID, func(cfg hook.Config) (hook.Finalizer, error) {
		return New(cfg, opts...), nil
	})
}

// New constructs the finalizer. cfg may carry per-call overrides for
// prefix, extension, build_dir and candidate_dirs.
func New(cfg hook.Config, opts ...Option) *Finalizer {
	f := &Finalizer{cfg: cfg, out: os.Stdout}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Info implements hook.Finalizer.
func (f *Finalizer) Info() hook.Info {
	return hook.Info{
		ID:          ID,
		Name:        "Copy APK with custom name",
		Description: "Copies produced APKs to a prefixed file name while keeping the originals.",
		Version:     version,
	}
}

// Run implements hook.Finalizer. Per-file failures are reported through the
// Result; the returned error is reserved for a missing context.
func (f *Finalizer) Run(ctx *hook.Context) (hook.Result, error) {
	if ctx == nil || ctx.Config == nil {
		return hook.Result{Status: hook.StatusFailed}, fmt.Errorf("copyapk: context has no config")
	}
	cfg := *ctx.Config
	if len(f.cfg) > 0 {
		if err := cfg.ApplyOverrides(f.cfg); err != nil {
			return hook.Result{Status: hook.StatusFailed, Message: err.Error()}, nil
		}
	}
	log := ctx.Logger.Zap().With(
		zap.String("finalizer", ID),
		zap.String("stage", ctx.Stage),
		zap.String("trigger", ctx.Trigger),
		zap.String("outcome", ctx.Outcome),
		zap.String("build_dir", cfg.BuildDir()),
	)

	var manifest artifact.Manifest
	if ctx.Artifacts != nil {
		manifest = ctx.Artifacts.Begin(ctx.Stage, ctx.Trigger, cfg.Prefix())
		manifest.BuildDir = cfg.BuildDir()
		manifest.Outcome = ctx.Outcome
	}

	r := renamer.New(
		renamer.WithOutput(f.out),
		renamer.WithObserver(func(o renamer.Outcome) {
			if o.Status == renamer.StatusFailed {
				log.Warn("copy failed",
					zap.String("source", o.SourcePath()),
					zap.String("destination", o.DestinationPath()),
					zap.Error(o.Err))
				ctx.Logbook.Error("[%s] %s", ctx.Stage, o.Line())
			} else {
				log.Info("copied",
					zap.String("source", o.SourcePath()),
					zap.String("destination", o.DestinationPath()))
				ctx.Logbook.Info("[%s] %s", ctx.Stage, o.Line())
			}
			if f.observer != nil {
				f.observer(ctx.Stage, o)
			}
		}),
	)
	dirs := cfg.CandidateDirs()
	log.Debug("scanning candidate directories", zap.Strings("dirs", dirs))
	report := r.RenameMatching(dirs, cfg.Extension(), cfg.Prefix())

	if ctx.Artifacts != nil {
		manifest.Entries = report.Entries()
		if _, err := ctx.Artifacts.Save(manifest); err != nil {
			log.Warn("manifest not saved", zap.Error(err))
		}
	}

	copied, failed := len(report.Copied()), len(report.Failed())
	log.Info("finalizer finished",
		zap.Int("copied", copied),
		zap.Int("failed", failed),
		zap.Int("skipped", len(report.Skipped)),
		zap.Strings("scanned", report.Scanned))

	switch {
	case failed > 0:
		return hook.Result{
			Status:  hook.StatusFailed,
			Message: fmt.Sprintf("%d copied, %d failed: %s", copied, failed, failedNames(report)),
		}, nil
	case copied == 0:
		return hook.Result{Status: hook.StatusNoOp, Message: "no matching artifacts"}, nil
	default:
		return hook.Result{Status: hook.StatusCompleted, Message: fmt.Sprintf("%d copied", copied)}, nil
	}
}

func failedNames(report renamer.Report) string {
	names := make([]string, 0, len(report.Failed()))
	for _, o := range report.Failed() {
		names = append(names, o.Source)
	}
	return strings.Join(names, ", ")
}
