// Package hook runs finalizers after named build stages complete. A stage
// finishing is an explicit event: the caller (CLI, HTTP bridge, watcher)
// invokes Registry.Complete, and every finalizer bound to that stage runs
// once. Finalizer failures are recorded, never returned.
package hook

import (
	"fmt"

	"github.com/kingrea/apkalias/internal/artifact"
	"github.com/kingrea/apkalias/internal/config"
	"github.com/kingrea/apkalias/internal/logbook"
	"github.com/kingrea/apkalias/internal/logging"
)

// Info describes a finalizer's identity and intent.
type Info struct {
	ID          string
	Name        string
	Description string
	Version     string
}

// Validate ensures the info block is well-formed.
func (i Info) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("hook: id is required")
	}
	if i.Name == "" {
		return fmt.Errorf("hook: name is required for %s", i.ID)
	}
	if i.Version == "" {
		return fmt.Errorf("hook: version is required for %s", i.ID)
	}
	return nil
}

// Result captures the outcome of a finalizer execution.
type Result struct {
	Status  Status
	Message string
}

// Status enumerates finalizer run outcomes.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusNoOp      Status = "no-op"
	StatusFailed    Status = "failed"
)

// Finalizer is implemented by everything that runs after a stage.
type Finalizer interface {
	Info() Info
	Run(ctx *Context) (Result, error)
}

// Context carries shared runtime dependencies into every finalizer.
type Context struct {
	Config    *config.Config
	Logger    *logging.Logger
	Logbook   *logbook.Logbook
	Artifacts *artifact.Store
	// Stage is the build stage that just completed.
	Stage string
	// Trigger names the transport that reported completion (cli, bridge, watch).
	Trigger string
	// Outcome is the stage result reported with the event, if any.
	Outcome string
	// Overrides is handed to finalizer factories for this run only.
	Overrides Config
}

// NewContext builds a Context with a manifest store under the state dir.
func NewContext(cfg *config.Config, logger *logging.Logger, lb *logbook.Logbook) *Context {
	ctx := &Context{
		Config:  cfg,
		Logger:  logger,
		Logbook: lb,
	}
	if cfg != nil {
		ctx.Artifacts = artifact.NewStore(cfg.LastRunPath())
	}
	return ctx
}

// ForStage returns a copy of the context bound to a stage and trigger.
func (ctx *Context) ForStage(stage, trigger string) *Context {
	clone := *ctx
	clone.Stage = stage
	clone.Trigger = trigger
	return &clone
}

// FinalizerFunc adapts a function into a Finalizer.
type FinalizerFunc struct {
	Meta Info
	Fn   func(ctx *Context) (Result, error)
}

// Info implements Finalizer.
func (f FinalizerFunc) Info() Info {
	return f.Meta
}

// Run implements Finalizer.
func (f FinalizerFunc) Run(ctx *Context) (Result, error) {
	if f.Fn == nil {
		return Result{Status: StatusNoOp}, nil
	}
	return f.Fn(ctx)
}
