package hook

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Config represents finalizer-specific configuration (opaque to the registry).
type Config map[string]any

// Factory constructs a finalizer with the provided configuration.
type Factory func(Config) (Finalizer, error)

// Run records one finalizer execution triggered by a stage.
type Run struct {
	Stage      string
	Finalizer  string
	Trigger    string
	Result     Result
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Registry maintains known finalizer factories and the stages they finalize.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	bindings  map[string][]string
	stageKeys []string

	// runMu serialises Complete so two stages never copy concurrently.
	runMu sync.Mutex
	now   func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: map[string]Factory{},
		bindings:  map[string][]string{},
		now:       time.Now,
	}
}

// Register installs a finalizer factory. Returns an error if the ID already exists.
func (r *Registry) Register(id string, factory Factory) error {
	if id == "" {
		return fmt.Errorf("hook: id is required")
	}
	if factory == nil {
		return fmt.Errorf("hook: factory is required for %s", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[id]; exists {
		return fmt.Errorf("hook: %s already registered", id)
	}
	r.factories[id] = factory
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(id string, factory Factory) {
	if err := r.Register(id, factory); err != nil {
		panic(err)
	}
}

// FinalizedBy binds a registered finalizer to run after stage completes.
// Binding the same pair twice is a no-op.
func (r *Registry) FinalizedBy(stage, id string) error {
	key := normalizeStage(stage)
	if key == "" {
		return fmt.Errorf("hook: stage is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[id]; !ok {
		return fmt.Errorf("hook: unknown id %s", id)
	}
	for _, existing := range r.bindings[key] {
		if existing == id {
			return nil
		}
	}
	if _, ok := r.bindings[key]; !ok {
		r.stageKeys = append(r.stageKeys, strings.TrimSpace(stage))
	}
	r.bindings[key] = append(r.bindings[key], id)
	return nil
}

// Resolve constructs a finalizer by ID.
func (r *Registry) Resolve(id string, cfg Config) (Finalizer, error) {
	r.mu.RLock()
	factory, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("hook: unknown id %s", id)
	}
	finalizer, err := factory(cfg)
	if err != nil {
		return nil, err
	}
	if err := finalizer.Info().Validate(); err != nil {
		return nil, err
	}
	return finalizer, nil
}

// IDs returns a sorted list of registered finalizer identifiers.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stages returns the bound stage names in binding order.
func (r *Registry) Stages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string{}, r.stageKeys...)
}

// Bound returns the finalizer IDs bound to stage, in binding order.
func (r *Registry) Bound(stage string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string{}, r.bindings[normalizeStage(stage)]...)
}

// Complete runs every finalizer bound to stage, once each, in binding order.
// Each factory receives hctx.Overrides. Errors and panics are captured in the returned runs; Complete itself never
// fails. An unbound stage runs nothing and returns nil.
func (r *Registry) Complete(ctx context.Context, hctx *Context, stage string) []Run {
	ids := r.Bound(stage)
	if len(ids) == 0 {
		return nil
	}
	r.runMu.Lock()
	defer r.runMu.Unlock()

	var (
		trigger   string
		overrides Config
	)
	if hctx != nil {
		trigger, overrides = hctx.Trigger, hctx.Overrides
	}
	runs := make([]Run, 0, len(ids))
	for _, id := range ids {
		run := Run{Stage: stage, Finalizer: id, Trigger: trigger, StartedAt: r.now()}
		if ctx != nil && ctx.Err() != nil {
			run.Result = Result{Status: StatusFailed, Message: "cancelled before start"}
			run.Err = ctx.Err()
			run.FinishedAt = r.now()
			runs = append(runs, run)
			continue
		}
		run.Result, run.Err = r.runOne(hctx, id, stage, overrides)
		if run.Err != nil && run.Result.Status == "" {
			run.Result = Result{Status: StatusFailed, Message: run.Err.Error()}
		}
		run.FinishedAt = r.now()
		runs = append(runs, run)
	}
	return runs
}

func (r *Registry) runOne(hctx *Context, id, stage string, overrides Config) (result Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = Result{Status: StatusFailed, Message: fmt.Sprintf("panic: %v", rec)}
			err = fmt.Errorf("hook: %s panicked after %s: %v", id, stage, rec)
		}
	}()
	finalizer, err := r.Resolve(id, overrides)
	if err != nil {
		return Result{Status: StatusFailed, Message: err.Error()}, err
	}
	var scoped *Context
	if hctx != nil {
		scoped = hctx.ForStage(stage, hctx.Trigger)
	} else {
		scoped = &Context{Stage: stage}
	}
	return finalizer.Run(scoped)
}

func normalizeStage(stage string) string {
	return strings.ToLower(strings.TrimSpace(stage))
}
