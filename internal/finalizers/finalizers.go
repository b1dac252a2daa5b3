package finalizers

import (
	"fmt"

	"github.com/kingrea/apkalias/internal/config"
	"github.com/kingrea/apkalias/internal/finalizers/copyapk"
	"github.com/kingrea/apkalias/internal/hook"
)

// RegisterBuiltins installs the built-in finalizer factories into the
// provided registry and binds them to every configured build stage.
func RegisterBuiltins(reg *hook.Registry, cfg *config.Config, opts ...copyapk.Option) error {
	if reg == nil {
		return nil
	}
	copyapk.Register(reg, opts...)
	if cfg == nil {
		return nil
	}
	for _, stage := range cfg.Stages() {
		if err := reg.FinalizedBy(stage, copyapk.ID); err != nil {
			return fmt.Errorf("finalizers: bind %s: %w", stage, err)
		}
	}
	return nil
}
