package tryon

import (
	"fmt"

	"github.com/vtryon/backend/internal/config"
	"github.com/vtryon/backend/internal/provider"
)

// Providers holds the configured adapters. Sync may be nil in async mode.
type Providers struct {
	Mode  string
	Async provider.Provider
	Sync  provider.Provider
}

// Select picks the adapter for a new submission. In tiered mode active
// subscribers get the synchronous provider when one is configured.
func (p Providers) Select(subscriber bool) (provider.Provider, error) {
	var chosen provider.Provider
	switch p.Mode {
	case config.ProviderModeAsync:
		chosen = p.Async
	case config.ProviderModeSync:
		chosen = p.Sync
	case config.ProviderModeTiered:
		chosen = p.Async
		if subscriber && p.Sync != nil {
			chosen = p.Sync
		}
	default:
		return nil, fmt.Errorf("unknown provider mode %q", p.Mode)
	}
	if chosen == nil {
		return nil, fmt.Errorf("no provider configured for mode %q", p.Mode)
	}
	return chosen, nil
}

// ByName finds the adapter that created a task.
func (p Providers) ByName(name string) (provider.Provider, bool) {
	for _, pr := range []provider.Provider{p.Async, p.Sync} {
		if pr != nil && pr.Name() == name {
			return pr, true
		}
	}
	return nil, false
}
