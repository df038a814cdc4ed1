// Package registry merges builtin providers, user-saved custom providers and
// file presets into one lookup table.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"llmtester/internal/config"
	"llmtester/internal/providers"
)

// Store persists the custom provider list.
type Store interface {
	LoadCustomProviders(ctx context.Context) ([]providers.Config, error)
	SaveCustomProviders(ctx context.Context, cs []providers.Config) error
}

type Registry struct {
	mu     sync.RWMutex
	store  Store
	custom []providers.Config
}

// New loads saved custom providers and appends presets whose ids are not
// already taken.
func New(ctx context.Context, store Store, presets []config.ProviderPreset) (*Registry, error) {
	r := &Registry{store: store}
	if store != nil {
		saved, err := store.LoadCustomProviders(ctx)
		if err != nil {
			return nil, fmt.Errorf("load custom providers: %w", err)
		}
		r.custom = saved
	}
	for _, p := range presets {
		if r.has(p.ID) {
			continue
		}
		r.custom = append(r.custom, providers.Config{
			ID:          p.ID,
			DisplayName: p.Name,
			BaseURL:     p.BaseURL,
			APIPath:     p.APIPath,
			APIKey:      p.APIKey,
		})
	}
	return r, nil
}

func (r *Registry) has(id string) bool {
	if providers.IsBuiltin(id) {
		return true
	}
	for _, c := range r.custom {
		if c.ID == id {
			return true
		}
	}
	return false
}

// Lookup returns a builtin provider or a saved custom one.
func (r *Registry) Lookup(id string) (providers.Config, bool) {
	if c, ok := providers.Builtin(id); ok {
		return c, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.custom {
		if c.ID == id {
			return c, true
		}
	}
	return providers.Config{}, false
}

// List returns builtins followed by custom providers.
func (r *Registry) List() []providers.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := providers.Builtins()
	return append(out, r.custom...)
}

func (r *Registry) Custom() []providers.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]providers.Config, len(r.custom))
	copy(out, r.custom)
	return out
}

// SaveCustom inserts or replaces a custom provider by id.
func (r *Registry) SaveCustom(ctx context.Context, c providers.Config) error {
	c.ID = strings.TrimSpace(c.ID)
	if c.ID == "" {
		return fmt.Errorf("custom provider id is empty")
	}
	if providers.IsBuiltin(c.ID) {
		return fmt.Errorf("custom provider id %q is reserved", c.ID)
	}
	if strings.TrimSpace(c.DisplayName) == "" {
		c.DisplayName = c.ID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	next := make([]providers.Config, 0, len(r.custom)+1)
	replaced := false
	for _, existing := range r.custom {
		if existing.ID == c.ID {
			next = append(next, c)
			replaced = true
			continue
		}
		next = append(next, existing)
	}
	if !replaced {
		next = append(next, c)
	}
	return r.commit(ctx, next)
}

func (r *Registry) DeleteCustom(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := make([]providers.Config, 0, len(r.custom))
	for _, c := range r.custom {
		if c.ID != id {
			next = append(next, c)
		}
	}
	return r.commit(ctx, next)
}

func (r *Registry) commit(ctx context.Context, next []providers.Config) error {
	if r.store != nil {
		if err := r.store.SaveCustomProviders(ctx, next); err != nil {
			return fmt.Errorf("save custom providers: %w", err)
		}
	}
	r.custom = next
	return nil
}
