package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/stacklight/wabridge/pkg/logger"
)

// Registry holds explicitly constructed named providers. There is no shared
// global instance; callers build a Registry and pass it to consumers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under a unique name.
func (r *Registry) Register(name string, p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = p
	return nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names lists registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// StopAll stops every registered provider, logging failures instead of
// aborting so the remaining providers still shut down.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, p := range r.providers {
		if err := p.Stop(ctx); err != nil {
			logger.ErrorCF("registry", "Provider stop failed", map[string]interface{}{
				"provider": name,
				"error":    err.Error(),
			})
		}
	}
}
