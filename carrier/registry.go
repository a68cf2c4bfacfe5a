package carrier

import (
	"log/slog"
	"sync"

	"github.com/commercekit/conduct"
)

// Registry resolves providers by name. Unrecognized or legacy names fall
// back to the configured default provider, so old fulfillment rows that
// reference a retired carrier keep working.
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]Provider
	defaultName string
	logger      *slog.Logger
}

// NewRegistry creates a registry whose fallback is the named default.
func NewRegistry(defaultName string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		providers:   make(map[string]Provider),
		defaultName: defaultName,
		logger:      logger,
	}
}

// Register adds a provider under its own name, replacing any previous
// registration.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Resolve returns the provider for name, falling back to the default
// provider for unknown names. Fails with ErrProviderNotFound only when
// the default itself is missing.
func (r *Registry) Resolve(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.providers[name]; ok {
		return p, nil
	}

	if name != "" && name != r.defaultName {
		r.logger.Warn("unknown shipping provider, using default",
			slog.String("requested", name),
			slog.String("default", r.defaultName),
		)
	}

	if p, ok := r.providers[r.defaultName]; ok {
		return p, nil
	}
	return nil, conduct.E(conduct.KindNotFound, "provider "+name, conduct.ErrProviderNotFound)
}

// Names returns all registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
