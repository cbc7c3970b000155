// Package registry provides the named, immutable collection of configured
// ledger adapters. The registry is read-only after construction; handlers
// and the engine snapshot it freely without locking.
package registry

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/piwi3910/ied/internal/adapter"
)

// Registry holds every configured adapter client, in configuration order.
type Registry struct {
	clients   []*adapter.Client
	byName    map[string]*adapter.Client
	byChainID map[string]*adapter.Client
	logger    *zap.Logger
}

// New creates a registry from the given adapter clients.
// Construction fails fast if zero adapters are configured or if names or
// chain ids collide.
func New(logger *zap.Logger, clients []*adapter.Client) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("no adapters configured")
	}

	r := &Registry{
		clients:   make([]*adapter.Client, 0, len(clients)),
		byName:    make(map[string]*adapter.Client, len(clients)),
		byChainID: make(map[string]*adapter.Client, len(clients)),
		logger:    logger,
	}

	for _, c := range clients {
		name := c.Name()
		if _, exists := r.byName[name]; exists {
			return nil, fmt.Errorf("duplicate adapter name %q", name)
		}

		chainID := c.ChainID()
		if _, exists := r.byChainID[chainID]; exists {
			return nil, fmt.Errorf("duplicate chain id %q (adapter %q)", chainID, name)
		}

		if c.Descriptor().ChainID == "" {
			// Cache layout should survive adapter renames; a configured
			// chain id keeps it stable, the name fallback does not.
			logger.Warn("adapter has no chain id configured, falling back to adapter name for cache keying",
				zap.String("adapter", name),
			)
		}

		r.clients = append(r.clients, c)
		r.byName[name] = c
		r.byChainID[chainID] = c

		logger.Info("adapter registered",
			zap.String("adapter", name),
			zap.String("chain_id", chainID),
			zap.String("base_url", c.Descriptor().BaseURL),
		)
	}

	return r, nil
}

// Get retrieves an adapter by name.
func (r *Registry) Get(name string) (*adapter.Client, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// ByChainID retrieves an adapter by its chain id.
func (r *Registry) ByChainID(chainID string) (*adapter.Client, bool) {
	c, ok := r.byChainID[chainID]
	return c, ok
}

// List returns all adapters in configuration order. The returned slice is a
// copy; the registry itself never changes after construction.
func (r *Registry) List() []*adapter.Client {
	out := make([]*adapter.Client, len(r.clients))
	copy(out, r.clients)
	return out
}

// ChainIDs returns the chain ids of all adapters in configuration order.
func (r *Registry) ChainIDs() []string {
	ids := make([]string, 0, len(r.clients))
	for _, c := range r.clients {
		ids = append(ids, c.ChainID())
	}
	return ids
}

// Names returns the adapter names in configuration order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.clients))
	for _, c := range r.clients {
		names = append(names, c.Name())
	}
	return names
}

// Count returns the number of configured adapters.
func (r *Registry) Count() int {
	return len(r.clients)
}

// Close closes all adapter clients.
func (r *Registry) Close() error {
	var lastErr error
	for _, c := range r.clients {
		if err := c.Close(); err != nil {
			r.logger.Warn("error closing adapter client",
				zap.String("adapter", c.Name()),
				zap.Error(err),
			)
			lastErr = err
		}
	}
	return lastErr
}
