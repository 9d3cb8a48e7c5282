package provider

import (
	"errors"
	"fmt"
	"sync"

	"github.com/voxguard-ai/voxguard/pkg/voice"
)

// ErrUnknown is returned by [Registry.Get] when no client is registered under
// the requested provider id.
var ErrUnknown = errors.New("unknown provider")

// Registry is the single registration point for provider clients. Providers
// are registered once at process startup; lookups afterwards are read-only.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	clients map[voice.ProviderID]Client
	order   []voice.ProviderID
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[voice.ProviderID]Client),
	}
}

// Register adds a client under its own id. Registering the same id twice is a
// configuration error.
func (r *Registry) Register(c Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := c.ID()
	if id == "" {
		return fmt.Errorf("provider registry: empty provider id")
	}
	if _, exists := r.clients[id]; exists {
		return fmt.Errorf("provider registry: %q already registered", id)
	}
	r.clients[id] = c
	r.order = append(r.order, id)
	return nil
}

// Get returns the client registered under id, or [ErrUnknown].
func (r *Registry) Get(id voice.ProviderID) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[id]
	if !ok {
		return nil, fmt.Errorf("provider registry: %q: %w", id, ErrUnknown)
	}
	return c, nil
}

// Has reports whether a client is registered under id.
func (r *Registry) Has(id voice.ProviderID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[id]
	return ok
}

// IDs returns all registered provider ids in registration order.
func (r *Registry) IDs() []voice.ProviderID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]voice.ProviderID, len(r.order))
	copy(ids, r.order)
	return ids
}
