package resilience

import (
	"context"
	"fmt"
	"sync"

	"github.com/voxguard-ai/voxguard/pkg/voice"
)

// Registry owns one [CircuitBreaker] per provider. Breakers are created
// lazily on first use with a shared base configuration, so every caller
// routing a call to a provider shares that provider's failure accounting.
//
// Registry is safe for concurrent use.
type Registry struct {
	base Config
	hook TransitionHook

	mu       sync.Mutex
	breakers map[voice.ProviderID]*CircuitBreaker
}

// NewRegistry creates a Registry whose breakers inherit base (the Name field
// is overwritten with the provider id). hook may be nil; when set it is
// installed on every breaker the registry creates.
func NewRegistry(base Config, hook TransitionHook) *Registry {
	return &Registry{
		base:     base.withDefaults(),
		hook:     hook,
		breakers: make(map[voice.ProviderID]*CircuitBreaker),
	}
}

// For returns the breaker for the given provider, creating it on first use.
func (r *Registry) For(id voice.ProviderID) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.breakers[id]
	if !ok {
		cfg := r.base
		cfg.Name = string(id)
		cb = New(cfg)
		if r.hook != nil {
			cb.OnTransition(r.hook)
		}
		r.breakers[id] = cb
	}
	return cb
}

// Execute routes op through the breaker owned by the given provider.
func (r *Registry) Execute(ctx context.Context, id voice.ProviderID, op func(context.Context) error) error {
	return r.For(id).Execute(ctx, op)
}

// Statuses returns a snapshot of every breaker the registry has created,
// keyed by provider id.
func (r *Registry) Statuses() map[voice.ProviderID]Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[voice.ProviderID]Status, len(r.breakers))
	for id, cb := range r.breakers {
		out[id] = cb.Status()
	}
	return out
}

// Reset resets the breaker for the given provider. It is an error to reset a
// provider that has never had a breaker created.
func (r *Registry) Reset(id voice.ProviderID) error {
	r.mu.Lock()
	cb, ok := r.breakers[id]
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("resilience registry: no breaker for %q", id)
	}
	cb.Reset()
	return nil
}
