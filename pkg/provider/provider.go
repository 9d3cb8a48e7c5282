// Package provider defines the Client interface for AI voice/LLM backends.
//
// A Client is the capability surface the resilience core needs from any
// provider: a lightweight reachability probe for the health monitor, and
// best-effort session lifecycle hooks (Initialize, Pause) used by the failover
// orchestrator when moving a live session between providers.
//
// Concrete adapters live in subpackages (openai, gemini, anyllm) and are
// selected by provider id at a single registration point ([Registry]).
//
// All implementations must be safe for concurrent use.
package provider

import (
	"context"

	"github.com/voxguard-ai/voxguard/pkg/voice"
)

// Client is the abstraction over one configured AI provider.
type Client interface {
	// ID returns the provider id this client was registered under.
	ID() voice.ProviderID

	// Probe performs a bounded reachability check against the provider.
	// It must respect ctx cancellation and return quickly; the health monitor
	// calls it on every cycle. A nil return means the provider answered.
	Probe(ctx context.Context) error

	// Initialize warms up a connection for the given session on this provider.
	// Failures are non-fatal to a switch — the real connection is established
	// on next use — but are recorded by the caller.
	Initialize(ctx context.Context, sessionID string) error

	// Pause quiesces this provider's connection for the given session,
	// releasing any held realtime resources. Best-effort: callers log and
	// continue on error.
	Pause(ctx context.Context, sessionID string) error
}
