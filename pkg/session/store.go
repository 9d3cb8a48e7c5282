// Package session defines the session store boundary of the Voxguard
// resilience core.
//
// A [Session] is the unit the failover orchestrator operates on: one live
// conversation bound to exactly one active AI provider. The core does not own
// session persistence — [Store] is the collaborator interface, with an
// in-memory implementation ([MemStore]) for tests and single-process
// deployments and a PostgreSQL implementation in the postgres subpackage.
//
// Every implementation must be safe for concurrent use.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/voxguard-ai/voxguard/pkg/voice"
)

// ErrNotFound is returned by [Store.Get] and [Store.Update] when no session
// exists under the given id.
var ErrNotFound = errors.New("session not found")

// Session holds the live state of one conversation. The failover orchestrator
// reads and mutates ProviderID, Messages, Sentiment, Insights, and Metadata
// during a provider switch; everything else is owned by the call-handling
// layer.
type Session struct {
	// ID uniquely identifies the session for its lifetime.
	ID string `json:"id"`

	// ProviderID is the currently active AI provider backing this session.
	ProviderID voice.ProviderID `json:"provider_id"`

	// Messages is the ordered conversation history.
	Messages []voice.Message `json:"messages"`

	// Sentiment is the last-known caller sentiment. Empty when the analytics
	// layer has not produced one yet.
	Sentiment voice.Sentiment `json:"sentiment,omitempty"`

	// Insights holds opaque analytics produced during the call.
	Insights map[string]any `json:"insights,omitempty"`

	// Metadata holds opaque bookkeeping (including the switch records appended
	// by the orchestrator).
	Metadata map[string]any `json:"metadata,omitempty"`

	// CreatedAt is when the session began.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is bumped on every store write.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of s. The orchestrator snapshots sessions before
// mutating them so a failed switch never leaves a half-written session behind.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Messages = make([]voice.Message, len(s.Messages))
	copy(c.Messages, s.Messages)
	c.Insights = cloneMap(s.Insights)
	c.Metadata = cloneMap(s.Metadata)
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// Store is the session persistence boundary. Implementations provide their
// own durability guarantees; they are not required to provide locking — the
// orchestrator serializes switches per session id itself.
type Store interface {
	// Get returns the session with the given id, or [ErrNotFound].
	Get(ctx context.Context, id string) (*Session, error)

	// Put creates or replaces a session wholesale.
	Put(ctx context.Context, s *Session) error

	// Update replaces an existing session and bumps UpdatedAt.
	// Returns [ErrNotFound] when no session exists under s.ID.
	Update(ctx context.Context, s *Session) error

	// SessionsOnProvider returns the ids of all sessions currently bound to
	// the given provider.
	SessionsOnProvider(ctx context.Context, provider voice.ProviderID) ([]string, error)
}
