// Package voice defines the shared conversation types used across all Voxguard
// packages.
//
// These types form the lingua franca between the session store, the provider
// adapters, and the failover orchestrator. They are intentionally minimal — each
// package defines its own domain types, but cross-cutting data structures live
// here to avoid circular imports.
package voice

import "time"

// Message is a single conversational turn exchanged with an AI provider.
type Message struct {
	// Role identifies the speaker: "user", "assistant", or "system".
	Role string `json:"role"`

	// Content is the text of the turn. For voice sessions this is the
	// transcript of what was said or synthesised.
	Content string `json:"content"`

	// Timestamp marks when the turn was recorded.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Sentiment is the last-known sentiment classification of the caller.
// Produced by the analytics layer; carried across provider switches as an
// opaque tag.
type Sentiment string

const (
	SentimentPositive   Sentiment = "positive"
	SentimentNeutral    Sentiment = "neutral"
	SentimentNegative   Sentiment = "negative"
	SentimentFrustrated Sentiment = "frustrated"
)

// ProviderID names a configured AI provider (e.g. "openai", "gemini").
type ProviderID string

// String returns the provider id as a plain string.
func (p ProviderID) String() string { return string(p) }
