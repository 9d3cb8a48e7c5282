// Package openai implements the provider.Client interface for OpenAI's
// Realtime API.
//
// The health probe is a model metadata lookup via the official openai-go
// client — cheap, and it surfaces authentication failures the same way a real
// session open would. Session warm-up opens a Realtime WebSocket connection
// that is held until the session is paused or re-initialised.
package openai

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/voxguard-ai/voxguard/pkg/provider"
	"github.com/voxguard-ai/voxguard/pkg/voice"
)

// Compile-time assertion that Client satisfies the provider interface.
var _ provider.Client = (*Client)(nil)

const (
	defaultModel       = "gpt-4o-realtime-preview"
	defaultRealtimeURL = "wss://api.openai.com/v1/realtime"
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the model used for probes and realtime sessions.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithRealtimeURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithRealtimeURL(url string) Option {
	return func(c *Client) { c.realtimeURL = url }
}

// WithBaseURL overrides the REST API base URL used by the probe.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// Client implements [provider.Client] against the OpenAI Realtime API.
// All methods are safe for concurrent use.
type Client struct {
	id          voice.ProviderID
	apiKey      string
	model       string
	baseURL     string
	realtimeURL string
	api         oai.Client

	mu       sync.Mutex
	sessions map[string]*websocket.Conn
}

// New constructs a Client registered under id.
func New(id voice.ProviderID, apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	c := &Client{
		id:          id,
		apiKey:      apiKey,
		model:       defaultModel,
		realtimeURL: defaultRealtimeURL,
		sessions:    make(map[string]*websocket.Conn),
	}
	for _, opt := range opts {
		opt(c)
	}

	apiOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if c.baseURL != "" {
		apiOpts = append(apiOpts, option.WithBaseURL(c.baseURL))
	}
	c.api = oai.NewClient(apiOpts...)

	return c, nil
}

// ID implements [provider.Client].
func (c *Client) ID() voice.ProviderID { return c.id }

// Probe implements [provider.Client]. It fetches metadata for the configured
// model, which exercises network, TLS, and authentication without consuming
// model tokens.
func (c *Client) Probe(ctx context.Context) error {
	if _, err := c.api.Models.Get(ctx, c.model); err != nil {
		return fmt.Errorf("openai: probe model %q: %w", c.model, err)
	}
	return nil
}

// Initialize implements [provider.Client]. It dials the Realtime endpoint for
// the given session so the first post-switch turn does not pay connection
// setup latency. An existing warm connection for the session is replaced.
func (c *Client) Initialize(ctx context.Context, sessionID string) error {
	wsURL := fmt.Sprintf("%s?model=%s", c.realtimeURL, c.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + c.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return fmt.Errorf("openai: dial realtime for session %s: %w", sessionID, err)
	}

	c.mu.Lock()
	old := c.sessions[sessionID]
	c.sessions[sessionID] = conn
	c.mu.Unlock()

	if old != nil {
		_ = old.Close(websocket.StatusNormalClosure, "reinitialised")
	}

	slog.Debug("openai realtime connection warmed", "provider", c.id, "session_id", sessionID)
	return nil
}

// Pause implements [provider.Client]. It closes the warm Realtime connection
// for the session if one exists. Pausing a session with no warm connection is
// a no-op.
func (c *Client) Pause(_ context.Context, sessionID string) error {
	c.mu.Lock()
	conn := c.sessions[sessionID]
	delete(c.sessions, sessionID)
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(websocket.StatusNormalClosure, "session paused"); err != nil {
		return fmt.Errorf("openai: pause session %s: %w", sessionID, err)
	}
	return nil
}
