// Package gemini implements the provider.Client interface for Google's
// Gemini Live API.
//
// The health probe is a plain HTTPS model metadata request; session warm-up
// dials the BidiGenerateContent WebSocket endpoint and sends the setup
// message, holding the connection until the session is paused.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/voxguard-ai/voxguard/pkg/provider"
	"github.com/voxguard-ai/voxguard/pkg/voice"
)

// Compile-time assertion that Client satisfies the provider interface.
var _ provider.Client = (*Client)(nil)

const (
	defaultModel   = "gemini-2.0-flash-live-001"
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultLiveURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the Gemini model used for probes and live sessions.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithBaseURL overrides the REST base URL used by the probe.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithLiveURL overrides the Live API WebSocket URL.
func WithLiveURL(url string) Option {
	return func(c *Client) { c.liveURL = url }
}

// WithHTTPClient overrides the HTTP client used by the probe.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// setupMessage is the first message of the BidiGenerateContent protocol.
type setupMessage struct {
	Setup struct {
		Model string `json:"model"`
	} `json:"setup"`
}

// Client implements [provider.Client] against the Gemini Live API.
// All methods are safe for concurrent use.
type Client struct {
	id      voice.ProviderID
	apiKey  string
	model   string
	baseURL string
	liveURL string
	http    *http.Client

	mu       sync.Mutex
	sessions map[string]*websocket.Conn
}

// New constructs a Client registered under id.
func New(id voice.ProviderID, apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: apiKey must not be empty")
	}
	c := &Client{
		id:       id,
		apiKey:   apiKey,
		model:    defaultModel,
		baseURL:  defaultBaseURL,
		liveURL:  defaultLiveURL,
		http:     http.DefaultClient,
		sessions: make(map[string]*websocket.Conn),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ID implements [provider.Client].
func (c *Client) ID() voice.ProviderID { return c.id }

// Probe implements [provider.Client]. It requests metadata for the configured
// model over HTTPS.
func (c *Client) Probe(ctx context.Context) error {
	url := fmt.Sprintf("%s/v1beta/models/%s?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("gemini: build probe request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gemini: probe: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gemini: probe: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Initialize implements [provider.Client]. It dials the Live endpoint and
// sends the protocol setup message for the given session. An existing warm
// connection for the session is replaced.
func (c *Client) Initialize(ctx context.Context, sessionID string) error {
	wsURL := fmt.Sprintf("%s?key=%s", c.liveURL, c.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("gemini: dial live for session %s: %w", sessionID, err)
	}

	var setup setupMessage
	setup.Setup.Model = "models/" + c.model
	payload, err := json.Marshal(setup)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "setup encode failed")
		return fmt.Errorf("gemini: encode setup: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		conn.Close(websocket.StatusInternalError, "setup failed")
		return fmt.Errorf("gemini: send setup for session %s: %w", sessionID, err)
	}

	c.mu.Lock()
	old := c.sessions[sessionID]
	c.sessions[sessionID] = conn
	c.mu.Unlock()

	if old != nil {
		_ = old.Close(websocket.StatusNormalClosure, "reinitialised")
	}

	slog.Debug("gemini live connection warmed", "provider", c.id, "session_id", sessionID)
	return nil
}

// Pause implements [provider.Client]. It closes the warm Live connection for
// the session if one exists.
func (c *Client) Pause(_ context.Context, sessionID string) error {
	c.mu.Lock()
	conn := c.sessions[sessionID]
	delete(c.sessions, sessionID)
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(websocket.StatusNormalClosure, "session paused"); err != nil {
		return fmt.Errorf("gemini: pause session %s: %w", sessionID, err)
	}
	return nil
}
