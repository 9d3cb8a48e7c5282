// Package mock provides a test double for the provider package interfaces.
//
// Use Client to control probe outcomes and record lifecycle calls:
//
//	c := &mock.Client{ProviderID: "openai"}
//	c.SetProbeErr(errors.New("down"))
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/voxguard-ai/voxguard/pkg/provider"
	"github.com/voxguard-ai/voxguard/pkg/voice"
)

// Compile-time assertion that Client satisfies the provider interface.
var _ provider.Client = (*Client)(nil)

// Client is a mock implementation of provider.Client.
// The zero value is a healthy provider that records all calls.
type Client struct {
	// ProviderID is returned by ID.
	ProviderID voice.ProviderID

	// ProbeDelay, if non-zero, makes Probe sleep (or abort on ctx
	// cancellation) before returning. Used to simulate slow providers.
	ProbeDelay time.Duration

	mu              sync.Mutex
	probeErr        error
	initializeErr   error
	pauseErr        error
	probeCalls      int
	initializeCalls []string
	pauseCalls      []string
}

// ID implements provider.Client.
func (c *Client) ID() voice.ProviderID { return c.ProviderID }

// Probe implements provider.Client.
func (c *Client) Probe(ctx context.Context) error {
	if c.ProbeDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.ProbeDelay):
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.probeCalls++
	return c.probeErr
}

// Initialize implements provider.Client.
func (c *Client) Initialize(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initializeCalls = append(c.initializeCalls, sessionID)
	return c.initializeErr
}

// Pause implements provider.Client.
func (c *Client) Pause(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pauseCalls = append(c.pauseCalls, sessionID)
	return c.pauseErr
}

// SetProbeErr sets the error returned by subsequent Probe calls.
func (c *Client) SetProbeErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probeErr = err
}

// SetInitializeErr sets the error returned by subsequent Initialize calls.
func (c *Client) SetInitializeErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initializeErr = err
}

// SetPauseErr sets the error returned by subsequent Pause calls.
func (c *Client) SetPauseErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pauseErr = err
}

// ProbeCalls returns how many times Probe has been invoked.
func (c *Client) ProbeCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.probeCalls
}

// InitializeCalls returns the session ids passed to Initialize, in order.
func (c *Client) InitializeCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.initializeCalls...)
}

// PauseCalls returns the session ids passed to Pause, in order.
func (c *Client) PauseCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.pauseCalls...)
}
