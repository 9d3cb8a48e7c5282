// Package anyllm provides a provider.Client backed by
// github.com/mozilla-ai/any-llm-go, covering text-LLM backends the platform
// can fail over to when no realtime voice provider is available (OpenAI,
// Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more).
//
// Text-LLM backends are stateless HTTP APIs, so Initialize and Pause carry no
// connection work; the probe is a single-token completion that exercises the
// full request path including authentication and model availability.
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/voxguard-ai/voxguard/pkg/provider"
	"github.com/voxguard-ai/voxguard/pkg/voice"
)

// Compile-time assertion that Client satisfies the provider interface.
var _ provider.Client = (*Client)(nil)

// Client implements [provider.Client] by wrapping an any-llm-go backend.
type Client struct {
	id      voice.ProviderID
	backend anyllmlib.Provider
	model   string
}

// New creates a Client registered under id, backed by the named any-llm-go
// provider. backendName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq". opts are any-llm-go configuration options
// (e.g. anyllmlib.WithAPIKey); without an API key option the backend falls
// back to its conventional environment variable.
func New(id voice.ProviderID, backendName, model string, opts ...anyllmlib.Option) (*Client, error) {
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}
	backend, err := createBackend(backendName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", backendName, err)
	}
	return &Client{id: id, backend: backend, model: model}, nil
}

// createBackend creates the underlying any-llm-go provider for the given name.
func createBackend(name string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(name) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported backend %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq", name)
	}
}

// ID implements [provider.Client].
func (c *Client) ID() voice.ProviderID { return c.id }

// Probe implements [provider.Client] with a single-token completion.
func (c *Client) Probe(ctx context.Context) error {
	maxTokens := 1
	_, err := c.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model: c.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleUser, Content: "ping"},
		},
		MaxTokens: &maxTokens,
	})
	if err != nil {
		return fmt.Errorf("anyllm: probe %s: %w", c.model, err)
	}
	return nil
}

// Initialize implements [provider.Client]. Text-LLM backends are stateless,
// so there is no connection to warm.
func (c *Client) Initialize(_ context.Context, _ string) error { return nil }

// Pause implements [provider.Client]. No per-session state to release.
func (c *Client) Pause(_ context.Context, _ string) error { return nil }
