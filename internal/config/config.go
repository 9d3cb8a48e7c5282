// Package config provides the configuration schema and loader for the
// VoxGuard server.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the VoxGuard server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// ProviderKind selects the adapter implementation for a provider entry.
type ProviderKind string

const (
	// KindOpenAIRealtime is the OpenAI realtime speech-to-speech API.
	KindOpenAIRealtime ProviderKind = "openai-realtime"

	// KindGeminiLive is the Gemini Live bidirectional streaming API.
	KindGeminiLive ProviderKind = "gemini-live"

	// KindChat is a stateless chat-completion backend reached through the
	// any-llm gateway.
	KindChat ProviderKind = "chat"

	// KindMock is an in-process fake, for local development and tests.
	KindMock ProviderKind = "mock"
)

// IsValid reports whether k is a recognised provider kind.
func (k ProviderKind) IsValid() bool {
	switch k {
	case KindOpenAIRealtime, KindGeminiLive, KindChat, KindMock:
		return true
	}
	return false
}

// ChatBackends lists the backends the any-llm gateway can drive.
var ChatBackends = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq",
}

// Duration wraps [time.Duration] with YAML decoding from either a duration
// string ("30s", "1.5s") or a bare number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := node.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration value on line %d", node.Line)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// Std returns the wrapped [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for VoxGuard.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  []ProviderEntry  `yaml:"providers"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Failover   FailoverConfig   `yaml:"failover"`
	Store      StoreConfig      `yaml:"store"`
}

// ServerConfig holds network and logging settings for the VoxGuard server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProviderEntry configures one AI provider the platform may route calls to.
type ProviderEntry struct {
	// ID uniquely identifies the provider across the whole config.
	ID string `yaml:"id"`

	// Kind selects the adapter implementation.
	Kind ProviderKind `yaml:"kind"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-realtime-preview").
	Model string `yaml:"model"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// RealtimeURL overrides the websocket endpoint for realtime kinds.
	RealtimeURL string `yaml:"realtime_url"`

	// Backend selects the any-llm backend for the "chat" kind. See
	// [ChatBackends] for valid values.
	Backend string `yaml:"backend"`
}

// ResilienceConfig tunes the per-provider circuit breakers. Zero values fall
// back to the breaker package defaults.
type ResilienceConfig struct {
	// FailureThreshold is the number of consecutive failures that opens a
	// breaker.
	FailureThreshold int `yaml:"failure_threshold"`

	// SuccessThreshold is the number of consecutive half-open successes that
	// closes a breaker again.
	SuccessThreshold int `yaml:"success_threshold"`

	// Timeout is the cooldown an open breaker waits before letting probe
	// calls through.
	Timeout Duration `yaml:"timeout"`

	// HalfOpenMaxCalls caps concurrent probe calls while half-open.
	HalfOpenMaxCalls int `yaml:"half_open_max_calls"`
}

// MonitorConfig tunes the provider health monitor. Zero values fall back to
// the monitor package defaults.
type MonitorConfig struct {
	// Interval is the pause between probe cycles.
	Interval Duration `yaml:"interval"`

	// ProbeTimeout bounds each individual provider probe.
	ProbeTimeout Duration `yaml:"probe_timeout"`

	// DegradedLatency is the probe latency above which a reachable provider
	// is classified degraded.
	DegradedLatency Duration `yaml:"degraded_latency"`

	// DegradedSuccessRate is the windowed success rate below which a
	// reachable provider is classified degraded.
	DegradedSuccessRate float64 `yaml:"degraded_success_rate"`

	// WindowSize is the number of recent probes the success rate is computed
	// over.
	WindowSize int `yaml:"window_size"`

	// ShutdownWait bounds how long Stop waits for in-flight probes.
	ShutdownWait Duration `yaml:"shutdown_wait"`
}

// FailoverConfig tunes the switch orchestrator. Zero values fall back to the
// failover package defaults.
type FailoverConfig struct {
	// StepTimeout bounds each provider-facing step of a switch.
	StepTimeout Duration `yaml:"step_timeout"`

	// StatusRetention is how long a finished switch stays visible in the
	// status endpoint.
	StatusRetention Duration `yaml:"status_retention"`
}

// StoreConfig selects where sessions are persisted.
type StoreConfig struct {
	// PostgresDSN is the connection string for the session database. When
	// empty, sessions are held in process memory only.
	PostgresDSN string `yaml:"postgres_dsn"`
}
