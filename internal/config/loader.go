package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Environment references ($VAR or ${VAR}) are expanded before decoding, so
// secrets like API keys can stay out of the file.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(raw))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Providers
	if len(cfg.Providers) == 0 {
		errs = append(errs, errors.New("at least one provider must be configured"))
	}
	idsSeen := make(map[string]int, len(cfg.Providers))
	for i, p := range cfg.Providers {
		prefix := fmt.Sprintf("providers[%d]", i)
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, ok := idsSeen[p.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of providers[%d]", prefix, p.ID, prev))
			}
			idsSeen[p.ID] = i
		}
		if !p.Kind.IsValid() {
			errs = append(errs, fmt.Errorf("%s.kind %q is invalid; valid values: openai-realtime, gemini-live, chat, mock", prefix, p.Kind))
			continue
		}
		switch p.Kind {
		case KindOpenAIRealtime, KindGeminiLive:
			if p.APIKey == "" {
				errs = append(errs, fmt.Errorf("%s.api_key is required for kind %q", prefix, p.Kind))
			}
		case KindChat:
			if p.Backend == "" {
				errs = append(errs, fmt.Errorf("%s.backend is required for kind chat", prefix))
			} else if !slices.Contains(ChatBackends, p.Backend) {
				slog.Warn("unknown chat backend — may be a typo or third-party backend",
					"provider", p.ID,
					"backend", p.Backend,
					"known", ChatBackends,
				)
			}
		}
	}
	if len(cfg.Providers) == 1 {
		slog.Warn("only one provider configured; automatic failover has no target")
	}

	// Resilience
	if cfg.Resilience.FailureThreshold < 0 {
		errs = append(errs, fmt.Errorf("resilience.failure_threshold %d must not be negative", cfg.Resilience.FailureThreshold))
	}
	if cfg.Resilience.SuccessThreshold < 0 {
		errs = append(errs, fmt.Errorf("resilience.success_threshold %d must not be negative", cfg.Resilience.SuccessThreshold))
	}
	if cfg.Resilience.Timeout < 0 {
		errs = append(errs, errors.New("resilience.timeout must not be negative"))
	}
	if cfg.Resilience.HalfOpenMaxCalls < 0 {
		errs = append(errs, fmt.Errorf("resilience.half_open_max_calls %d must not be negative", cfg.Resilience.HalfOpenMaxCalls))
	}

	// Monitor
	if cfg.Monitor.Interval < 0 || cfg.Monitor.ProbeTimeout < 0 {
		errs = append(errs, errors.New("monitor durations must not be negative"))
	}
	if cfg.Monitor.DegradedSuccessRate < 0 || cfg.Monitor.DegradedSuccessRate > 1 {
		errs = append(errs, fmt.Errorf("monitor.degraded_success_rate %.2f is out of range [0, 1]", cfg.Monitor.DegradedSuccessRate))
	}
	if cfg.Monitor.WindowSize < 0 {
		errs = append(errs, fmt.Errorf("monitor.window_size %d must not be negative", cfg.Monitor.WindowSize))
	}

	// Store
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; sessions will not survive a restart")
	}

	return errors.Join(errs...)
}
