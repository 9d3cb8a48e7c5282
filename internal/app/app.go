// Package app wires all VoxGuard subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API and drives health monitoring plus
// automatic failover, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithSessionStore, WithProviderRegistry, etc.). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxguard-ai/voxguard/internal/config"
	"github.com/voxguard-ai/voxguard/internal/failover"
	"github.com/voxguard-ai/voxguard/internal/health"
	"github.com/voxguard-ai/voxguard/internal/monitor"
	"github.com/voxguard-ai/voxguard/internal/observe"
	"github.com/voxguard-ai/voxguard/internal/resilience"
	"github.com/voxguard-ai/voxguard/pkg/provider"
	"github.com/voxguard-ai/voxguard/pkg/provider/anyllm"
	"github.com/voxguard-ai/voxguard/pkg/provider/gemini"
	"github.com/voxguard-ai/voxguard/pkg/provider/mock"
	"github.com/voxguard-ai/voxguard/pkg/provider/openai"
	"github.com/voxguard-ai/voxguard/pkg/session"
	"github.com/voxguard-ai/voxguard/pkg/session/postgres"
	"github.com/voxguard-ai/voxguard/pkg/voice"
)

// App owns all subsystem lifetimes and serves the VoxGuard control plane.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	// Subsystems — initialised in New, torn down in Shutdown.
	store        session.Store
	providers    *provider.Registry
	breakers     *resilience.Registry
	monitor      *monitor.Monitor
	orchestrator *failover.Orchestrator
	server       *http.Server

	// dbPing is non-nil when the store is PostgreSQL-backed; wired into the
	// readiness handler.
	dbPing func(context.Context) error

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSessionStore injects a session store instead of creating one from config.
func WithSessionStore(s session.Store) Option {
	return func(a *App) { a.store = s }
}

// WithProviderRegistry injects a provider registry instead of building one
// from the config entries.
func WithProviderRegistry(r *provider.Registry) Option {
	return func(a *App) { a.providers = r }
}

// WithMetrics injects a metrics bundle instead of using the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: session store connection,
// provider adapter construction, circuit breaker registry, health monitor,
// failover orchestrator, and the HTTP server. Nothing starts running until
// Run is called.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Session store ─────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Provider adapters ─────────────────────────────────────────────
	if err := a.initProviders(); err != nil {
		return nil, fmt.Errorf("app: init providers: %w", err)
	}

	// ── 3. Circuit breakers ──────────────────────────────────────────────
	a.breakers = resilience.NewRegistry(resilience.Config{
		FailureThreshold: cfg.Resilience.FailureThreshold,
		SuccessThreshold: cfg.Resilience.SuccessThreshold,
		Timeout:          cfg.Resilience.Timeout.Std(),
		HalfOpenMaxCalls: cfg.Resilience.HalfOpenMaxCalls,
	}, a.onBreakerTransition)

	// ── 4. Health monitor ────────────────────────────────────────────────
	a.monitor = monitor.New(a.providers, a.breakers, monitor.Config{
		Interval:            cfg.Monitor.Interval.Std(),
		ProbeTimeout:        cfg.Monitor.ProbeTimeout.Std(),
		DegradedLatency:     cfg.Monitor.DegradedLatency.Std(),
		DegradedSuccessRate: cfg.Monitor.DegradedSuccessRate,
		WindowSize:          cfg.Monitor.WindowSize,
		ShutdownWait:        cfg.Monitor.ShutdownWait.Std(),
		OnProbe:             a.onProbe,
	})

	// ── 5. Failover orchestrator ─────────────────────────────────────────
	a.orchestrator = failover.New(a.store, a.providers, a.monitor, failover.Config{
		StepTimeout:     cfg.Failover.StepTimeout.Std(),
		StatusRetention: cfg.Failover.StatusRetention.Std(),
		OnSwitch:        a.onSwitch,
	})

	// ── 6. HTTP server ───────────────────────────────────────────────────
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.buildHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore sets up the PostgreSQL session store, falling back to an
// in-memory store when no DSN is configured.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil // injected
	}

	dsn := a.cfg.Store.PostgresDSN
	if dsn == "" {
		slog.Warn("no postgres_dsn configured, sessions are held in memory only")
		a.store = session.NewMemStore()
		return nil
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = store
	a.dbPing = store.Ping
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initProviders builds one adapter per configured provider entry and
// registers them all.
func (a *App) initProviders() error {
	if a.providers != nil {
		return nil // injected
	}

	a.providers = provider.NewRegistry()
	for i, entry := range a.cfg.Providers {
		client, err := buildClient(entry)
		if err != nil {
			return fmt.Errorf("provider %q (index %d): %w", entry.ID, i, err)
		}
		if err := a.providers.Register(client); err != nil {
			return fmt.Errorf("register provider %q: %w", entry.ID, err)
		}
		slog.Info("registered provider", "id", entry.ID, "kind", entry.Kind)
	}
	return nil
}

// buildClient constructs the appropriate adapter for a provider entry.
func buildClient(entry config.ProviderEntry) (provider.Client, error) {
	id := voice.ProviderID(entry.ID)

	switch entry.Kind {
	case config.KindOpenAIRealtime:
		var opts []openai.Option
		if entry.Model != "" {
			opts = append(opts, openai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if entry.RealtimeURL != "" {
			opts = append(opts, openai.WithRealtimeURL(entry.RealtimeURL))
		}
		return openai.New(id, entry.APIKey, opts...)

	case config.KindGeminiLive:
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		if entry.RealtimeURL != "" {
			opts = append(opts, gemini.WithLiveURL(entry.RealtimeURL))
		}
		return gemini.New(id, entry.APIKey, opts...)

	case config.KindChat:
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(id, entry.Backend, entry.Model, opts...)

	case config.KindMock:
		return &mock.Client{ProviderID: id}, nil

	default:
		return nil, fmt.Errorf("unknown provider kind %q", entry.Kind)
	}
}

// buildHandler assembles the HTTP routing table: liveness/readiness probes,
// the Prometheus scrape endpoint, and the control API, all behind the
// tracing middleware.
func (a *App) buildHandler() http.Handler {
	mux := http.NewServeMux()

	checkers := []health.Checker{health.Providers(a.monitor)}
	if a.dbPing != nil {
		checkers = append(checkers, health.Database(a.dbPing))
	}
	health.New(checkers...).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())
	a.registerAPI(mux)

	return observe.Middleware(a.metrics)(mux)
}

// ─── Hooks ───────────────────────────────────────────────────────────────────

func (a *App) onProbe(id voice.ProviderID, latency time.Duration, err error) {
	ctx := context.Background()
	a.metrics.RecordProbe(ctx, string(id), latency, err)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		a.metrics.RecordBreakerRejection(ctx, string(id))
	}
}

func (a *App) onSwitch(res failover.SwitchResult) {
	a.metrics.RecordSwitch(context.Background(),
		string(res.From), string(res.To), res.Success, res.Duration)
}

func (a *App) onBreakerTransition(name string, from, to resilience.State) {
	a.metrics.RecordBreakerTransition(context.Background(),
		name, from.String(), to.String())
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the health monitor, the automatic failover supervisor, and the
// HTTP server, then blocks until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	a.monitor.Start(ctx)

	supervisorDone := make(chan struct{})
	go func() {
		defer close(supervisorDone)
		a.superviseFailover(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			slog.Info("serving with TLS", "addr", a.server.Addr)
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("serving", "addr", a.server.Addr)
			err = a.server.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		<-supervisorDone
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	}
}

// superviseFailover periodically scans provider health and moves sessions
// away from unhealthy providers. Each cycle also publishes the healthy
// provider count.
func (a *App) superviseFailover(ctx context.Context) {
	interval := a.cfg.Monitor.Interval.Std()
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.failoverCycle(ctx)
		}
	}
}

// failoverCycle runs one supervision pass: for every provider currently
// classified unhealthy, each of its sessions is offered to the orchestrator.
// Per-session errors are logged and do not stop the pass.
func (a *App) failoverCycle(ctx context.Context) {
	all := a.monitor.AllProvidersHealth()

	healthy := 0
	for _, h := range all {
		if h.Status == monitor.StatusHealthy {
			healthy++
		}
	}
	a.metrics.HealthyProviders.Record(ctx, int64(healthy))

	for id, h := range all {
		if h.Status != monitor.StatusUnhealthy {
			continue
		}
		ids, err := a.store.SessionsOnProvider(ctx, id)
		if err != nil {
			slog.Error("failed to list sessions for failover", "provider", id, "err", err)
			continue
		}
		for _, sessionID := range ids {
			res, err := a.orchestrator.AutoFailoverIfNeeded(ctx, sessionID)
			switch {
			case errors.Is(err, failover.ErrSwitchInProgress):
				// A manual or earlier automatic switch owns this session.
			case err != nil:
				slog.Error("automatic failover failed", "session", sessionID, "err", err)
			case res != nil:
				slog.Info("automatic failover completed",
					"session", sessionID, "from", res.From, "to", res.To)
			}
		}
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}
		a.monitor.Stop()

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
