// Package monitor maintains a continuously refreshed view of which AI
// providers are currently usable.
//
// A [Monitor] runs one supervisory goroutine that probes every registered
// provider on a fixed interval. Each probe runs through the provider's
// circuit breaker so the two failure-detection paths share accounting; the
// monitor's health classification is nevertheless independent of breaker
// state — a provider whose breaker is closed can still be reported degraded
// when its probe latency is poor.
//
// Probe errors never propagate to callers: they are absorbed into the
// provider's [Health] snapshot as a status downgrade. Each provider's probe
// is isolated so one misbehaving provider cannot starve the rest of the
// cycle.
//
// All methods are safe for concurrent use.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxguard-ai/voxguard/internal/resilience"
	"github.com/voxguard-ai/voxguard/pkg/provider"
	"github.com/voxguard-ai/voxguard/pkg/voice"
)

// HealthState classifies a provider's current usability.
type HealthState string

const (
	// StatusHealthy means the last probe answered within the latency budget.
	StatusHealthy HealthState = "healthy"

	// StatusDegraded means the provider answers but slowly or unreliably.
	StatusDegraded HealthState = "degraded"

	// StatusUnhealthy means the last probe failed or was rejected.
	StatusUnhealthy HealthState = "unhealthy"

	// StatusUnknown means the provider has not been probed yet.
	StatusUnknown HealthState = "unknown"
)

// Health is a per-provider snapshot, replaced wholesale on every probe cycle.
// It is read-only to everything outside this package.
type Health struct {
	ProviderID          voice.ProviderID `json:"provider_id"`
	Status              HealthState      `json:"status"`
	Latency             time.Duration    `json:"latency"`
	SuccessRate         float64          `json:"success_rate"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	LastChecked         time.Time        `json:"last_checked"`
}

// Default monitor parameters.
const (
	defaultInterval        = 15 * time.Second
	defaultProbeTimeout    = 3 * time.Second
	defaultDegradedLatency = 1500 * time.Millisecond
	defaultDegradedRate    = 0.9
	defaultWindowSize      = 20
	defaultShutdownWait    = 5 * time.Second
)

// Config configures a [Monitor]. Zero-value fields take defaults.
type Config struct {
	// Interval between probe cycles. Default: 15s.
	Interval time.Duration

	// ProbeTimeout bounds a single provider probe. Default: 3s.
	ProbeTimeout time.Duration

	// DegradedLatency is the probe latency above which a reachable provider
	// is classified degraded. Default: 1.5s.
	DegradedLatency time.Duration

	// DegradedSuccessRate is the rolling success rate below which a reachable
	// provider is classified degraded. Default: 0.9.
	DegradedSuccessRate float64

	// WindowSize is the number of recent probes in the success-rate window.
	// Default: 20.
	WindowSize int

	// ShutdownWait bounds how long Stop waits for an in-flight probe cycle.
	// Default: 5s.
	ShutdownWait time.Duration

	// OnProbe, when set, is invoked after every probe with the outcome.
	// Used to wire metrics without coupling this package to the exporter.
	OnProbe func(id voice.ProviderID, latency time.Duration, err error)
}

// withDefaults returns cfg with zero-value fields replaced by defaults.
func (cfg Config) withDefaults() Config {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.DegradedLatency <= 0 {
		cfg.DegradedLatency = defaultDegradedLatency
	}
	if cfg.DegradedSuccessRate <= 0 {
		cfg.DegradedSuccessRate = defaultDegradedRate
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = defaultWindowSize
	}
	if cfg.ShutdownWait <= 0 {
		cfg.ShutdownWait = defaultShutdownWait
	}
	return cfg
}

// window is a fixed-size ring of recent probe outcomes for one provider.
type window struct {
	outcomes []bool
	next     int
	filled   int
	fails    int // current consecutive failures
}

func newWindow(size int) *window {
	return &window{outcomes: make([]bool, size)}
}

// add records one probe outcome and returns the rolling success rate and the
// consecutive failure count.
func (w *window) add(ok bool) (rate float64, consecutiveFails int) {
	w.outcomes[w.next] = ok
	w.next = (w.next + 1) % len(w.outcomes)
	if w.filled < len(w.outcomes) {
		w.filled++
	}

	if ok {
		w.fails = 0
	} else {
		w.fails++
	}

	succ := 0
	for i := 0; i < w.filled; i++ {
		if w.outcomes[i] {
			succ++
		}
	}
	return float64(succ) / float64(w.filled), w.fails
}

// Monitor periodically probes every registered provider and maintains ranked
// health snapshots.
type Monitor struct {
	cfg       Config
	providers *provider.Registry
	breakers  *resilience.Registry

	mu      sync.Mutex
	health  map[voice.ProviderID]Health
	windows map[voice.ProviderID]*window
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a [Monitor] probing the clients in providers and reporting
// outcomes to their breakers.
func New(providers *provider.Registry, breakers *resilience.Registry, cfg Config) *Monitor {
	return &Monitor{
		cfg:       cfg.withDefaults(),
		providers: providers,
		breakers:  breakers,
		health:    make(map[voice.ProviderID]Health),
		windows:   make(map[voice.ProviderID]*window),
	}
}

// Start launches the background probing loop. Calling Start on a running
// monitor is a no-op. The first probe cycle runs immediately.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.loop(loopCtx, m.done)
	slog.Info("health monitor started",
		"interval", m.cfg.Interval,
		"probe_timeout", m.cfg.ProbeTimeout,
		"providers", len(m.providers.IDs()),
	)
}

// Stop cancels the probing loop and waits — bounded by ShutdownWait — for the
// in-flight cycle to finish. Calling Stop on a stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(m.cfg.ShutdownWait):
		slog.Warn("health monitor stop timed out waiting for probe cycle")
	}
	slog.Info("health monitor stopped")
}

// loop is the supervisory goroutine: one probe cycle immediately, then one
// per interval until the context is cancelled. done is closed on exit so
// Stop can bound its wait.
func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.probeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeAll(ctx)
		}
	}
}

// probeAll probes every registered provider concurrently. Probe errors are
// absorbed per provider; the group never returns an error.
func (m *Monitor) probeAll(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range m.providers.IDs() {
		g.Go(func() error {
			m.probeOne(gctx, id)
			return nil
		})
	}
	_ = g.Wait()
}

// probeOne runs a single bounded probe through the provider's breaker and
// replaces the provider's health snapshot.
func (m *Monitor) probeOne(ctx context.Context, id voice.ProviderID) {
	client, err := m.providers.Get(id)
	if err != nil {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	probeErr := m.breakers.Execute(probeCtx, id, func(ctx context.Context) error {
		return client.Probe(ctx)
	})
	latency := time.Since(start)

	if m.cfg.OnProbe != nil {
		m.cfg.OnProbe(id, latency, probeErr)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[id]
	if !ok {
		w = newWindow(m.cfg.WindowSize)
		m.windows[id] = w
	}
	rate, fails := w.add(probeErr == nil)

	h := Health{
		ProviderID:          id,
		Latency:             latency,
		SuccessRate:         rate,
		ConsecutiveFailures: fails,
		LastChecked:         time.Now().UTC(),
	}
	switch {
	case probeErr != nil:
		h.Status = StatusUnhealthy
		h.Latency = 0
	case latency > m.cfg.DegradedLatency || rate < m.cfg.DegradedSuccessRate:
		h.Status = StatusDegraded
	default:
		h.Status = StatusHealthy
	}
	m.health[id] = h

	if probeErr != nil {
		// Expected steady-state condition — keep the noise down.
		if errors.Is(probeErr, resilience.ErrCircuitOpen) {
			slog.Debug("provider probe skipped, circuit open", "provider", id)
		} else {
			slog.Info("provider probe failed",
				"provider", id,
				"consecutive_failures", fails,
				"err", probeErr,
			)
		}
	}
}

// ProviderHealth returns the latest snapshot for id. The second return is
// false when the provider has never been probed and is not registered.
func (m *Monitor) ProviderHealth(id voice.ProviderID) (Health, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.health[id]; ok {
		return h, true
	}
	if m.providers.Has(id) {
		return Health{ProviderID: id, Status: StatusUnknown}, true
	}
	return Health{}, false
}

// HealthyProviders returns the ids of all providers currently classified
// healthy, lowest latency first. Degraded and unhealthy providers are
// excluded.
func (m *Monitor) HealthyProviders() []voice.ProviderID {
	m.mu.Lock()
	defer m.mu.Unlock()

	healthy := make([]Health, 0, len(m.health))
	for _, h := range m.health {
		if h.Status == StatusHealthy {
			healthy = append(healthy, h)
		}
	}
	sort.Slice(healthy, func(i, j int) bool {
		if healthy[i].Latency != healthy[j].Latency {
			return healthy[i].Latency < healthy[j].Latency
		}
		return healthy[i].ProviderID < healthy[j].ProviderID
	})

	ids := make([]voice.ProviderID, len(healthy))
	for i, h := range healthy {
		ids[i] = h.ProviderID
	}
	return ids
}

// AllProvidersHealth returns the latest snapshot for every registered
// provider. Providers not yet probed are reported as [StatusUnknown].
func (m *Monitor) AllProvidersHealth() map[voice.ProviderID]Health {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[voice.ProviderID]Health, len(m.health))
	for _, id := range m.providers.IDs() {
		if h, ok := m.health[id]; ok {
			out[id] = h
		} else {
			out[id] = Health{ProviderID: id, Status: StatusUnknown}
		}
	}
	return out
}

// ProbeNow forces one synchronous probe cycle outside the regular interval.
// Used by tests and by operational tooling after a configuration change.
func (m *Monitor) ProbeNow(ctx context.Context) {
	m.probeAll(ctx)
}
