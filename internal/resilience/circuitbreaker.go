// Package resilience provides the per-provider circuit breaker that protects
// live voice sessions from a degrading AI backend.
//
// The central type is [CircuitBreaker], a classic three-state breaker
// (closed → open → half-open). Calls to a provider are wrapped in
// [CircuitBreaker.Execute]; once a provider has failed FailureThreshold times
// in a row the breaker opens and rejects calls immediately with
// [ErrCircuitOpen] until the cooldown elapses. The open→half-open transition
// is lazy: there is no background timer, the next call after the cooldown
// performs the transition before being let through.
//
// A [Registry] owns one breaker per registered provider so that every caller
// — the failover orchestrator, the health monitor, the call-handling layer —
// shares the same failure accounting for a given provider.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is
// in the open state (or the half-open probe budget is exhausted) and the call
// was rejected without invoking the provider. This is an expected steady-state
// condition, not an application error.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed is the normal operating state — all calls are forwarded.
	StateClosed State = iota

	// StateOpen indicates the breaker has tripped due to consecutive failures.
	// Calls are rejected immediately with [ErrCircuitOpen] until the cooldown
	// elapses.
	StateOpen

	// StateHalfOpen is the probe state entered after the cooldown. A limited
	// number of concurrent calls are allowed through; enough successes close
	// the breaker, any failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the state as its string form.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Config holds the immutable tuning knobs for a [CircuitBreaker]. It is set
// once at construction and never mutated.
type Config struct {
	// Name is a human-readable label, typically the provider id.
	Name string

	// FailureThreshold is the number of consecutive failures in the closed
	// state before the breaker opens. Default: 5.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successes required in the
	// half-open state before the breaker closes. Default: 2.
	SuccessThreshold int

	// Timeout is how long the breaker stays open before probe calls are
	// allowed. Default: 30s.
	Timeout time.Duration

	// HalfOpenMaxCalls caps the number of concurrent probe calls in the
	// half-open state. Default: 3.
	HalfOpenMaxCalls int
}

// withDefaults returns cfg with zero-value fields replaced by defaults.
func (cfg Config) withDefaults() Config {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 3
	}
	return cfg
}

// Metrics holds the call counters for one breaker. The call counters are
// monotonic for the breaker's lifetime (cleared only by
// [CircuitBreaker.Reset]); the Consecutive* fields are zeroed on every
// opposite-outcome event.
type Metrics struct {
	TotalCalls           int64 `json:"total_calls"`
	SuccessfulCalls      int64 `json:"successful_calls"`
	FailedCalls          int64 `json:"failed_calls"`
	RejectedCalls        int64 `json:"rejected_calls"`
	ConsecutiveFailures  int64 `json:"consecutive_failures"`
	ConsecutiveSuccesses int64 `json:"consecutive_successes"`
	StateTransitions     int64 `json:"state_transitions"`
}

// Status is a read-only snapshot of a breaker, suitable for admin endpoints
// and logs.
type Status struct {
	Name    string  `json:"name"`
	State   State   `json:"state"`
	Metrics Metrics `json:"metrics"`
	Config  Config  `json:"config"`

	// RetryAfter is how long callers should wait before the breaker will let
	// a probe through. Populated only while the breaker is open; never exceeds
	// Config.Timeout.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// TransitionHook is invoked after every state transition with the breaker
// name and the old and new states. The hook runs inside the breaker's
// critical section and must not call back into the breaker.
type TransitionHook func(name string, from, to State)

// CircuitBreaker implements the three-state circuit breaker pattern with full
// call accounting. It is safe for concurrent use from multiple goroutines;
// every state+metrics mutation happens in a single critical section.
type CircuitBreaker struct {
	cfg  Config
	hook TransitionHook

	mu            sync.Mutex
	state         State
	metrics       Metrics
	openedAt      time.Time
	halfOpenCalls int // in-flight probe calls while half-open
}

// New creates a [CircuitBreaker] with the supplied configuration.
// Zero-value config fields are replaced with sensible defaults.
func New(cfg Config) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:   cfg.withDefaults(),
		state: StateClosed,
	}
}

// OnTransition registers a hook called after every state change. Intended for
// metrics wiring; set once before the breaker is shared.
func (cb *CircuitBreaker) OnTransition(hook TransitionHook) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.hook = hook
}

// Execute runs op if the breaker allows it. In the open state it returns
// [ErrCircuitOpen] without calling op. In the half-open state up to
// HalfOpenMaxCalls probe calls are permitted concurrently.
//
// op's own error is returned after the failure is recorded; a context
// deadline inside op counts as a failure like any other error.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := cb.acquire(); err != nil {
		return err
	}

	err := op(ctx)

	cb.record(err)
	return err
}

// acquire decides whether a call may proceed, performing the lazy
// open→half-open transition and half-open admission control. On rejection it
// updates the rejected counters and returns [ErrCircuitOpen].
func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) < cb.cfg.Timeout {
			cb.metrics.TotalCalls++
			cb.metrics.RejectedCalls++
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.halfOpenCalls = 0
		cb.metrics.ConsecutiveSuccesses = 0
		slog.Info("circuit breaker transitioning to half-open", "name", cb.cfg.Name)

	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.cfg.HalfOpenMaxCalls {
			cb.metrics.TotalCalls++
			cb.metrics.RejectedCalls++
			return ErrCircuitOpen
		}
	}

	if cb.state == StateHalfOpen {
		cb.halfOpenCalls++
	}
	cb.metrics.TotalCalls++
	return nil
}

// record applies the call outcome to the breaker state. Success and failure
// classification is purely "did op return an error".
func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.halfOpenCalls > 0 {
		cb.halfOpenCalls--
	}

	if err != nil {
		cb.metrics.FailedCalls++
		cb.metrics.ConsecutiveSuccesses = 0
		cb.metrics.ConsecutiveFailures++

		switch cb.state {
		case StateClosed:
			if cb.metrics.ConsecutiveFailures >= int64(cb.cfg.FailureThreshold) {
				cb.openedAt = time.Now()
				cb.transition(StateOpen)
				slog.Warn("circuit breaker opened",
					"name", cb.cfg.Name,
					"consecutive_failures", cb.metrics.ConsecutiveFailures)
			}
		case StateHalfOpen:
			// Any failure during probing re-opens immediately.
			cb.openedAt = time.Now()
			cb.transition(StateOpen)
			slog.Info("circuit breaker re-opened from half-open", "name", cb.cfg.Name)
		}
		return
	}

	cb.metrics.SuccessfulCalls++
	cb.metrics.ConsecutiveFailures = 0
	cb.metrics.ConsecutiveSuccesses++

	if cb.state == StateHalfOpen &&
		cb.metrics.ConsecutiveSuccesses >= int64(cb.cfg.SuccessThreshold) {
		cb.transition(StateClosed)
		cb.metrics.ConsecutiveFailures = 0
		cb.metrics.ConsecutiveSuccesses = 0
		cb.halfOpenCalls = 0
		slog.Info("circuit breaker closed after successful probes", "name", cb.cfg.Name)
	}
}

// transition moves the breaker to next, bumping the transition counter and
// firing the hook. Must be called with cb.mu held.
func (cb *CircuitBreaker) transition(next State) {
	prev := cb.state
	if prev == next {
		return
	}
	cb.state = next
	cb.metrics.StateTransitions++
	if cb.hook != nil {
		cb.hook(cb.cfg.Name, prev, next)
	}
}

// State returns the current [State] of the breaker. If the breaker is open
// and the cooldown has elapsed, the returned state is [StateHalfOpen] (the
// actual transition happens on the next [CircuitBreaker.Execute] call).
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.cfg.Timeout {
		return StateHalfOpen
	}
	return cb.state
}

// Status returns a read-only snapshot of the breaker.
func (cb *CircuitBreaker) Status() Status {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	st := Status{
		Name:    cb.cfg.Name,
		State:   cb.state,
		Metrics: cb.metrics,
		Config:  cb.cfg,
	}
	if cb.state == StateOpen {
		if remaining := cb.cfg.Timeout - time.Since(cb.openedAt); remaining > 0 {
			st.RetryAfter = remaining
		}
	}
	return st
}

// Reset forces the breaker back to [StateClosed] and zeroes all counters.
// Administrative use only.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transition(StateClosed)
	cb.metrics = Metrics{}
	cb.openedAt = time.Time{}
	cb.halfOpenCalls = 0
	slog.Info("circuit breaker manually reset", "name", cb.cfg.Name)
}

// ForceOpen forces the breaker open regardless of current state, for manual
// incident response. The cooldown starts now.
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.openedAt = time.Now()
	cb.transition(StateOpen)
	slog.Warn("circuit breaker forced open", "name", cb.cfg.Name)
}

// Do runs op through cb and returns its result value. This is a package-level
// function because Go does not support method-level type parameters.
func Do[T any](ctx context.Context, cb *CircuitBreaker, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = op(ctx)
		return innerErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
