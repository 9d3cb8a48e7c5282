// Package failover orchestrates mid-call provider switches. It snapshots a
// session's conversation state, quiesces the old provider, warms up the new
// one, and commits the new provider assignment, guaranteeing that at most one
// switch runs per session at any instant and that the session stays on its
// original provider whenever a switch fails before the commit.
package failover

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/voxguard-ai/voxguard/internal/monitor"
	"github.com/voxguard-ai/voxguard/pkg/provider"
	"github.com/voxguard-ai/voxguard/pkg/session"
	"github.com/voxguard-ai/voxguard/pkg/voice"
)

// ReasonAutoFailover marks switches triggered by the health monitor rather
// than an operator or API call.
const ReasonAutoFailover = "auto_failover"

// Default orchestrator parameters.
const (
	defaultStepTimeout     = 5 * time.Second
	defaultStatusRetention = 1 * time.Second
)

// SwitchState is the lifecycle state of an in-flight provider switch.
type SwitchState string

const (
	SwitchInProgress SwitchState = "in_progress"
	SwitchCompleted  SwitchState = "completed"
	SwitchFailed     SwitchState = "failed"
)

// SwitchStatus tracks one in-flight (or just-finished) switch for a session.
// At most one exists per session id; its presence is the mutual-exclusion
// gate for [Orchestrator.SwitchProvider].
type SwitchStatus struct {
	SessionID string           `json:"session_id"`
	From      voice.ProviderID `json:"from_provider"`
	To        voice.ProviderID `json:"to_provider"`
	Reason    string           `json:"reason"`
	StartedAt time.Time        `json:"started_at"`
	State     SwitchState      `json:"state"`
}

// SwitchContext carries everything that must survive a provider change. It is
// built fresh at the start of every switch attempt and discarded afterwards.
type SwitchContext struct {
	Messages  []voice.Message
	Sentiment voice.Sentiment
	Insights  map[string]any
	Metadata  map[string]any
}

// SwitchResult is the immutable record of one switch attempt, appended to the
// per-session history whether the attempt succeeded or not.
type SwitchResult struct {
	Success          bool             `json:"success"`
	From             voice.ProviderID `json:"from_provider"`
	To               voice.ProviderID `json:"to_provider"`
	ContextPreserved int              `json:"context_preserved"`
	SwitchedAt       time.Time        `json:"switched_at"`
	Duration         time.Duration    `json:"duration"`
	ErrorMessage     string           `json:"error_message,omitempty"`
}

// HealthSource is the view of the health monitor the orchestrator needs to
// drive automatic failover. [monitor.Monitor] implements it.
type HealthSource interface {
	ProviderHealth(id voice.ProviderID) (monitor.Health, bool)
	HealthyProviders() []voice.ProviderID
}

// Config configures an [Orchestrator].
type Config struct {
	// StepTimeout bounds each provider-facing step of a switch (quiesce,
	// warm-up). Defaults to 5s if zero.
	StepTimeout time.Duration

	// StatusRetention is how long a terminal [SwitchStatus] stays readable
	// via [Orchestrator.SwitchStatus] before it is removed. Defaults to 1s
	// if zero.
	StatusRetention time.Duration

	// OnSwitch is called with the result of every switch attempt, success or
	// failure. May be nil. Invoked outside the orchestrator's lock.
	OnSwitch func(SwitchResult)
}

func (cfg Config) withDefaults() Config {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = defaultStepTimeout
	}
	if cfg.StatusRetention <= 0 {
		cfg.StatusRetention = defaultStatusRetention
	}
	return cfg
}

// Orchestrator executes provider switches for live sessions. Construct it
// with [New]; the zero value is not usable.
//
// All methods are safe for concurrent use. Switches for different sessions
// proceed in parallel; switches for the same session are serialized by
// rejecting all but the first.
type Orchestrator struct {
	cfg       Config
	store     session.Store
	providers *provider.Registry
	health    HealthSource

	mu       sync.Mutex
	inFlight map[string]*SwitchStatus
	history  map[string][]SwitchResult
}

// New creates an [Orchestrator] over the given session store, provider
// registry and health source.
func New(store session.Store, providers *provider.Registry, health HealthSource, cfg Config) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg.withDefaults(),
		store:     store,
		providers: providers,
		health:    health,
		inFlight:  make(map[string]*SwitchStatus),
		history:   make(map[string][]SwitchResult),
	}
}

// SwitchProvider moves the session from one provider to another, preserving
// its conversation context. The returned [SwitchResult] is also appended to
// the session's switch history.
//
/// Exactly one switch may be in flight per session: concurrent calls for the
// same session fail fast with [ErrSwitchInProgress]. On any failure before
// the new provider assignment is persisted, the session remains on from and
// the error wraps the step that failed.
//
// Quiescing the source and warming the target are best effort: their
// failures are logged (a warm-up failure is also recorded in the switch
// metadata) but do not fail the switch. Only request validation, loading
// the session, the ownership check, and persisting the new assignment
// can make SwitchProvider return an error.
func (o *Orchestrator) SwitchProvider(ctx context.Context, sessionID string, from, to voice.ProviderID, reason string) (SwitchResult, error) {
	if err := o.validate(sessionID, from, to); err != nil {
		return SwitchResult{}, err
	}

	st, err := o.acquire(sessionID, from, to, reason)
	if err != nil {
		return SwitchResult{}, err
	}

	sess, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return o.fail(st, fmt.Errorf("load session %s: %w", sessionID, err))
	}
	if sess.ProviderID != from {
		return o.fail(st, fmt.Errorf("%w: session %s is on %s, not %s",
			ErrProviderMismatch, sessionID, sess.ProviderID, from))
	}

	snapshot := snapshotContext(sess)

	// Quiescing the source is best-effort: a provider that is failing hard
	// enough to need a switch often cannot be paused cleanly either.
	if fromClient, err := o.providers.Get(from); err == nil {
		pauseCtx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
		if err := fromClient.Pause(pauseCtx, sessionID); err != nil {
			slog.Warn("failed to quiesce source provider, continuing switch",
				"session_id", sessionID,
				"provider", from,
				"err", err,
			)
		}
		cancel()
	}

	// Warm-up of the target is also best-effort: if it fails the connection
	// will be established lazily on first use, but the failure is recorded
	// in the session's switch bookkeeping.
	var warmupErr error
	toClient, err := o.providers.Get(to)
	if err != nil {
		return o.fail(st, &ExecutionError{SessionID: sessionID, From: from, To: to, Step: "resolve target", Err: err})
	}
	initCtx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
	if warmupErr = toClient.Initialize(initCtx, sessionID); warmupErr != nil {
		slog.Warn("target provider warm-up failed, connection deferred to first use",
			"session_id", sessionID,
			"provider", to,
			"err", warmupErr,
		)
	}
	cancel()

	restoreContext(sess, snapshot)
	recordSwitch(sess, from, to, reason, warmupErr)
	sess.ProviderID = to

	if err := o.store.Update(ctx, sess); err != nil {
		return o.fail(st, &ExecutionError{SessionID: sessionID, From: from, To: to, Step: "persist session", Err: err})
	}

	result := SwitchResult{
		Success:          true,
		From:             from,
		To:               to,
		ContextPreserved: len(snapshot.Messages),
		SwitchedAt:       time.Now().UTC(),
		Duration:         time.Since(st.StartedAt),
	}
	o.finish(st, SwitchCompleted, result)

	slog.Info("provider switch completed",
		"session_id", sessionID,
		"from", from,
		"to", to,
		"reason", reason,
		"context_preserved", result.ContextPreserved,
	)
	return result, nil
}

// AutoFailoverIfNeeded checks whether the session's current provider is
// unhealthy and, if so, switches to the lowest-latency healthy alternative.
// It returns nil without side effects when the current provider is fine or
// when no alternative exists; in the latter case the session is left
// unprotected, which is logged loudly.
func (o *Orchestrator) AutoFailoverIfNeeded(ctx context.Context, sessionID string) (*SwitchResult, error) {
	sess, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	h, ok := o.health.ProviderHealth(sess.ProviderID)
	if ok && h.Status != monitor.StatusUnhealthy {
		return nil, nil
	}

	var target voice.ProviderID
	for _, id := range o.health.HealthyProviders() {
		if id != sess.ProviderID {
			target = id
			break
		}
	}
	if target == "" {
		slog.Error("no healthy alternative provider, session left unprotected",
			"session_id", sessionID,
			"provider", sess.ProviderID,
		)
		return nil, nil
	}

	result, err := o.SwitchProvider(ctx, sessionID, sess.ProviderID, target, ReasonAutoFailover)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// SwitchStatus returns the in-flight (or recently finished) switch for the
// session, if any.
func (o *Orchestrator) SwitchStatus(sessionID string) (SwitchStatus, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.inFlight[sessionID]
	if !ok {
		return SwitchStatus{}, false
	}
	return *st, true
}

// SwitchHistory returns the session's switch attempts, oldest first. The
// returned slice is the caller's to keep.
func (o *Orchestrator) SwitchHistory(sessionID string) []SwitchResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.history[sessionID])
}

func (o *Orchestrator) validate(sessionID string, from, to voice.ProviderID) error {
	switch {
	case sessionID == "":
		return fmt.Errorf("%w: empty session id", ErrInvalidRequest)
	case to == "":
		return fmt.Errorf("%w: empty target provider", ErrInvalidRequest)
	case to == from:
		return fmt.Errorf("%w: target provider %s equals source", ErrInvalidRequest, to)
	case !o.providers.Has(to):
		return fmt.Errorf("%w: unknown target provider %s", ErrInvalidRequest, to)
	}
	return nil
}

// acquire registers the in-flight status for the session. Registration is the
// concurrency gate: a second switch for the same session fails here.
func (o *Orchestrator) acquire(sessionID string, from, to voice.ProviderID, reason string) (*SwitchStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st, ok := o.inFlight[sessionID]; ok {
		return nil, fmt.Errorf("%w: session %s switching %s -> %s since %s",
			ErrSwitchInProgress, sessionID, st.From, st.To, st.StartedAt.Format(time.RFC3339))
	}
	st := &SwitchStatus{
		SessionID: sessionID,
		From:      from,
		To:        to,
		Reason:    reason,
		StartedAt: time.Now().UTC(),
		State:     SwitchInProgress,
	}
	o.inFlight[sessionID] = st
	return st, nil
}

// fail records a failed attempt and releases the gate after the retention
// window. It always returns a non-nil error.
func (o *Orchestrator) fail(st *SwitchStatus, err error) (SwitchResult, error) {
	result := SwitchResult{
		From:         st.From,
		To:           st.To,
		SwitchedAt:   time.Now().UTC(),
		Duration:     time.Since(st.StartedAt),
		ErrorMessage: err.Error(),
	}
	o.finish(st, SwitchFailed, result)

	slog.Error("provider switch failed, session unchanged",
		"session_id", st.SessionID,
		"from", st.From,
		"to", st.To,
		"reason", st.Reason,
		"err", err,
	)
	return SwitchResult{}, err
}

// finish moves the status to a terminal state, appends the result to history
// and schedules the gate's removal after the retention window so immediately
// following status reads still see the outcome.
func (o *Orchestrator) finish(st *SwitchStatus, state SwitchState, result SwitchResult) {
	o.mu.Lock()
	st.State = state
	o.history[st.SessionID] = append(o.history[st.SessionID], result)
	o.mu.Unlock()

	time.AfterFunc(o.cfg.StatusRetention, func() {
		o.mu.Lock()
		if cur, ok := o.inFlight[st.SessionID]; ok && cur == st {
			delete(o.inFlight, st.SessionID)
		}
		o.mu.Unlock()
	})

	if o.cfg.OnSwitch != nil {
		o.cfg.OnSwitch(result)
	}
}

// snapshotContext copies the conversation state that must survive the switch.
func snapshotContext(sess *session.Session) SwitchContext {
	return SwitchContext{
		Messages:  slices.Clone(sess.Messages),
		Sentiment: sess.Sentiment,
		Insights:  maps.Clone(sess.Insights),
		Metadata:  maps.Clone(sess.Metadata),
	}
}

// restoreContext writes the snapshot back onto the session. Only non-empty
// snapshot fields are applied: an empty snapshot must never erase state the
// session already holds.
func restoreContext(sess *session.Session, snap SwitchContext) {
	if len(snap.Messages) > 0 {
		sess.Messages = snap.Messages
	}
	if snap.Sentiment != "" {
		sess.Sentiment = snap.Sentiment
	}
	if len(snap.Insights) > 0 {
		sess.Insights = snap.Insights
	}
	if len(snap.Metadata) > 0 {
		sess.Metadata = snap.Metadata
	}
}

// recordSwitch appends the switch to the session's own metadata so the record
// travels with the session through the store.
func recordSwitch(sess *session.Session, from, to voice.ProviderID, reason string, warmupErr error) {
	record := map[string]any{
		"from":        string(from),
		"to":          string(to),
		"reason":      reason,
		"switched_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if warmupErr != nil {
		record["warmup_error"] = warmupErr.Error()
	}
	if sess.Metadata == nil {
		sess.Metadata = make(map[string]any)
	}
	switches, _ := sess.Metadata["provider_switches"].([]any)
	sess.Metadata["provider_switches"] = append(switches, record)
}
