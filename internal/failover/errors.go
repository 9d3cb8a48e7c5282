package failover

import (
	"errors"
	"fmt"

	"github.com/voxguard-ai/voxguard/pkg/voice"
)

// Sentinel errors returned by the orchestrator. Callers match them with
// [errors.Is] to map failures to transport-specific responses.
var (
	// ErrSwitchInProgress is returned when a switch is requested for a
	// session that already has one in flight.
	ErrSwitchInProgress = errors.New("provider switch already in progress")

	// ErrInvalidRequest is returned for malformed switch requests (empty
	// session id, unknown target provider, source equal to target) before
	// any side effect takes place.
	ErrInvalidRequest = errors.New("invalid switch request")

	// ErrProviderMismatch is returned when the declared source provider does
	// not match the provider the session is actually on.
	ErrProviderMismatch = errors.New("session is not on the declared provider")
)

// ExecutionError reports a switch that failed mid-flight. The session remains
// on its original provider: the provider assignment is only persisted on a
// fully successful switch.
type ExecutionError struct {
	SessionID string
	From      voice.ProviderID
	To        voice.ProviderID
	Step      string
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("switch %s -> %s for session %s failed at %s: %v",
		e.From, e.To, e.SessionID, e.Step, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
