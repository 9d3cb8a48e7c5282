package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

func failOp(context.Context) error { return errTest }
func okOp(context.Context) error   { return nil }

func TestNew_Defaults(t *testing.T) {
	cb := New(Config{Name: "test"})
	if cb.cfg.FailureThreshold != 5 {
		t.Errorf("FailureThreshold = %d, want 5", cb.cfg.FailureThreshold)
	}
	if cb.cfg.SuccessThreshold != 2 {
		t.Errorf("SuccessThreshold = %d, want 2", cb.cfg.SuccessThreshold)
	}
	if cb.cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cb.cfg.Timeout)
	}
	if cb.cfg.HalfOpenMaxCalls != 3 {
		t.Errorf("HalfOpenMaxCalls = %d, want 3", cb.cfg.HalfOpenMaxCalls)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_ClosedAllowsCalls(t *testing.T) {
	cb := New(Config{Name: "test", FailureThreshold: 3})
	called := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("op was not called")
	}

	st := cb.Status()
	if st.Metrics.TotalCalls != 1 || st.Metrics.SuccessfulCalls != 1 {
		t.Errorf("metrics = %+v, want 1 total / 1 successful", st.Metrics)
	}
}

func TestCircuitBreaker_OpensAtExactThreshold(t *testing.T) {
	cb := New(Config{
		Name:             "test",
		FailureThreshold: 3,
		Timeout:          time.Hour, // long cooldown so it stays open
	})

	_ = cb.Execute(context.Background(), failOp)
	_ = cb.Execute(context.Background(), failOp)
	if cb.State() != StateClosed {
		t.Fatal("opened before reaching the threshold")
	}

	_ = cb.Execute(context.Background(), failOp)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after 3 failures", cb.State())
	}
	if got := cb.Status().Metrics.StateTransitions; got != 1 {
		t.Errorf("StateTransitions = %d, want 1", got)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{Name: "test", FailureThreshold: 3})

	// 2 failures, then a success — should not open and no transition occurs.
	_ = cb.Execute(context.Background(), failOp)
	_ = cb.Execute(context.Background(), failOp)
	_ = cb.Execute(context.Background(), okOp)

	st := cb.Status()
	if st.State != StateClosed {
		t.Fatalf("state = %v, want closed", st.State)
	}
	if st.Metrics.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0 after success", st.Metrics.ConsecutiveFailures)
	}
	if st.Metrics.StateTransitions != 0 {
		t.Errorf("StateTransitions = %d, want 0", st.Metrics.StateTransitions)
	}

	// Needs 3 fresh consecutive failures to open now.
	_ = cb.Execute(context.Background(), failOp)
	_ = cb.Execute(context.Background(), failOp)
	if cb.State() != StateClosed {
		t.Fatal("should still be closed after 2 failures post-reset")
	}
}

func TestCircuitBreaker_OpenRejectsWithoutExecuting(t *testing.T) {
	cb := New(Config{Name: "test", FailureThreshold: 2, Timeout: time.Hour})

	_ = cb.Execute(context.Background(), failOp)
	_ = cb.Execute(context.Background(), failOp)

	executed := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		executed = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if executed {
		t.Fatal("wrapped op executed while open")
	}

	st := cb.Status()
	if st.Metrics.RejectedCalls != 1 {
		t.Errorf("RejectedCalls = %d, want 1", st.Metrics.RejectedCalls)
	}
	if st.RetryAfter <= 0 || st.RetryAfter > time.Hour {
		t.Errorf("RetryAfter = %v, want in (0, timeout]", st.RetryAfter)
	}
}

func TestCircuitBreaker_RetryAfterOnlyWhileOpen(t *testing.T) {
	cb := New(Config{Name: "test"})
	if got := cb.Status().RetryAfter; got != 0 {
		t.Errorf("RetryAfter = %v while closed, want 0", got)
	}
}

func TestCircuitBreaker_OpenToHalfOpenAfterTimeout(t *testing.T) {
	cb := New(Config{
		Name:             "test",
		FailureThreshold: 2,
		Timeout:          10 * time.Millisecond,
	})

	_ = cb.Execute(context.Background(), failOp)
	_ = cb.Execute(context.Background(), failOp)
	if cb.State() != StateOpen {
		t.Fatal("expected open")
	}

	time.Sleep(15 * time.Millisecond)

	// State() reports half-open; the lazy transition happens on Execute.
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after timeout", cb.State())
	}

	executed := false
	_ = cb.Execute(context.Background(), func(context.Context) error {
		executed = true
		return nil
	})
	if !executed {
		t.Fatal("probe call was not let through after the cooldown")
	}
}

func TestCircuitBreaker_HalfOpenToClosed(t *testing.T) {
	cb := New(Config{
		Name:             "test",
		FailureThreshold: 2,
		SuccessThreshold: 2,
		Timeout:          10 * time.Millisecond,
	})

	_ = cb.Execute(context.Background(), failOp)
	_ = cb.Execute(context.Background(), failOp)
	time.Sleep(15 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := cb.Execute(context.Background(), okOp); err != nil {
			t.Fatalf("probe %d: unexpected error: %v", i, err)
		}
	}

	st := cb.Status()
	if st.State != StateClosed {
		t.Fatalf("state = %v, want closed after successful probes", st.State)
	}
	if st.Metrics.ConsecutiveFailures != 0 || st.Metrics.ConsecutiveSuccesses != 0 {
		t.Errorf("consecutive counters = %d/%d, want 0/0 after close",
			st.Metrics.ConsecutiveFailures, st.Metrics.ConsecutiveSuccesses)
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := New(Config{
		Name:             "test",
		FailureThreshold: 2,
		Timeout:          10 * time.Millisecond,
		HalfOpenMaxCalls: 3,
	})

	_ = cb.Execute(context.Background(), failOp)
	_ = cb.Execute(context.Background(), failOp)
	time.Sleep(15 * time.Millisecond)

	err := cb.Execute(context.Background(), failOp)
	if !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want the probe's own error", err)
	}

	// Open again (raw state, not the State() view which reflects elapsed time).
	cb.mu.Lock()
	s := cb.state
	cb.mu.Unlock()
	if s != StateOpen {
		t.Fatalf("state = %v, want open after half-open failure", s)
	}
}

func TestCircuitBreaker_HalfOpenConcurrencyCap(t *testing.T) {
	cb := New(Config{
		Name:             "test",
		FailureThreshold: 1,
		SuccessThreshold: 3,
		Timeout:          5 * time.Millisecond,
		HalfOpenMaxCalls: 2,
	})

	_ = cb.Execute(context.Background(), failOp)
	time.Sleep(10 * time.Millisecond)

	// Hold two probe slots open, then verify a third call is rejected.
	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(context.Background(), func(context.Context) error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}
	<-started
	<-started

	err := cb.Execute(context.Background(), okOp)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen when probe budget exhausted", err)
	}

	close(release)
	wg.Wait()
}

func TestCircuitBreaker_RecoveryScenario(t *testing.T) {
	// failure_threshold=3, success_threshold=2, timeout=1s: three failures
	// open the breaker, waiting past the cooldown and two successes close it.
	cb := New(Config{
		Name:             "scenario",
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          50 * time.Millisecond,
	})

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), failOp)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	time.Sleep(60 * time.Millisecond)

	_ = cb.Execute(context.Background(), okOp)
	_ = cb.Execute(context.Background(), okOp)

	st := cb.Status()
	if st.State != StateClosed {
		t.Fatalf("state = %v, want closed", st.State)
	}
	if st.Metrics.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0", st.Metrics.ConsecutiveFailures)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := New(Config{Name: "test", FailureThreshold: 2, Timeout: time.Hour})

	_ = cb.Execute(context.Background(), failOp)
	_ = cb.Execute(context.Background(), failOp)
	if cb.State() != StateOpen {
		t.Fatal("expected open")
	}

	cb.Reset()
	st := cb.Status()
	if st.State != StateClosed {
		t.Fatalf("state = %v, want closed after reset", st.State)
	}
	if st.Metrics != (Metrics{}) {
		t.Errorf("metrics = %+v, want zeroed after reset", st.Metrics)
	}

	if err := cb.Execute(context.Background(), okOp); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestCircuitBreaker_ForceOpen(t *testing.T) {
	cb := New(Config{Name: "test", Timeout: time.Hour})
	if cb.State() != StateClosed {
		t.Fatal("expected closed")
	}

	cb.ForceOpen()
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after ForceOpen", cb.State())
	}
	err := cb.Execute(context.Background(), okOp)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_TransitionHook(t *testing.T) {
	var (
		mu          sync.Mutex
		transitions []string
	)
	cb := New(Config{Name: "hooked", FailureThreshold: 1, Timeout: 5 * time.Millisecond})
	cb.OnTransition(func(name string, from, to State) {
		mu.Lock()
		transitions = append(transitions, from.String()+"->"+to.String())
		mu.Unlock()
	})

	_ = cb.Execute(context.Background(), failOp)
	time.Sleep(10 * time.Millisecond)
	_ = cb.Execute(context.Background(), okOp)

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) < 2 {
		t.Fatalf("transitions = %v, want at least closed->open, open->half-open", transitions)
	}
	if transitions[0] != "closed->open" {
		t.Errorf("transitions[0] = %q, want closed->open", transitions[0])
	}
	if transitions[1] != "open->half-open" {
		t.Errorf("transitions[1] = %q, want open->half-open", transitions[1])
	}
}

func TestCircuitBreaker_ConcurrentCallers(t *testing.T) {
	cb := New(Config{Name: "concurrent", FailureThreshold: 1000})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			op := okOp
			if i%2 == 0 {
				op = failOp
			}
			_ = cb.Execute(context.Background(), op)
		}(i)
	}
	wg.Wait()

	st := cb.Status()
	if st.Metrics.TotalCalls != 50 {
		t.Errorf("TotalCalls = %d, want 50", st.Metrics.TotalCalls)
	}
	if st.Metrics.SuccessfulCalls+st.Metrics.FailedCalls != 50 {
		t.Errorf("successful+failed = %d, want 50", st.Metrics.SuccessfulCalls+st.Metrics.FailedCalls)
	}
}

func TestDo_ReturnsValue(t *testing.T) {
	cb := New(Config{Name: "test"})
	got, err := Do(context.Background(), cb, func(context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("got = %q, want ok", got)
	}
}

func TestDo_ZeroValueOnError(t *testing.T) {
	cb := New(Config{Name: "test"})
	got, err := Do(context.Background(), cb, func(context.Context) (int, error) {
		return 42, errTest
	})
	if !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want errTest", err)
	}
	if got != 0 {
		t.Errorf("got = %d, want zero value on error", got)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
