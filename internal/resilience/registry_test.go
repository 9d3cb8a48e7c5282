package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRegistry_SharedAccounting(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 2, Timeout: time.Hour}, nil)

	// Two callers routing to the same provider share one breaker.
	_ = r.Execute(context.Background(), "openai", failOp)
	_ = r.Execute(context.Background(), "openai", failOp)

	err := r.Execute(context.Background(), "openai", okOp)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}

	// A different provider is unaffected.
	if err := r.Execute(context.Background(), "gemini", okOp); err != nil {
		t.Fatalf("gemini call failed: %v", err)
	}
}

func TestRegistry_ForReturnsSameBreaker(t *testing.T) {
	r := NewRegistry(Config{}, nil)
	if r.For("openai") != r.For("openai") {
		t.Fatal("For returned distinct breakers for the same provider")
	}
	if r.For("openai") == r.For("gemini") {
		t.Fatal("For returned one breaker for distinct providers")
	}
}

func TestRegistry_BreakerNamedAfterProvider(t *testing.T) {
	r := NewRegistry(Config{Name: "base"}, nil)
	if got := r.For("gemini").Status().Name; got != "gemini" {
		t.Errorf("breaker name = %q, want gemini", got)
	}
}

func TestRegistry_HookInstalledOnCreation(t *testing.T) {
	var (
		mu    sync.Mutex
		names []string
	)
	r := NewRegistry(Config{FailureThreshold: 1, Timeout: time.Hour},
		func(name string, from, to State) {
			mu.Lock()
			names = append(names, name)
			mu.Unlock()
		})

	_ = r.Execute(context.Background(), "openai", failOp)

	mu.Lock()
	defer mu.Unlock()
	if len(names) != 1 || names[0] != "openai" {
		t.Fatalf("hook calls = %v, want [openai]", names)
	}
}

func TestRegistry_Statuses(t *testing.T) {
	r := NewRegistry(Config{}, nil)
	_ = r.Execute(context.Background(), "openai", okOp)
	_ = r.Execute(context.Background(), "gemini", failOp)

	statuses := r.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("len(statuses) = %d, want 2", len(statuses))
	}
	if statuses["openai"].Metrics.SuccessfulCalls != 1 {
		t.Errorf("openai successful = %d, want 1", statuses["openai"].Metrics.SuccessfulCalls)
	}
	if statuses["gemini"].Metrics.FailedCalls != 1 {
		t.Errorf("gemini failed = %d, want 1", statuses["gemini"].Metrics.FailedCalls)
	}
}

func TestRegistry_ResetUnknown(t *testing.T) {
	r := NewRegistry(Config{}, nil)
	if err := r.Reset("ghost"); err == nil {
		t.Fatal("expected error resetting unknown provider")
	}
}

func TestRegistry_Reset(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, Timeout: time.Hour}, nil)
	_ = r.Execute(context.Background(), "openai", failOp)
	if r.For("openai").State() != StateOpen {
		t.Fatal("expected open")
	}
	if err := r.Reset("openai"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if r.For("openai").State() != StateClosed {
		t.Fatal("expected closed after reset")
	}
}
