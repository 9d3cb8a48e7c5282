package session

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/voxguard-ai/voxguard/pkg/voice"
)

func TestMemStore_GetMissing(t *testing.T) {
	s := NewMemStore()
	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemStore_PutAndGet(t *testing.T) {
	s := NewMemStore()
	sess := &Session{
		ID:         "s1",
		ProviderID: "gemini",
		Messages: []voice.Message{
			{Role: "user", Content: "hello"},
		},
	}
	if err := s.Put(context.Background(), sess); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Get(context.Background(), "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ProviderID != "gemini" {
		t.Errorf("provider = %q, want gemini", got.ProviderID)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "hello" {
		t.Errorf("messages = %+v, want one hello", got.Messages)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set on put")
	}
}

func TestMemStore_GetReturnsCopy(t *testing.T) {
	s := NewMemStore()
	_ = s.Put(context.Background(), &Session{
		ID:       "s1",
		Messages: []voice.Message{{Role: "user", Content: "original"}},
	})

	got, _ := s.Get(context.Background(), "s1")
	got.Messages[0].Content = "mutated"

	again, _ := s.Get(context.Background(), "s1")
	if again.Messages[0].Content != "original" {
		t.Error("mutating a Get result leaked into the store")
	}
}

func TestMemStore_UpdateMissing(t *testing.T) {
	s := NewMemStore()
	err := s.Update(context.Background(), &Session{ID: "ghost"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemStore_Update(t *testing.T) {
	s := NewMemStore()
	_ = s.Put(context.Background(), &Session{ID: "s1", ProviderID: "gemini"})

	sess, _ := s.Get(context.Background(), "s1")
	sess.ProviderID = "openai"
	if err := s.Update(context.Background(), sess); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := s.Get(context.Background(), "s1")
	if got.ProviderID != "openai" {
		t.Errorf("provider = %q, want openai", got.ProviderID)
	}
	if !got.UpdatedAt.After(got.CreatedAt) && !got.UpdatedAt.Equal(got.CreatedAt) {
		t.Error("UpdatedAt not bumped")
	}
}

func TestSession_Clone(t *testing.T) {
	orig := &Session{
		ID:       "s1",
		Messages: []voice.Message{{Role: "user", Content: "a"}},
		Insights: map[string]any{"topic": "billing"},
		Metadata: map[string]any{"region": "eu"},
	}
	c := orig.Clone()
	c.Messages[0].Content = "b"
	c.Insights["topic"] = "support"
	c.Metadata["region"] = "us"

	if orig.Messages[0].Content != "a" {
		t.Error("clone shares messages")
	}
	if orig.Insights["topic"] != "billing" {
		t.Error("clone shares insights")
	}
	if orig.Metadata["region"] != "eu" {
		t.Error("clone shares metadata")
	}
}

func TestMemStore_SessionsOnProvider(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	_ = s.Put(ctx, &Session{ID: "a", ProviderID: "openai"})
	_ = s.Put(ctx, &Session{ID: "b", ProviderID: "gemini"})
	_ = s.Put(ctx, &Session{ID: "c", ProviderID: "openai"})

	ids, err := s.SessionsOnProvider(ctx, "openai")
	if err != nil {
		t.Fatalf("SessionsOnProvider: %v", err)
	}
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "c" {
		t.Errorf("ids = %v, want [a c]", ids)
	}

	none, err := s.SessionsOnProvider(ctx, "claude")
	if err != nil {
		t.Fatalf("SessionsOnProvider: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("ids = %v, want empty", none)
	}
}
