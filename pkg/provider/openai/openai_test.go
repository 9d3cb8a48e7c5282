package openai_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voxguard-ai/voxguard/pkg/provider/openai"
)

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := openai.New("openai", ""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestProbe_OK(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"gpt-4o-realtime-preview","object":"model","owned_by":"openai"}`))
	}))
	defer srv.Close()

	c, err := openai.New("openai", "test-key", openai.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Probe(context.Background()); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !strings.HasSuffix(gotPath, "/models/gpt-4o-realtime-preview") {
		t.Errorf("probe path = %s", gotPath)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %s, want Bearer test-key", gotAuth)
	}
}

func TestProbe_AuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	c, err := openai.New("openai", "bad-key", openai.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = c.Probe(context.Background())
	if err == nil || !strings.Contains(err.Error(), "probe model") {
		t.Errorf("Probe error = %v, want probe model failure", err)
	}
}

func TestInitialize_DialsRealtimeEndpoint(t *testing.T) {
	type dialInfo struct {
		model string
		auth  string
		beta  string
	}
	dialCh := make(chan dialInfo, 1)
	closed := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dialCh <- dialInfo{
			model: r.URL.Query().Get("model"),
			auth:  r.Header.Get("Authorization"),
			beta:  r.Header.Get("OpenAI-Beta"),
		}
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		<-conn.CloseRead(context.Background()).Done()
		close(closed)
	}))
	defer srv.Close()

	c, err := openai.New("openai", "test-key", openai.WithRealtimeURL(wsURL(srv)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if err := c.Initialize(ctx, "call-1"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	select {
	case info := <-dialCh:
		if info.model != "gpt-4o-realtime-preview" {
			t.Errorf("model = %s", info.model)
		}
		if info.auth != "Bearer test-key" {
			t.Errorf("Authorization = %s", info.auth)
		}
		if info.beta != "realtime=v1" {
			t.Errorf("OpenAI-Beta = %s", info.beta)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never saw the realtime dial")
	}

	if err := c.Pause(ctx, "call-1"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("Pause did not close the realtime connection")
	}
}

func TestInitialize_DialFailure(t *testing.T) {
	// Plain HTTP handler that refuses the upgrade.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no websocket here", http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := openai.New("openai", "test-key", openai.WithRealtimeURL(wsURL(srv)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Initialize(context.Background(), "call-1"); err == nil {
		t.Error("Initialize should fail when the upgrade is refused")
	}
}

func TestPause_NoWarmConnection(t *testing.T) {
	c, err := openai.New("openai", "test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Pause(context.Background(), "never-initialised"); err != nil {
		t.Errorf("Pause without warm connection: %v", err)
	}
}
