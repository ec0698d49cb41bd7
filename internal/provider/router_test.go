package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

// fakeProvider is a scripted provider for router tests.
type fakeProvider struct {
	id      string
	content string
	err     error
	calls   int
}

func (f *fakeProvider) ID() string   { return f.id }
func (f *fakeProvider) Name() string { return f.id }

func (f *fakeProvider) Chat(_ context.Context, _ *ChatRequest) (*ChatResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &ChatResponse{Content: f.content}, nil
}

func (f *fakeProvider) HealthCheck(_ context.Context) error { return f.err }

func TestRouterFallbackChain(t *testing.T) {
	primary := &fakeProvider{id: "a", err: errors.New("boom")}
	backup := &fakeProvider{id: "b", content: "from backup"}

	r := NewRouter(zap.NewNop())
	r.Register(primary)
	r.Register(backup)
	r.SetDefault("a")
	r.SetFallbacks([]string{"a", "b"})

	resp, err := r.Route(context.Background(), &ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from backup" {
		t.Errorf("got %q, want fallback content", resp.Content)
	}
	if primary.calls != 1 || backup.calls != 1 {
		t.Errorf("calls: primary=%d backup=%d", primary.calls, backup.calls)
	}
}

func TestRouterAllProvidersFail(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.Register(&fakeProvider{id: "a", err: errors.New("boom")})

	if _, err := r.Route(context.Background(), &ChatRequest{}); err == nil {
		t.Fatal("expected error when every provider fails")
	}
}

func TestRouterNoProviders(t *testing.T) {
	r := NewRouter(zap.NewNop())
	if _, err := r.Route(context.Background(), &ChatRequest{}); err == nil {
		t.Fatal("expected error with no providers")
	}
	if r.Healthy(context.Background()) {
		t.Error("empty router must not report healthy")
	}
}

func TestRouterDecide(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.Register(&fakeProvider{id: "a", content: "  research\n"})

	out, err := r.Decide(context.Background(), "pick a step")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "research" {
		t.Errorf("got %q, want trimmed content", out)
	}
}

func TestRouterFirstRegisteredIsDefault(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.Register(&fakeProvider{id: "first", content: "hi"})
	r.Register(&fakeProvider{id: "second"})

	if r.DefaultID() != "first" {
		t.Errorf("got default %q, want first", r.DefaultID())
	}
	if !r.Healthy(context.Background()) {
		t.Error("healthy provider should report healthy")
	}
}

func TestOpenAIProviderChat(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("got model %q, want configured default", req.Model)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "resp-1",
			"model": req.Model,
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "none"}, "finish_reason": "stop"},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewOpenAIProvider(ProviderConfig{
		ID:       "oai",
		Endpoint: srv.URL,
		Model:    "test-model",
	}, zap.NewNop())

	resp, err := p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "pick"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "none" {
		t.Errorf("got content %q", resp.Content)
	}
}

func TestAnthropicProviderChat(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "sk-test" {
			t.Errorf("missing api key header")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "msg-1",
			"model": "claude",
			"content": []map[string]any{
				{"type": "text", "text": "res"},
				{"type": "text", "text": "earch"},
			},
			"stop_reason": "end_turn",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewAnthropicProvider(ProviderConfig{
		ID:       "claude",
		Endpoint: srv.URL,
		APIKey:   "sk-test",
	}, zap.NewNop())

	resp, err := p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{
			{Role: "system", Content: "routing"},
			{Role: "user", Content: "pick"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "research" {
		t.Errorf("got content %q, want concatenated blocks", resp.Content)
	}
}
