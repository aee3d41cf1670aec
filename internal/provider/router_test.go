package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeProvider struct {
	id    string
	reply string
	err   error
	delay time.Duration
	calls int
}

func (f *fakeProvider) ID() string   { return f.id }
func (f *fakeProvider) Name() string { return f.id }

func (f *fakeProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &ChatResponse{Content: f.reply}, nil
}

func TestRouteFallsBack(t *testing.T) {
	r := NewRouter(zap.NewNop())
	primary := &fakeProvider{id: "a", err: errors.New("boom")}
	backup := &fakeProvider{id: "b", reply: "ok"}
	r.Register(primary)
	r.Register(backup)
	r.SetFallbacks("planner", []string{"b"})

	resp, err := r.Route(context.Background(), "planner", &ChatRequest{})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if resp.Content != "ok" || primary.calls != 1 || backup.calls != 1 {
		t.Errorf("content=%q primary=%d backup=%d", resp.Content, primary.calls, backup.calls)
	}
}

func TestRouteUsesDefaultFallbacks(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.Register(&fakeProvider{id: "a", err: errors.New("down")})
	r.Register(&fakeProvider{id: "b", reply: "from b"})
	r.SetDefaultFallbacks([]string{"b"})

	resp, err := r.Route(context.Background(), "synthesizer", &ChatRequest{})
	if err != nil || resp.Content != "from b" {
		t.Fatalf("resp=%+v err=%v", resp, err)
	}
}

func TestRouteNoProvider(t *testing.T) {
	r := NewRouter(zap.NewNop())
	if r.Available() {
		t.Fatal("empty router reports available")
	}
	_, err := r.Route(context.Background(), "planner", &ChatRequest{})
	if !errors.Is(err, ErrNoProvider) {
		t.Errorf("err = %v, want ErrNoProvider", err)
	}
}

func TestRouteTimeout(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.Register(&fakeProvider{id: "slow", delay: time.Second, reply: "late"})
	r.SetTimeout(20 * time.Millisecond)

	start := time.Now()
	_, err := r.Route(context.Background(), "planner", &ChatRequest{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("timeout was not applied")
	}
}

func TestFromConfigSkipsKeyless(t *testing.T) {
	r, err := FromConfig([]ProviderConfig{
		{ID: "groq", Type: "openai", Endpoint: "http://unused"},
		{ID: "claude", Type: "anthropic", APIKey: "k"},
	}, time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if _, ok := r.GetProvider("groq"); ok {
		t.Error("provider without key was registered")
	}
	if _, ok := r.GetProvider("claude"); !ok {
		t.Error("anthropic provider missing")
	}

	if _, err := FromConfig([]ProviderConfig{{ID: "x", Type: "palm", APIKey: "k"}}, 0, zap.NewNop()); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestOpenAIProviderChat(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"llama",
			"choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(ProviderConfig{ID: "groq", APIKey: "k", Endpoint: srv.URL, Models: []string{"llama"}}, zap.NewNop())
	resp, err := p.Chat(context.Background(), &ChatRequest{
		Messages:  []Message{System("be brief"), User("hi")},
		MaxTokens: 50,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "hello" || resp.Usage.TotalTokens != 4 {
		t.Errorf("resp = %+v", resp)
	}
	if got["model"] != "llama" {
		t.Errorf("request model = %v, want default model", got["model"])
	}
	if msgs, _ := got["messages"].([]any); len(msgs) != 2 {
		t.Errorf("request messages = %v", got["messages"])
	}
}

func TestAnthropicProviderChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if _, ok := req["system"]; !ok {
			t.Error("system prompt not lifted into request")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"summary"}],
			"stop_reason":"end_turn","usage":{"input_tokens":5,"output_tokens":2}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider(ProviderConfig{ID: "claude", APIKey: "k", Endpoint: srv.URL, Models: []string{"claude-test"}}, zap.NewNop())
	resp, err := p.Chat(context.Background(), &ChatRequest{Messages: []Message{System("sys"), User("q")}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "summary" || resp.Usage.TotalTokens != 7 {
		t.Errorf("resp = %+v", resp)
	}
}
