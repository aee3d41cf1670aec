package command

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/embedding"
	"github.com/nidhogg/mnemo/internal/gateway"
	"github.com/nidhogg/mnemo/internal/memory"
	"github.com/nidhogg/mnemo/internal/retrieval"
)

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Command{
		Name:        "ping",
		Description: "Ping test",
		Usage:       "/ping",
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			return &CommandResult{Content: "pong: " + args}, nil
		},
	})

	ctx := context.Background()
	cc := &CommandContext{Platform: "test"}

	// Test known command
	result, err := reg.Dispatch(ctx, "/ping hello", cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "pong: hello" {
		t.Errorf("got %q, want %q", result.Content, "pong: hello")
	}

	// Test unknown command
	result, err = reg.Dispatch(ctx, "/unknown", cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content == "" {
		t.Error("expected error message for unknown command")
	}
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Command{Name: "beta"})
	reg.Register(&Command{Name: "alpha"})

	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("got %d commands, want 2", len(list))
	}
	if list[0].Name != "alpha" {
		t.Errorf("got %q first, want %q", list[0].Name, "alpha")
	}
}

func TestRegistryAliasesAndUsage(t *testing.T) {
	reg := NewRegistry()
	called := false
	reg.Register(&Command{
		Name:      "recall",
		Aliases:   []string{"find"},
		Usage:     "/recall <query>",
		NeedsArgs: true,
		Handler: func(_ context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			called = true
			return &CommandResult{Content: args}, nil
		},
	})
	ctx := context.Background()

	res, err := reg.Dispatch(ctx, "/recall", nil)
	if err != nil || res.Content != "Usage: /recall <query>" || called {
		t.Fatalf("empty args: res=%+v err=%v called=%v", res, err, called)
	}
	res, err = reg.Dispatch(ctx, "/FIND  neural nets ", nil)
	if err != nil || res.Content != "neural nets" {
		t.Fatalf("alias: res=%+v err=%v", res, err)
	}
	if n := len(reg.List()); n != 1 {
		t.Errorf("List has %d entries, aliases must not be listed", n)
	}
}

func TestRegistryWrapsHandlerErrors(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Command{
		Name: "boom",
		Handler: func(context.Context, string, *CommandContext) (*CommandResult, error) {
			return nil, errors.New("kaput")
		},
	})
	_, err := reg.Dispatch(context.Background(), "/boom", nil)
	if err == nil || err.Error() != "/boom: kaput" {
		t.Errorf("err = %v", err)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in, name, args string
	}{
		{"/help", "help", ""},
		{"  /History 3 ", "history", "3"},
		{"/remember topic: a b", "remember", "topic: a b"},
		{"/state\tcoordinator", "state", "coordinator"},
	}
	for _, tt := range tests {
		name, args := Parse(tt.in)
		if name != tt.name || args != tt.args {
			t.Errorf("Parse(%q) = %q, %q; want %q, %q", tt.in, name, args, tt.name, tt.args)
		}
	}
}

func TestIsCommand(t *testing.T) {
	for in, want := range map[string]bool{
		"/help":           true,
		"  /stats":        true,
		"/":               false,
		"/ not a command": false,
		"what is /help?":  false,
	} {
		if got := IsCommand(in); got != want {
			t.Errorf("IsCommand(%q) = %v, want %v", in, got, want)
		}
	}
}

func newMemoryRegistry(t *testing.T) (*Registry, *memory.Store) {
	t.Helper()
	store := memory.New(embedding.NewHashProvider(64), nil, zap.NewNop())
	retriever := retrieval.New(store, zap.NewNop())
	reg := NewRegistry()
	RegisterMemoryCommands(reg, store, retriever)
	RegisterSearchCommand(reg, retriever)
	RegisterBuiltins(reg, staticStatus{}, store)
	return reg, store
}

type staticStatus struct{}

func (staticStatus) StatusAll() []gateway.AdapterStatus {
	return []gateway.AdapterStatus{{Platform: "slack", Connected: true}}
}

func TestMemoryCommands(t *testing.T) {
	reg, store := newMemoryRegistry(t)
	ctx := context.Background()
	cc := &CommandContext{Platform: "test", UserName: "ada"}

	res, err := reg.Dispatch(ctx, "/remember Optimizers: Adam keeps two moment estimates", cc)
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	if res.Data != int64(1) {
		t.Errorf("remember data = %v", res.Data)
	}
	entries := store.SearchByTopic("optimizers", 5)
	if len(entries) != 1 || entries[0].Source != "user" || entries[0].Metadata["user"] != "ada" {
		t.Fatalf("entries = %+v", entries)
	}

	res, _ = reg.Dispatch(ctx, "/search optimizers", cc)
	if !strings.Contains(res.Content, "Adam keeps two moment estimates") {
		t.Errorf("search = %q", res.Content)
	}
	res, _ = reg.Dispatch(ctx, "/recall adam moments", cc)
	if !strings.Contains(res.Content, "Found 1 relevant memory entries") {
		t.Errorf("recall = %q", res.Content)
	}

	res, _ = reg.Dispatch(ctx, "/remember no colon here", cc)
	if !strings.HasPrefix(res.Content, "Usage:") {
		t.Errorf("bad remember = %q", res.Content)
	}

	res, _ = reg.Dispatch(ctx, "/clear", cc)
	if store.Stats().Knowledge != 1 || !strings.Contains(res.Content, "/clear confirm") {
		t.Error("clear without confirm must not erase")
	}
	reg.Dispatch(ctx, "/clear confirm", cc)
	if store.Stats().Knowledge != 0 {
		t.Error("clear confirm did not erase")
	}
}

func TestHistoryAndStateCommands(t *testing.T) {
	reg, store := newMemoryRegistry(t)
	ctx := context.Background()
	cc := &CommandContext{Platform: "test"}

	res, _ := reg.Dispatch(ctx, "/history", cc)
	if res.Content != "No previous conversations found." {
		t.Errorf("empty history = %q", res.Content)
	}
	store.Commit(ctx, memory.Turn{
		Query:   "what is sgd",
		Results: []memory.CapabilityRecord{{Agent: "Research", Result: "stochastic gradient descent", Confidence: 0.8}},
		States:  []memory.StateUpdate{{Capability: "coordinator", TaskID: "t1", State: map[string]any{"query": "what is sgd"}}},
	})

	res, _ = reg.Dispatch(ctx, "/history 3", cc)
	if !strings.Contains(res.Content, "#1 what is sgd") || !strings.Contains(res.Content, "Research (0.80)") {
		t.Errorf("history = %q", res.Content)
	}
	res, _ = reg.Dispatch(ctx, "/state coordinator t1", cc)
	if !strings.Contains(res.Content, "query: what is sgd") {
		t.Errorf("state = %q", res.Content)
	}
	res, _ = reg.Dispatch(ctx, "/stats", cc)
	if !strings.Contains(res.Content, "Conversations: 1") {
		t.Errorf("stats = %q", res.Content)
	}
	res, _ = reg.Dispatch(ctx, "/status", cc)
	if !strings.Contains(res.Content, "slack: connected") {
		t.Errorf("status = %q", res.Content)
	}
	res, _ = reg.Dispatch(ctx, "/help", cc)
	if !strings.Contains(res.Content, "/remember") || !strings.Contains(res.Content, "/status") {
		t.Errorf("help = %q", res.Content)
	}
}
