package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/analysis"
	"github.com/nidhogg/mnemo/internal/api"
	"github.com/nidhogg/mnemo/internal/embedding"
	"github.com/nidhogg/mnemo/internal/memory"
	"github.com/nidhogg/mnemo/internal/orchestrator"
	"github.com/nidhogg/mnemo/internal/planner"
	"github.com/nidhogg/mnemo/internal/research"
)

func startServer(t *testing.T) *options {
	t.Helper()
	logger := zap.NewNop()
	store := memory.New(embedding.NewHashProvider(64), nil, logger)
	coord := orchestrator.New(store, planner.New(nil, nil, logger), research.New(nil, logger), analysis.New(logger), logger)
	ts := httptest.NewServer(api.NewHandler(coord, store, logger).Router())
	t.Cleanup(ts.Close)
	return &options{server: ts.URL, timeout: 5 * time.Second}
}

func TestInteractiveSession(t *testing.T) {
	opts := startServer(t)
	in := strings.NewReader("What are the main types of neural networks?\nhistory\nclear\nno\nquit\n")
	var out bytes.Buffer

	if err := runInteractive(context.Background(), opts, newScanReader(in, &out), &out); err != nil {
		t.Fatalf("runInteractive: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"Connected to",
		"Complexity: medium",
		"FINAL ANSWER",
		"Q: What are the main types of neural networks?",
		"Memory clear cancelled.",
		"Goodbye!",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestClearRequiresConfirmation(t *testing.T) {
	opts := startServer(t)
	cmd := newClearCmd(opts)
	cmd.SetArgs(nil)
	cmd.SetOut(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil {
		t.Fatal("clear without --yes succeeded")
	}

	var out bytes.Buffer
	cmd = newClearCmd(opts)
	cmd.SetArgs([]string{"--yes"})
	cmd.SetOut(&out)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("clear --yes: %v", err)
	}
	if !strings.Contains(out.String(), "Memory cleared.") {
		t.Errorf("output = %q", out.String())
	}
}

func TestSearchCommand(t *testing.T) {
	opts := startServer(t)
	cmd := newSearchCmd(opts)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"quantum", "--mode", "keyword"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("search: %v", err)
	}
	if !strings.Contains(out.String(), "confidence 30%") {
		t.Errorf("output = %q", out.String())
	}
}

func TestInteractiveEndsOnEOF(t *testing.T) {
	opts := startServer(t)
	var out bytes.Buffer
	if err := runInteractive(context.Background(), opts, newScanReader(strings.NewReader("help\n"), &out), &out); err != nil {
		t.Fatalf("runInteractive: %v", err)
	}
	if !strings.Contains(out.String(), "exit/quit/q") {
		t.Errorf("help not printed: %q", out.String())
	}
}
