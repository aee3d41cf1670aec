package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
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

func newServer(t *testing.T) *Client {
	t.Helper()
	logger := zap.NewNop()
	store := memory.New(embedding.NewHashProvider(64), nil, logger)
	coord := orchestrator.New(store, planner.New(nil, nil, logger), research.New(nil, logger), analysis.New(logger), logger)
	ts := httptest.NewServer(api.NewHandler(coord, store, logger).Router())
	t.Cleanup(ts.Close)
	return New(ts.URL+"/", 5*time.Second)
}

func TestRoundTrip(t *testing.T) {
	c := newServer(t)
	ctx := context.Background()

	h, err := c.Health(ctx)
	if err != nil || h.Status != "healthy" {
		t.Fatalf("Health = %+v, %v", h, err)
	}

	resp, err := c.Query(ctx, "What are the main types of neural networks?", nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if resp.TaskPlan.Complexity != planner.Medium || resp.FinalAnswer == "" {
		t.Errorf("resp = %+v", resp)
	}

	res, err := c.Search(ctx, "neural networks", 2, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Entries) != 2 {
		t.Errorf("search entries = %d, want 2", len(res.Entries))
	}

	hist, err := c.History(ctx, 5)
	if err != nil || len(hist) != 1 {
		t.Fatalf("History = %d entries, %v", len(hist), err)
	}

	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if hist, _ := c.History(ctx, 5); len(hist) != 0 {
		t.Errorf("history after clear = %d", len(hist))
	}
}

func TestAPIError(t *testing.T) {
	c := newServer(t)
	_, err := c.Query(context.Background(), "", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest || apiErr.Message != orchestrator.ErrEmptyQuery.Error() {
		t.Errorf("err = %v", err)
	}
}
