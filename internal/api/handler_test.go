package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/analysis"
	"github.com/nidhogg/mnemo/internal/embedding"
	"github.com/nidhogg/mnemo/internal/graph"
	"github.com/nidhogg/mnemo/internal/memory"
	"github.com/nidhogg/mnemo/internal/orchestrator"
	"github.com/nidhogg/mnemo/internal/planner"
	"github.com/nidhogg/mnemo/internal/research"
)

// newTestHandler creates a Handler wired with in-memory deps only.
func newTestHandler(t *testing.T) (*Handler, *memory.Store, *httptest.Server) {
	t.Helper()
	logger := zap.NewNop()
	store := memory.New(embedding.NewHashProvider(64), nil, logger)
	coord := orchestrator.New(store, planner.New(nil, nil, logger), research.New(nil, logger), analysis.New(logger), logger)
	h := NewHandler(coord, store, logger)
	ts := httptest.NewServer(h.Router())
	t.Cleanup(ts.Close)
	return h, store, ts
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func deleteReq(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+path, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	return resp
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	_, _, ts := newTestHandler(t)
	for _, path := range []string{"/", "/health"} {
		resp := getJSON(t, ts, path)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d", path, resp.StatusCode)
		}
		var body healthResponse
		decodeJSON(t, resp, &body)
		if body.Status != "healthy" || len(body.Capabilities) != 3 || body.LLMEnabled || !body.EmbeddingAvailable {
			t.Errorf("%s body = %+v", path, body)
		}
	}
}

func TestQuery(t *testing.T) {
	_, store, ts := newTestHandler(t)

	resp := postJSON(t, ts, "/query", map[string]any{"query": "What are the main types of neural networks?"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		TaskID            string                          `json:"task_id"`
		FinalAnswer       string                          `json:"final_answer"`
		CapabilityResults []orchestrator.CapabilityResult `json:"capability_results"`
		TaskPlan          planner.Plan                    `json:"task_plan"`
	}
	decodeJSON(t, resp, &body)
	if body.TaskID == "" || body.FinalAnswer == "" || len(body.CapabilityResults) != 1 {
		t.Errorf("body = %+v", body)
	}
	if store.Stats().Conversations != 1 {
		t.Error("conversation not persisted")
	}
}

func TestQueryRejectsBadInput(t *testing.T) {
	_, _, ts := newTestHandler(t)

	resp := postJSON(t, ts, "/query", map[string]any{"query": "   "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty query status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	raw, _ := http.Post(ts.URL+"/query", "application/json", bytes.NewReader([]byte("{not json")))
	if raw.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", raw.StatusCode)
	}
	raw.Body.Close()
}

func TestQueryBusy(t *testing.T) {
	h, _, ts := newTestHandler(t)
	sched := orchestrator.NewScheduler(1, 20*time.Millisecond, zap.NewNop())
	h.coordinator.SetScheduler(sched)

	release, err := sched.Admit(context.Background(), &orchestrator.Task{ID: "hold"})
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	defer release()

	resp := postJSON(t, ts, "/query", map[string]any{"query": "hello"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestMemoryEndpoints(t *testing.T) {
	_, store, ts := newTestHandler(t)
	ctx := context.Background()
	store.StoreKnowledge(ctx, memory.Fact{Topic: "optimization", Content: "adam adapts learning rates", Source: "research", Confidence: 0.9})
	postJSON(t, ts, "/query", map[string]any{"query": "hello"}).Body.Close()

	var search struct {
		Results    []map[string]any `json:"results"`
		Confidence float64          `json:"confidence"`
	}
	decodeJSON(t, getJSON(t, ts, "/memory/search?query=adam&top_k=3&mode=keyword"), &search)
	if len(search.Results) != 1 || search.Confidence != 0.6 {
		t.Errorf("search = %+v", search)
	}

	if resp := getJSON(t, ts, "/memory/search?query=adam&top_k=zero"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad top_k status = %d", resp.StatusCode)
	}
	if resp := getJSON(t, ts, "/memory/search?query=adam&mode=fuzzy"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad mode status = %d", resp.StatusCode)
	}

	var hist struct {
		History []memory.ConversationEntry `json:"history"`
	}
	decodeJSON(t, getJSON(t, ts, "/memory/history?limit=5"), &hist)
	if len(hist.History) != 1 || hist.History[0].Query != "hello" {
		t.Errorf("history = %+v", hist)
	}

	var states struct {
		States []memory.AgentState `json:"states"`
	}
	decodeJSON(t, getJSON(t, ts, "/memory/state/coordinator"), &states)
	if len(states.States) != 1 {
		t.Fatalf("states = %+v", states)
	}
	taskID := states.States[0].TaskID
	if resp := getJSON(t, ts, "/memory/state/coordinator?task_id="+taskID); resp.StatusCode != http.StatusOK {
		t.Errorf("state by task status = %d", resp.StatusCode)
	}
	if resp := getJSON(t, ts, "/memory/state/coordinator?task_id=missing"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing state status = %d", resp.StatusCode)
	}

	var cleared map[string]string
	decodeJSON(t, deleteReq(t, ts, "/memory/clear"), &cleared)
	if cleared["status"] != "cleared" {
		t.Errorf("clear = %v", cleared)
	}
	decodeJSON(t, getJSON(t, ts, "/memory/history"), &hist)
	if len(hist.History) != 0 {
		t.Errorf("history after clear = %+v", hist.History)
	}
}

type fakeGraph struct {
	related []graph.Related
	err     error
}

func (f fakeGraph) RelatedTopics(context.Context, string, int) ([]graph.Related, error) {
	return f.related, f.err
}

func TestRelatedTopics(t *testing.T) {
	h, _, ts := newTestHandler(t)

	if resp := getJSON(t, ts, "/memory/topics/privacy/related"); resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("unconfigured status = %d", resp.StatusCode)
	}

	h.SetGraph(fakeGraph{related: []graph.Related{{Topic: "federated learning", Shared: 2}}})
	var body struct {
		Related []graph.Related `json:"related"`
	}
	decodeJSON(t, getJSON(t, ts, "/memory/topics/privacy/related"), &body)
	if len(body.Related) != 1 || body.Related[0].Shared != 2 {
		t.Errorf("related = %+v", body)
	}

	h.SetGraph(fakeGraph{err: errors.New("neo4j down")})
	if resp := getJSON(t, ts, "/memory/topics/privacy/related"); resp.StatusCode != http.StatusBadGateway {
		t.Errorf("failing graph status = %d", resp.StatusCode)
	}
}
