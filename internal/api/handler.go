// Package api exposes the query service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/gateway"
	"github.com/nidhogg/mnemo/internal/graph"
	"github.com/nidhogg/mnemo/internal/memory"
	"github.com/nidhogg/mnemo/internal/orchestrator"
	"github.com/nidhogg/mnemo/internal/planner"
	"github.com/nidhogg/mnemo/internal/retrieval"
	"github.com/nidhogg/mnemo/internal/vectorstore"
)

const defaultHistoryLimit = 10

// TopicGraph answers related-topic queries.
type TopicGraph interface {
	RelatedTopics(ctx context.Context, topic string, limit int) ([]graph.Related, error)
}

// ReplicaSearcher queries the external vector replica.
type ReplicaSearcher interface {
	Search(ctx context.Context, vector []float32, k int) ([]*vectorstore.SearchResult, error)
}

// AdapterStatuser reports chat adapter state.
type AdapterStatuser interface {
	StatusAll() []gateway.AdapterStatus
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	coordinator *orchestrator.Coordinator
	store       *memory.Store
	retriever   *retrieval.Retriever
	graph       TopicGraph
	replica     ReplicaSearcher
	adapters    AdapterStatuser
	llmEnabled  bool
	topK        int
	logger      *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(coord *orchestrator.Coordinator, store *memory.Store, logger *zap.Logger) *Handler {
	return &Handler{
		coordinator: coord,
		store:       store,
		retriever:   retrieval.New(store, logger),
		topK:        retrieval.DefaultTopK,
		logger:      logger,
	}
}

// SetGraph enables /memory/topics/{topic}/related.
func (h *Handler) SetGraph(g TopicGraph) { h.graph = g }

// SetReplica enables /memory/replica/search.
func (h *Handler) SetReplica(r ReplicaSearcher) { h.replica = r }

// SetAdapters adds adapter state to /status.
func (h *Handler) SetAdapters(a AdapterStatuser) { h.adapters = a }

// SetLLMEnabled is reported by the health check.
func (h *Handler) SetLLMEnabled(enabled bool) { h.llmEnabled = enabled }

// SetTopK sets the default top_k for memory search.
func (h *Handler) SetTopK(k int) {
	if k > 0 {
		h.topK = k
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/", h.healthCheck)
	r.Get("/health", h.healthCheck)
	r.Get("/status", h.status)
	r.Post("/query", h.query)

	r.Route("/memory", func(r chi.Router) {
		r.Get("/search", h.searchMemory)
		r.Get("/history", h.history)
		r.Delete("/clear", h.clearMemory)
		r.Get("/state/{capability}", h.agentState)
		r.Get("/topics/{topic}", h.topic)
		r.Get("/topics/{topic}/related", h.relatedTopics)
		r.Get("/replica/search", h.replicaSearch)
	})

	return r
}

type healthResponse struct {
	Status             string               `json:"status"`
	Capabilities       []planner.Capability `json:"capabilities"`
	AgentsAvailable    []string             `json:"agents_available"`
	LLMEnabled         bool                 `json:"llm_enabled"`
	EmbeddingAvailable bool                 `json:"embedding_available"`
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:       "healthy",
		Capabilities: planner.Capabilities,
		AgentsAvailable: []string{
			orchestrator.AgentCoordinator,
			orchestrator.AgentResearch,
			orchestrator.AgentAnalysis,
			orchestrator.AgentMemory,
		},
		LLMEnabled:         h.llmEnabled,
		EmbeddingAvailable: h.store.Embedder().Available(),
	})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"memory": h.store.Stats()}
	if s := h.coordinator.Scheduler(); s != nil {
		out["running"] = s.Running()
		out["capacity"] = s.Capacity()
	}
	if h.adapters != nil {
		out["adapters"] = h.adapters.StatusAll()
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	h.logger.Info("received query", zap.String("query", req.Query))

	resp, err := h.coordinator.Process(r.Context(), req)
	switch {
	case errors.Is(err, orchestrator.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrBusy):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	case err != nil:
		h.logger.Error("process query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "error processing query: "+err.Error())
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

func (h *Handler) searchMemory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("query"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	k, ok := intParam(w, q.Get("top_k"), h.topK)
	if !ok {
		return
	}
	mode, err := retrieval.ParseMode(q.Get("mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.retriever.Retrieve(r.Context(), query, mode, k)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "error searching memory: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r.URL.Query().Get("limit"), defaultHistoryLimit)
	if !ok {
		return
	}
	history := h.store.ConversationHistory(limit)
	if history == nil {
		history = []memory.ConversationEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (h *Handler) clearMemory(w http.ResponseWriter, r *http.Request) {
	h.store.Clear(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *Handler) agentState(w http.ResponseWriter, r *http.Request) {
	capability := chi.URLParam(r, "capability")
	if taskID := r.URL.Query().Get("task_id"); taskID != "" {
		st, ok := h.store.AgentState(capability, taskID)
		if !ok {
			writeError(w, http.StatusNotFound, "no state for "+capability+"/"+taskID)
			return
		}
		writeJSON(w, http.StatusOK, st)
		return
	}
	states := h.store.AgentStates(capability)
	if states == nil {
		states = []memory.AgentState{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"capability": capability, "states": states})
}

func (h *Handler) topic(w http.ResponseWriter, r *http.Request) {
	k, ok := intParam(w, r.URL.Query().Get("top_k"), h.topK)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.retriever.SearchTopic(chi.URLParam(r, "topic"), k))
}

func (h *Handler) relatedTopics(w http.ResponseWriter, r *http.Request) {
	if h.graph == nil {
		writeError(w, http.StatusNotImplemented, "topic graph not configured")
		return
	}
	limit, ok := intParam(w, r.URL.Query().Get("limit"), 10)
	if !ok {
		return
	}
	topic := chi.URLParam(r, "topic")
	related, err := h.graph.RelatedTopics(r.Context(), topic, limit)
	if err != nil {
		h.logger.Warn("related topics failed", zap.String("topic", topic), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if related == nil {
		related = []graph.Related{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"topic": topic, "related": related})
}

func (h *Handler) replicaSearch(w http.ResponseWriter, r *http.Request) {
	if h.replica == nil {
		writeError(w, http.StatusNotImplemented, "vector replica not configured")
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	k, ok := intParam(w, r.URL.Query().Get("top_k"), h.topK)
	if !ok {
		return
	}
	vecs, err := h.store.Embedder().Embed(r.Context(), []string{query})
	if err != nil || len(vecs) == 0 {
		writeError(w, http.StatusServiceUnavailable, "embedding unavailable")
		return
	}
	hits, err := h.replica.Search(r.Context(), vecs[0], k)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": query, "results": hits})
}

// intParam parses a positive integer query parameter, writing a 400 on
// bad input.
func intParam(w http.ResponseWriter, raw string, def int) (int, bool) {
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "expected a positive integer, got "+strconv.Quote(raw))
		return 0, false
	}
	return n, true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
