package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/nidhogg/mnemo/internal/analysis"
	"github.com/nidhogg/mnemo/internal/planner"
	"github.com/nidhogg/mnemo/internal/provider"
	"github.com/nidhogg/mnemo/internal/research"
)

var (
	// ErrEmptyQuery rejects blank requests.
	ErrEmptyQuery = errors.New("orchestrator: empty query")
	// ErrBusy is returned when no processing slot frees up in time.
	ErrBusy = errors.New("orchestrator: too many requests in flight")
)

// Request is one user query.
type Request struct {
	Query   string         `json:"query"`
	Context map[string]any `json:"context,omitempty"`
}

// CapabilityResult is the output of one capability for one request.
type CapabilityResult struct {
	Capability planner.Capability `json:"capability"`
	Agent      string             `json:"agent"`
	Result     string             `json:"result"`
	Confidence float64            `json:"confidence"`
	Payload    map[string]any     `json:"payload,omitempty"`
}

// Response is the answer to one Request.
type Response struct {
	TaskID            string             `json:"task_id"`
	UserQuery         string             `json:"user_query"`
	TaskPlan          planner.Plan       `json:"task_plan"`
	CapabilityResults []CapabilityResult `json:"capability_results"`
	FinalAnswer       string             `json:"final_answer"`
	MemoryContextUsed bool               `json:"memory_context_used"`
	OverallConfidence float64            `json:"overall_confidence"`
	Duration          time.Duration      `json:"duration"`
}

// Researcher answers factual questions.
type Researcher interface {
	Research(ctx context.Context, query string, memoryContext string) research.Report
}

// Analyst reasons over research findings.
type Analyst interface {
	Analyze(ctx context.Context, query string, data []research.Finding) analysis.Analysis
}

// LLM is the optional model used to merge several results.
type LLM interface {
	Route(ctx context.Context, role string, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

// Agent names reported in results and persisted history.
const (
	AgentMemory      = "Memory"
	AgentResearch    = "Research"
	AgentAnalysis    = "Analysis"
	AgentCoordinator = "coordinator"
)
