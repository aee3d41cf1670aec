// Package orchestrator runs one request through planning, memory lookup,
// the research and analysis capabilities, synthesis and persistence.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/lexical"
	"github.com/nidhogg/mnemo/internal/memory"
	"github.com/nidhogg/mnemo/internal/planner"
	"github.com/nidhogg/mnemo/internal/research"
	"github.com/nidhogg/mnemo/internal/retrieval"
	"github.com/nidhogg/mnemo/internal/vectorindex"
)

const (
	maxStoredFindings = 3
	maxAnalysisFact   = 500
)

// Coordinator is the request pipeline. It is safe for concurrent use; all
// per-request state lives in a run.
type Coordinator struct {
	store      *memory.Store
	retriever  *retrieval.Retriever
	planner    *planner.Planner
	researcher Researcher
	analyst    Analyst
	llm        LLM
	scheduler  *Scheduler
	stages     map[planner.Capability]stage
	topK       int
	logger     *zap.Logger
}

// stage handles one capability.
type stage func(ctx context.Context, r *run) error

// run is the state of one request.
type run struct {
	req      Request
	taskID   string
	plan     planner.Plan
	memory   *retrieval.Retrieval
	looked   bool
	findings []research.Finding
	results  []CapabilityResult
	facts    []memory.Fact
	ran      map[planner.Capability]bool
}

// New creates a Coordinator over store.
func New(store *memory.Store, p *planner.Planner, researcher Researcher, analyst Analyst, logger *zap.Logger) *Coordinator {
	c := &Coordinator{
		store:      store,
		retriever:  retrieval.New(store, logger),
		planner:    p,
		researcher: researcher,
		analyst:    analyst,
		topK:       retrieval.DefaultTopK,
		logger:     logger,
	}
	c.stages = map[planner.Capability]stage{
		planner.Memory:    c.lookupMemory,
		planner.Retrieval: c.retrieve,
		planner.Reasoning: c.reason,
	}
	return c
}

// SetLLM enables model-based synthesis of multiple results. nil disables it.
func (c *Coordinator) SetLLM(llm LLM) { c.llm = llm }

// SetScheduler bounds concurrent requests.
func (c *Coordinator) SetScheduler(s *Scheduler) { c.scheduler = s }

// SetTopK sets how many memory entries a lookup returns.
func (c *Coordinator) SetTopK(k int) {
	if k > 0 {
		c.topK = k
	}
}

// Scheduler returns the admission scheduler, if any.
func (c *Coordinator) Scheduler() *Scheduler { return c.scheduler }

// Process handles one request: plan, memory lookup, research, analysis,
// memory-only fallback, conversational default, synthesis, then persist.
// Cancelling ctx before persistence leaves the store untouched.
func (c *Coordinator) Process(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return nil, ErrEmptyQuery
	}

	r := &run{req: req, taskID: uuid.New().String(), ran: make(map[planner.Capability]bool)}
	if c.scheduler != nil {
		release, err := c.scheduler.Admit(ctx, &Task{ID: r.taskID, Query: req.Query})
		if err != nil {
			return nil, err
		}
		defer release()
	}

	c.logger.Info("processing query", zap.String("task", r.taskID), zap.String("query", lexical.Truncate(req.Query, 100)))

	r.plan = c.planner.Plan(ctx, req.Query)
	c.logger.Debug("task plan",
		zap.String("task", r.taskID),
		zap.Bool("retrieval", r.plan.NeedsRetrieval),
		zap.Bool("reasoning", r.plan.NeedsReasoning),
		zap.Bool("memory", r.plan.NeedsMemory),
		zap.String("complexity", string(r.plan.Complexity)))

	for _, capability := range planner.Capabilities {
		if !c.wants(r, capability) {
			continue
		}
		if err := c.stages[capability](ctx, r); err != nil {
			return nil, fmt.Errorf("%s: %w", capability, err)
		}
		r.ran[capability] = true
	}

	if err := c.memoryOnlyFallback(ctx, r); err != nil {
		return nil, fmt.Errorf("memory fallback: %w", err)
	}

	var answer string
	if len(r.results) == 0 && r.plan.Count() == 0 {
		answer = CannedReply(req.Query)
	} else {
		answer = c.synthesize(ctx, r.results)
	}

	confidence := AggregateConfidence(r.results)
	if err := c.persist(ctx, r, confidence); err != nil {
		return nil, err
	}

	return &Response{
		TaskID:            r.taskID,
		UserQuery:         req.Query,
		TaskPlan:          r.plan,
		CapabilityResults: r.results,
		FinalAnswer:       answer,
		MemoryContextUsed: r.memory != nil && !r.memory.Empty(),
		OverallConfidence: confidence,
		Duration:          time.Since(start),
	}, nil
}

// wants reports whether a capability runs for r. Memory lookup also runs
// whenever the query uses recall vocabulary.
func (c *Coordinator) wants(r *run, capability planner.Capability) bool {
	if capability == planner.Memory {
		return r.plan.NeedsMemory || wantsRecall(r.req.Query)
	}
	return r.plan.Needs(capability)
}

func (c *Coordinator) lookupMemory(ctx context.Context, r *run) error {
	res, err := c.recall(ctx, r.req.Query)
	if err != nil {
		return err
	}
	r.looked = true
	if res.Empty() {
		return nil
	}
	r.memory = res
	r.results = append(r.results, memoryResult(res))
	c.logger.Info("retrieved memory context",
		zap.String("task", r.taskID),
		zap.Int("entries", len(res.Entries)))
	return nil
}

func (c *Coordinator) retrieve(ctx context.Context, r *run) error {
	var memCtx string
	if r.memory != nil {
		memCtx = r.memory.Result
	}
	rep := c.researcher.Research(ctx, r.req.Query, memCtx)
	r.findings = rep.Findings
	r.results = append(r.results, CapabilityResult{
		Capability: planner.Retrieval,
		Agent:      AgentResearch,
		Result:     rep.Result,
		Confidence: rep.Confidence,
		Payload: map[string]any{
			"matched_topics": rep.MatchedTopics,
			"findings":       len(rep.Findings),
			"used_memory":    rep.UsedMemory,
		},
	})

	for _, f := range rep.Findings[:min(maxStoredFindings, len(rep.Findings))] {
		conf := f.Confidence
		if conf == 0 {
			conf = 0.8
		}
		r.facts = append(r.facts, memory.Fact{
			Topic:      f.Topic,
			Content:    f.Content,
			Source:     "research",
			Confidence: conf,
			Metadata:   map[string]any{"title": f.Title, "task_id": r.taskID},
		})
	}
	return nil
}

func (c *Coordinator) reason(ctx context.Context, r *run) error {
	data := r.findings
	if r.memory != nil {
		data = append(append([]research.Finding(nil), data...), memoryFindings(r.memory)...)
	}
	an := c.analyst.Analyze(ctx, r.req.Query, data)
	r.results = append(r.results, CapabilityResult{
		Capability: planner.Reasoning,
		Agent:      AgentAnalysis,
		Result:     an.Result,
		Confidence: an.Confidence,
		Payload:    map[string]any{"mode": string(an.Mode), "items": len(data)},
	})
	conf := an.Confidence
	if conf == 0 {
		conf = 0.7
	}
	r.facts = append(r.facts, memory.Fact{
		Topic:      "analysis",
		Content:    lexical.Truncate(an.Result, maxAnalysisFact),
		Source:     "analysis",
		Confidence: conf,
		Metadata:   map[string]any{"mode": string(an.Mode), "task_id": r.taskID},
	})
	return nil
}

// memoryOnlyFallback answers a memory question that no other capability
// handled. When the lookup chain found nothing, the responses of recent
// turns are scanned too. A miss is still reported, at the 0.3 floor.
func (c *Coordinator) memoryOnlyFallback(ctx context.Context, r *run) error {
	if !r.plan.NeedsMemory || r.ran[planner.Retrieval] || r.ran[planner.Reasoning] || r.memory != nil {
		return nil
	}
	res := &retrieval.Retrieval{Query: r.req.Query, Confidence: retrieval.NoResultConfidence,
		Message: retrieval.NoResultMessage, Result: retrieval.NoResultMessage}
	if !r.looked {
		found, err := c.recall(ctx, r.req.Query)
		if err != nil {
			return err
		}
		res = found
	}
	if res.Empty() {
		if found := c.retriever.ScanConversations(recallWords(r.req.Query), historyScanLimit); !found.Empty() {
			res = found
		}
	}
	if !res.Empty() {
		r.memory = res
	}
	r.results = append(r.results, memoryResult(res))
	return nil
}

// persist records the whole turn, or nothing if ctx is already done.
func (c *Coordinator) persist(ctx context.Context, r *run, confidence float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	agents := agentsUsed(r.results)
	meta := map[string]any{
		"task_id":     r.taskID,
		"complexity":  string(r.plan.Complexity),
		"agents_used": agents,
	}
	if len(r.req.Context) > 0 {
		meta["context"] = r.req.Context
	}
	records := make([]memory.CapabilityRecord, len(r.results))
	for i, res := range r.results {
		records[i] = memory.CapabilityRecord{
			Capability: string(res.Capability),
			Agent:      res.Agent,
			Result:     res.Result,
			Confidence: res.Confidence,
			Payload:    res.Payload,
		}
	}

	turn := memory.Turn{
		Facts:    r.facts,
		Query:    r.req.Query,
		Results:  records,
		Metadata: meta,
		States: []memory.StateUpdate{{
			Capability: AgentCoordinator,
			TaskID:     r.taskID,
			State: map[string]any{
				"query":            r.req.Query,
				"plan":             r.plan,
				"agents_used":      agents,
				"final_confidence": confidence,
			},
		}},
	}
	receipt, err := c.store.Commit(context.WithoutCancel(ctx), turn)
	if err != nil {
		return fmt.Errorf("persist turn: %w", err)
	}
	c.logger.Debug("turn persisted",
		zap.String("task", r.taskID),
		zap.Int64("conversation", receipt.ConversationID),
		zap.Int("facts", len(receipt.KnowledgeIDs)))
	return nil
}

func memoryResult(res *retrieval.Retrieval) CapabilityResult {
	return CapabilityResult{
		Capability: planner.Memory,
		Agent:      AgentMemory,
		Result:     res.Result,
		Confidence: res.Confidence,
		Payload: map[string]any{
			"mode":    string(res.Mode),
			"query":   res.Query,
			"entries": len(res.Entries),
		},
	}
}

// memoryFindings exposes recalled knowledge to the analyst.
func memoryFindings(res *retrieval.Retrieval) []research.Finding {
	var out []research.Finding
	for _, e := range res.Entries {
		if e.Kind != vectorindex.KindKnowledge || e.Topic == "analysis" {
			continue
		}
		out = append(out, research.Finding{Topic: e.Topic, Document: research.Document{
			Title:      e.Topic,
			Content:    e.Content,
			Confidence: e.Confidence,
		}})
	}
	return out
}

func agentsUsed(results []CapabilityResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Agent)
	}
	return out
}
