package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nidhogg/mnemo/internal/provider"
)

// RoleClassifier is the provider role used for decomposition requests.
const RoleClassifier = "planner"

// LLM is the subset of provider.Router the classifier needs.
type LLM interface {
	Route(ctx context.Context, role string, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

// LLMClassifier asks a language model to decompose the request.
type LLMClassifier struct {
	llm   LLM
	model string
}

// NewLLMClassifier creates a classifier; an empty model uses the
// provider's default.
func NewLLMClassifier(llm LLM, model string) *LLMClassifier {
	return &LLMClassifier{llm: llm, model: model}
}

const decomposePrompt = `Analyze this user query and decompose it into subtasks.
Return a JSON object with:
- "requires_research": boolean (needs information retrieval)
- "requires_analysis": boolean (needs comparison/reasoning)
- "requires_memory": boolean (needs memory lookup)
- "complexity": string ("simple", "medium", "complex")
- "subtasks": array of strings describing each subtask

User query: %q

Return only valid JSON:`

type decomposition struct {
	Research *bool `json:"requires_research"`
	Analysis *bool `json:"requires_analysis"`
	Memory   *bool `json:"requires_memory"`
}

func (c *LLMClassifier) Classify(ctx context.Context, query string) (Plan, error) {
	resp, err := c.llm.Route(ctx, RoleClassifier, &provider.ChatRequest{
		Model: c.model,
		Messages: []provider.Message{
			provider.System("You are a task decomposition expert. Return only valid JSON."),
			provider.User(fmt.Sprintf(decomposePrompt, query)),
		},
		Temperature: 0.3,
		MaxTokens:   500,
	})
	if err != nil {
		return Plan{}, fmt.Errorf("llm decomposition: %w", err)
	}

	var d decomposition
	if err := json.Unmarshal([]byte(ExtractJSON(resp.Content)), &d); err != nil {
		return Plan{}, fmt.Errorf("llm decomposition: malformed response: %w", err)
	}
	if d.Research == nil || d.Analysis == nil || d.Memory == nil {
		return Plan{}, fmt.Errorf("llm decomposition: missing capability flags")
	}

	p := Plan{
		NeedsRetrieval: *d.Research,
		NeedsReasoning: *d.Analysis,
		NeedsMemory:    *d.Memory,
		Source:         "llm",
	}
	return p.finalize(), nil
}

// ExtractJSON strips Markdown code fences from a model reply.
func ExtractJSON(content string) string {
	content = strings.TrimSpace(content)
	if i := strings.Index(content, "```json"); i >= 0 {
		content = content[i+len("```json"):]
	} else if i := strings.Index(content, "```"); i >= 0 {
		content = content[i+3:]
	} else {
		return content
	}
	if j := strings.Index(content, "```"); j >= 0 {
		content = content[:j]
	}
	return strings.TrimSpace(content)
}
