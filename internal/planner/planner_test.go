package planner

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/provider"
)

func TestRulePlans(t *testing.T) {
	rules := NewRuleClassifier(DefaultLexicon())
	tests := []struct {
		query      string
		retrieval  bool
		reasoning  bool
		memory     bool
		complexity Complexity
	}{
		{"What are the main types of neural networks?", true, false, false, Medium},
		{"Compare two machine-learning approaches and recommend which is better", false, true, false, Medium},
		{"What did we discuss about neural networks earlier?", true, false, true, Complex},
		{"hello", true, false, false, Simple},
		{"Hi there, could you summarise federated learning", true, false, false, Simple},
		{"Thank you for the summary of transformers", true, false, false, Simple},
		{"Neural networks in production today?", true, false, false, Medium},
		{"Summarise federated learning privacy guarantees", false, false, false, Simple},
		{"Analyze the trade-offs of transformer architectures", false, true, false, Medium},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			p := rules.Plan(tt.query)
			if p.NeedsRetrieval != tt.retrieval || p.NeedsReasoning != tt.reasoning || p.NeedsMemory != tt.memory {
				t.Errorf("plan = %+v, want retrieval=%v reasoning=%v memory=%v",
					p, tt.retrieval, tt.reasoning, tt.memory)
			}
			if p.Complexity != tt.complexity {
				t.Errorf("complexity = %s, want %s", p.Complexity, tt.complexity)
			}
			if p.Source != "rules" {
				t.Errorf("source = %q", p.Source)
			}
		})
	}
}

func TestGreetingDoesNotMatchInsideWords(t *testing.T) {
	// "which" contains "hi"; only whole tokens count as greetings.
	p := NewRuleClassifier(DefaultLexicon()).Plan("Evaluate which optimizer converges faster")
	if p.Complexity == Simple {
		t.Fatalf("plan = %+v, greeting matched inside a word", p)
	}
	if !p.NeedsReasoning {
		t.Error("expected reasoning")
	}
}

func TestComplexityFor(t *testing.T) {
	for n, want := range map[int]Complexity{0: Simple, 1: Medium, 2: Complex, 3: Complex} {
		if got := ComplexityFor(n); got != want {
			t.Errorf("ComplexityFor(%d) = %s, want %s", n, got, want)
		}
	}
}

func TestSubtasksRestateBooleans(t *testing.T) {
	p := NewRuleClassifier(DefaultLexicon()).Plan("What did we discuss about neural networks earlier?")
	want := []string{"Research information on the topic", "Retrieve relevant past conversations"}
	if !reflect.DeepEqual(p.Subtasks, want) {
		t.Errorf("subtasks = %v, want %v", p.Subtasks, want)
	}
}

type fakeLLM struct {
	reply string
	err   error
}

func (f fakeLLM) Route(context.Context, string, *provider.ChatRequest) (*provider.ChatResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &provider.ChatResponse{Content: f.reply}, nil
}

func TestLLMClassifierParsesFencedJSON(t *testing.T) {
	c := NewLLMClassifier(fakeLLM{reply: "Sure!\n```json\n" +
		`{"requires_research": true, "requires_analysis": true, "requires_memory": false, "complexity": "simple", "subtasks": ["x"]}` +
		"\n```"}, "")
	p, err := c.Classify(context.Background(), "compare cnn and rnn")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !p.NeedsRetrieval || !p.NeedsReasoning || p.NeedsMemory {
		t.Errorf("plan = %+v", p)
	}
	// Complexity is recomputed, not trusted.
	if p.Complexity != Complex || p.Source != "llm" {
		t.Errorf("complexity = %s source = %s", p.Complexity, p.Source)
	}
}

func TestPlannerFallsBackOnLLMFailure(t *testing.T) {
	tests := []struct {
		name string
		llm  fakeLLM
	}{
		{"transport error", fakeLLM{err: errors.New("connection refused")}},
		{"not json", fakeLLM{reply: "I think you need research."}},
		{"missing flags", fakeLLM{reply: `{"complexity":"simple"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(NewLLMClassifier(tt.llm, ""), nil, zap.NewNop())
			plan := p.Plan(context.Background(), "What are the main types of neural networks?")
			if plan.Source != "rules" || !plan.NeedsRetrieval || plan.Complexity != Medium {
				t.Errorf("plan = %+v, want rule plan", plan)
			}
		})
	}
}

func TestExtractJSON(t *testing.T) {
	tests := map[string]string{
		`{"a":1}`:                   `{"a":1}`,
		"```json\n{\"a\":1}\n```":   `{"a":1}`,
		"text ```\n{\"a\":1}```end": `{"a":1}`,
	}
	for in, want := range tests {
		if got := ExtractJSON(in); got != want {
			t.Errorf("ExtractJSON(%q) = %q, want %q", in, got, want)
		}
	}
}
