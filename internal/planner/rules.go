package planner

import (
	"context"
	"strings"

	"github.com/nidhogg/mnemo/internal/lexical"
)

// Lexicon holds the vocabulary the rule classifier matches against.
// Entries containing a space are matched as phrases; all other entries
// must equal a whole token.
type Lexicon struct {
	Retrieval      []string
	Reasoning      []string
	Memory         []string
	Greeting       []string
	Interrogatives []string
}

// DefaultLexicon is the built-in English vocabulary.
func DefaultLexicon() Lexicon {
	return Lexicon{
		Retrieval: []string{
			"find", "search", "research", "what", "tell me about", "information",
			"types", "examples", "example", "give examples", "give", "list", "show",
			"define", "explain", "describe", "who", "when", "where", "why", "how",
			"agent", "agents",
		},
		Reasoning: []string{
			"compare", "comparing", "comparison", "analyze", "analyse", "analysis",
			"evaluate", "evaluation", "which", "better", "effectiveness", "efficiency",
			"trade-off", "trade-offs", "tradeoff", "tradeoffs", "recommend",
			"recommendation", "should", "best",
		},
		Memory: []string{
			"remember", "remembered", "discuss", "discussed", "discussing", "earlier",
			"before", "previous", "previously", "learned", "we talked", "mentioned",
		},
		Greeting: []string{
			"hello", "hi", "hey", "greetings", "how are you", "thanks", "thank you",
		},
		Interrogatives: []string{
			"what", "who", "how", "why", "when", "where", "examples", "example", "give", "list",
		},
	}
}

// RuleClassifier is the deterministic keyword classifier. It never fails.
type RuleClassifier struct {
	lex Lexicon
}

// NewRuleClassifier creates a classifier over lex.
func NewRuleClassifier(lex Lexicon) *RuleClassifier {
	return &RuleClassifier{lex: lex}
}

func (c *RuleClassifier) Classify(_ context.Context, query string) (Plan, error) {
	return c.Plan(query), nil
}

// Plan classifies query without a context.
func (c *RuleClassifier) Plan(query string) Plan {
	m := lexical.NewMatcher(query)

	if len(m.Tokens()) <= 2 || m.Any(c.lex.Greeting) {
		return Plan{
			NeedsRetrieval: true,
			Complexity:     Simple,
			Subtasks:       []string{"Provide a conversational response"},
			Source:         "rules",
		}
	}

	p := Plan{
		NeedsRetrieval: m.Any(c.lex.Retrieval),
		NeedsReasoning: m.Any(c.lex.Reasoning),
		NeedsMemory:    m.Any(c.lex.Memory),
		Source:         "rules",
	}
	if p.Count() == 0 && (strings.Contains(m.Text(), "?") || m.Any(c.lex.Interrogatives)) {
		p.NeedsRetrieval = true
	}
	return p.finalize()
}
