package planner

import (
	"context"

	"go.uber.org/zap"
)

// Planner classifies requests with an optional primary classifier and the
// rule classifier as the explicit fallback.
type Planner struct {
	primary Classifier
	rules   *RuleClassifier
	logger  *zap.Logger
}

// New creates a Planner. primary may be nil.
func New(primary Classifier, rules *RuleClassifier, logger *zap.Logger) *Planner {
	if rules == nil {
		rules = NewRuleClassifier(DefaultLexicon())
	}
	return &Planner{primary: primary, rules: rules, logger: logger}
}

// Plan never fails: a primary classifier error selects the rules.
func (p *Planner) Plan(ctx context.Context, query string) Plan {
	if p.primary == nil {
		return p.rules.Plan(query)
	}
	plan, err := p.primary.Classify(ctx, query)
	if err != nil {
		p.logger.Warn("planner: primary classifier failed, using rules", zap.Error(err))
		return p.rules.Plan(query)
	}
	return plan
}

// Rules exposes the deterministic classifier for callers that need its
// vocabulary.
func (p *Planner) Rules() *RuleClassifier { return p.rules }

// Lexicon returns the rule vocabulary.
func (c *RuleClassifier) Lexicon() Lexicon { return c.lex }
