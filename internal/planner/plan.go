// Package planner decides which capabilities a request needs.
package planner

import "context"

// Capability is a unit of work the coordinator can run for a request.
type Capability string

const (
	Retrieval Capability = "retrieval"
	Reasoning Capability = "reasoning"
	Memory    Capability = "memory"
)

// Capabilities lists every capability in execution order.
var Capabilities = []Capability{Memory, Retrieval, Reasoning}

type Complexity string

const (
	Simple  Complexity = "simple"
	Medium  Complexity = "medium"
	Complex Complexity = "complex"
)

// ComplexityFor maps the number of required capabilities to a tier.
func ComplexityFor(count int) Complexity {
	switch {
	case count >= 2:
		return Complex
	case count == 1:
		return Medium
	default:
		return Simple
	}
}

// Plan is the classification of one request.
type Plan struct {
	NeedsRetrieval bool       `json:"needs_retrieval"`
	NeedsReasoning bool       `json:"needs_reasoning"`
	NeedsMemory    bool       `json:"needs_memory"`
	Complexity     Complexity `json:"complexity"`
	Subtasks       []string   `json:"subtasks"`
	Source         string     `json:"source"`
}

// Needs reports whether c is required.
func (p Plan) Needs(c Capability) bool {
	switch c {
	case Retrieval:
		return p.NeedsRetrieval
	case Reasoning:
		return p.NeedsReasoning
	case Memory:
		return p.NeedsMemory
	}
	return false
}

// Count is the number of required capabilities.
func (p Plan) Count() int {
	n := 0
	for _, c := range Capabilities {
		if p.Needs(c) {
			n++
		}
	}
	return n
}

// finalize derives complexity and subtasks from the booleans.
func (p Plan) finalize() Plan {
	p.Complexity = ComplexityFor(p.Count())
	p.Subtasks = nil
	if p.NeedsRetrieval {
		p.Subtasks = append(p.Subtasks, "Research information on the topic")
	}
	if p.NeedsReasoning {
		p.Subtasks = append(p.Subtasks, "Analyze and compare findings")
	}
	if p.NeedsMemory {
		p.Subtasks = append(p.Subtasks, "Retrieve relevant past conversations")
	}
	if len(p.Subtasks) == 0 {
		p.Subtasks = []string{"Handle query directly"}
	}
	return p
}

// Classifier turns a query into a Plan. Implementations are swappable
// strategies; an error means "no opinion", never a failed request.
type Classifier interface {
	Classify(ctx context.Context, query string) (Plan, error)
}
