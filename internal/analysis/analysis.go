// Package analysis reasons over research findings: comparisons,
// effectiveness rankings, trade-offs, challenges and privacy reviews.
package analysis

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/lexical"
	"github.com/nidhogg/mnemo/internal/research"
)

// Mode is the kind of analysis selected for a query.
type Mode string

const (
	ModeCompare    Mode = "compare"
	ModeEvaluate   Mode = "evaluate"
	ModeTradeoffs  Mode = "tradeoffs"
	ModeChallenges Mode = "challenges"
	ModeGeneral    Mode = "general"
	ModePrivacy    Mode = "privacy"
)

const (
	noDataConfidence = 0.3
	maxItems         = 5
)

var noData = map[Mode]string{
	ModeCompare:    "No data available for comparison.",
	ModeEvaluate:   "No data available for evaluation.",
	ModeTradeoffs:  "No data available for trade-off analysis.",
	ModeChallenges: "No data available for challenge identification.",
	ModeGeneral:    "No data available for analysis.",
	ModePrivacy:    "No data available for analysis.",
}

// Evaluation scores one item in evaluate mode.
type Evaluation struct {
	Item          string  `json:"item"`
	Effectiveness float64 `json:"effectiveness_score"`
	Pros          int     `json:"pros_count"`
	Cons          int     `json:"cons_count"`
}

// Challenge is a normalized challenge with its frequency.
type Challenge struct {
	Text  string `json:"challenge"`
	Count int    `json:"count"`
}

// Analysis is the outcome of one Analyze call.
type Analysis struct {
	Query       string       `json:"query"`
	Mode        Mode         `json:"mode"`
	Result      string       `json:"result"`
	Confidence  float64      `json:"confidence"`
	Items       []string     `json:"comparison_items,omitempty"`
	Evaluations []Evaluation `json:"evaluations,omitempty"`
	Challenges  []Challenge  `json:"common_challenges,omitempty"`
}

// Vocabulary selects analysis modes. Modes are tried in the order
// compare, evaluate, tradeoffs, challenges; Privacy refines general.
type Vocabulary struct {
	Compare    []string
	Evaluate   []string
	Tradeoffs  []string
	Challenges []string
	Privacy    []string
}

// DefaultVocabulary is the built-in English vocabulary.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Compare:    []string{"compare", "comparing", "comparison", "versus", "vs", "difference", "differences"},
		Evaluate:   []string{"effective", "effectiveness", "efficiency", "efficient", "best", "better", "recommend", "recommendation"},
		Tradeoffs:  []string{"trade-off", "trade-offs", "tradeoff", "tradeoffs", "pros", "cons", "advantage", "advantages"},
		Challenges: []string{"challenge", "challenges", "problem", "problems", "difficulty", "difficulties", "issue", "issues"},
		Privacy:    []string{"privacy", "implications", "protect", "protection", "security"},
	}
}

// Analyst performs rule-based analysis.
type Analyst struct {
	vocab  Vocabulary
	logger *zap.Logger
}

// New creates an Analyst with the default vocabulary.
func New(logger *zap.Logger) *Analyst {
	return &Analyst{vocab: DefaultVocabulary(), logger: logger}
}

// ModeFor picks the analysis mode for query.
func (a *Analyst) ModeFor(query string) Mode {
	m := lexical.NewMatcher(query)
	switch {
	case m.Any(a.vocab.Compare):
		return ModeCompare
	case m.Any(a.vocab.Evaluate):
		return ModeEvaluate
	case m.Any(a.vocab.Tradeoffs):
		return ModeTradeoffs
	case m.Any(a.vocab.Challenges):
		return ModeChallenges
	case m.Any(a.vocab.Privacy):
		return ModePrivacy
	}
	return ModeGeneral
}

// Analyze reasons over data, usually the findings of a research call.
func (a *Analyst) Analyze(_ context.Context, query string, data []research.Finding) Analysis {
	mode := a.ModeFor(query)
	out := Analysis{Query: query, Mode: mode}
	if len(data) == 0 {
		out.Result = noData[mode]
		out.Confidence = noDataConfidence
		return out
	}

	switch mode {
	case ModeCompare:
		compare(&out, data)
	case ModeEvaluate:
		evaluate(&out, data)
	case ModeTradeoffs:
		tradeoffs(&out, data)
	case ModeChallenges:
		challenges(&out, data)
	case ModePrivacy:
		privacy(&out, data)
	default:
		general(&out, data)
	}

	a.logger.Debug("analysis",
		zap.String("mode", string(mode)),
		zap.Int("items", len(data)),
		zap.Float64("confidence", out.Confidence))
	return out
}

func top(data []research.Finding) []research.Finding {
	return data[:min(maxItems, len(data))]
}

func compare(out *Analysis, data []research.Finding) {
	items := top(data)
	if len(items) < 2 {
		out.Result = fmt.Sprintf("Found only %d item(s) for comparison. Need at least 2 items.", len(items))
		out.Confidence = 0.5
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Comparison of %d items:\n\n", len(items))
	for i, x := range items {
		out.Items = append(out.Items, x.Title)
		for _, y := range items[i+1:] {
			fmt.Fprintf(&b, "%s vs %s:\n", x.Title, y.Title)
			if x.Pros != nil && y.Pros != nil {
				b.WriteString("  Advantages:\n")
				fmt.Fprintf(&b, "    %s: %s\n", x.Title, strings.Join(x.Pros, ", "))
				fmt.Fprintf(&b, "    %s: %s\n", y.Title, strings.Join(y.Pros, ", "))
			}
			if x.Cons != nil && y.Cons != nil {
				b.WriteString("  Limitations:\n")
				fmt.Fprintf(&b, "    %s: %s\n", x.Title, strings.Join(x.Cons, ", "))
				fmt.Fprintf(&b, "    %s: %s\n", y.Title, strings.Join(y.Cons, ", "))
			}
			b.WriteString("\n")
		}
	}
	out.Result = b.String()
	out.Confidence = math.Min(0.9, 0.6+0.1*float64(len(items)))
}

// Effectiveness is pros/(pros+cons+1) weighted by the item's confidence.
func Effectiveness(d research.Document) float64 {
	conf := d.Confidence
	if conf == 0 {
		conf = 0.5
	}
	return float64(len(d.Pros)) / float64(len(d.Pros)+len(d.Cons)+1) * conf
}

func evaluate(out *Analysis, data []research.Finding) {
	for _, d := range top(data) {
		out.Evaluations = append(out.Evaluations, Evaluation{
			Item:          d.Title,
			Effectiveness: Effectiveness(d.Document),
			Pros:          len(d.Pros),
			Cons:          len(d.Cons),
		})
	}
	sort.SliceStable(out.Evaluations, func(i, j int) bool {
		return out.Evaluations[i].Effectiveness > out.Evaluations[j].Effectiveness
	})

	var b strings.Builder
	b.WriteString("Effectiveness Evaluation:\n\n")
	for i, e := range out.Evaluations {
		fmt.Fprintf(&b, "%d. %s\n", i+1, e.Item)
		fmt.Fprintf(&b, "   Effectiveness Score: %.2f\n", e.Effectiveness)
		fmt.Fprintf(&b, "   Advantages: %d, Limitations: %d\n\n", e.Pros, e.Cons)
	}
	best := out.Evaluations[0]
	fmt.Fprintf(&b, "Recommendation: %s appears most effective with a score of %.2f.\n", best.Item, best.Effectiveness)
	out.Result = b.String()
	out.Confidence = math.Min(0.85, 0.5+0.05*float64(len(out.Evaluations)))
}

func tradeoffs(out *Analysis, data []research.Finding) {
	var b strings.Builder
	b.WriteString("Trade-off Analysis:\n\n")
	for _, d := range top(data) {
		fmt.Fprintf(&b, "%s:\n", d.Title)
		if len(d.Pros) > 0 {
			fmt.Fprintf(&b, "  Advantages: %s\n", strings.Join(d.Pros, ", "))
		}
		if len(d.Cons) > 0 {
			fmt.Fprintf(&b, "  Disadvantages: %s\n", strings.Join(d.Cons, ", "))
		}
		if d.TradeOffs != "" {
			fmt.Fprintf(&b, "  Key Trade-offs: %s\n", d.TradeOffs)
		}
		b.WriteString("\n")
	}
	out.Result = b.String()
	out.Confidence = 0.8
}

func challenges(out *Analysis, data []research.Finding) {
	counts := map[string]int{}
	var order []string
	type itemChallenges struct {
		title string
		list  []string
	}
	var byItem []itemChallenges
	for _, d := range data {
		if len(d.Challenges) == 0 {
			continue
		}
		byItem = append(byItem, itemChallenges{d.Title, d.Challenges})
		for _, c := range d.Challenges {
			key := strings.ToLower(strings.TrimSpace(c))
			if counts[key] == 0 {
				order = append(order, key)
			}
			counts[key]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	for _, c := range order[:min(maxItems, len(order))] {
		out.Challenges = append(out.Challenges, Challenge{Text: c, Count: counts[c]})
	}

	var b strings.Builder
	b.WriteString("Challenge Analysis:\n\nCommon Challenges Identified:\n")
	for _, c := range out.Challenges {
		fmt.Fprintf(&b, "  - %s (mentioned %d times)\n", capitalize(c.Text), c.Count)
	}
	b.WriteString("\nChallenges by Item:\n")
	for _, it := range byItem[:min(maxItems, len(byItem))] {
		fmt.Fprintf(&b, "\n%s:\n", it.title)
		for _, c := range it.list {
			fmt.Fprintf(&b, "  - %s\n", strings.TrimSpace(c))
		}
	}
	out.Result = b.String()
	out.Confidence = 0.75
}

func general(out *Analysis, data []research.Finding) {
	var b strings.Builder
	b.WriteString("Analysis Results:\n\n")
	for i, d := range top(data) {
		fmt.Fprintf(&b, "%d. %s\n", i+1, d.Title)
		if d.Content != "" {
			fmt.Fprintf(&b, "   %s\n", d.Content)
		}
		if d.Methodology != "" {
			fmt.Fprintf(&b, "   Methodology: %s\n", d.Methodology)
		}
		if d.ComputationalEfficiency != "" {
			fmt.Fprintf(&b, "   Computational Efficiency: %s\n", d.ComputationalEfficiency)
		}
		b.WriteString("\n")
	}
	out.Result = b.String()
	out.Confidence = 0.7
}

func privacy(out *Analysis, data []research.Finding) {
	var implications, protection []research.Finding
	for _, d := range data {
		title := strings.ToLower(d.Title)
		content := strings.ToLower(d.Content)
		switch {
		case strings.Contains(title, "implication"):
			implications = append(implications, d)
		case containsAny(title, "protection", "strategy", "technique", "compliance"):
			protection = append(protection, d)
		case containsAny(content, "implication", "concern", "risk"):
			implications = append(implications, d)
		case containsAny(content, "protect", "strategy", "technique"):
			protection = append(protection, d)
		}
	}

	var b strings.Builder
	b.WriteString("Privacy Implications and Data Protection Analysis:\n\n")
	if len(implications) > 0 {
		b.WriteString("**Privacy Implications of AI:**\n\n")
		for _, d := range implications[:min(3, len(implications))] {
			fmt.Fprintf(&b, "• %s\n", d.Title)
			if len(d.Implications) > 0 {
				b.WriteString("  Key Concerns:\n")
				for _, s := range d.Implications {
					fmt.Fprintf(&b, "    - %s\n", s)
				}
			} else {
				writeSentences(&b, d.Content, 5)
			}
			b.WriteString("\n")
		}
	}
	if len(protection) > 0 {
		b.WriteString("**How to Protect Data in AI Systems:**\n\n")
		for _, d := range protection[:min(3, len(protection))] {
			fmt.Fprintf(&b, "• %s\n", d.Title)
			methods := d.Strategies
			if len(methods) == 0 {
				methods = d.Techniques
			}
			if len(methods) > 0 {
				b.WriteString("  Protection Methods:\n")
				for _, s := range methods {
					fmt.Fprintf(&b, "    - %s\n", s)
				}
			} else {
				writeSentences(&b, d.Content, 8)
			}
			b.WriteString("\n")
		}
	}
	if len(implications) == 0 && len(protection) == 0 {
		b.WriteString("**Privacy and Data Protection Overview:**\n\n")
		for _, d := range data[:min(3, len(data))] {
			fmt.Fprintf(&b, "• %s\n   %s...\n\n", d.Title, lexical.Truncate(d.Content, 200))
		}
	}
	out.Result = b.String()
	out.Confidence = math.Min(0.85, 0.6+0.05*float64(len(implications)+len(protection)))
}

// writeSentences lists up to n substantial sentences of content.
func writeSentences(b *strings.Builder, content string, n int) {
	parts := strings.Split(content, ".")
	for _, s := range parts[:min(n, len(parts))] {
		s = strings.TrimSpace(s)
		if len(s) > 20 {
			fmt.Fprintf(b, "    - %s.\n", s)
		}
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func capitalize(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
