// Package research answers factual questions from a curated knowledge base
// of AI and machine-learning topics.
package research

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/lexical"
)

//go:embed knowledge.json
var defaultKnowledge []byte

const (
	// ConversationalReply answers greetings and small talk.
	ConversationalReply = "I can help you with research on AI, machine learning, neural networks, and related topics. What would you like to know?"
	// NoResultsReply is returned when nothing in the knowledge base matched.
	NoResultsReply = "No relevant information found in knowledge base."

	maxFindings   = 10
	maxFormatted  = 5
	exactScore    = 1.0
	broadScore    = 0.5
	minKeywordLen = 2
)

// Document is one knowledge-base entry. The optional fields feed the
// analysis modes.
type Document struct {
	Title                   string   `json:"title"`
	Content                 string   `json:"content"`
	Confidence              float64  `json:"confidence"`
	Examples                []string `json:"examples,omitempty"`
	Pros                    []string `json:"pros,omitempty"`
	Cons                    []string `json:"cons,omitempty"`
	UseCases                []string `json:"use_cases,omitempty"`
	TradeOffs               string   `json:"trade_offs,omitempty"`
	Methodology             string   `json:"methodology,omitempty"`
	ComputationalEfficiency string   `json:"computational_efficiency,omitempty"`
	Challenges              []string `json:"challenges,omitempty"`
	Implications            []string `json:"implications,omitempty"`
	Strategies              []string `json:"strategies,omitempty"`
	Techniques              []string `json:"techniques,omitempty"`
	Regulations             []string `json:"regulations,omitempty"`
	EthicalPrinciples       []string `json:"ethical_principles,omitempty"`
	MemoryUsage             string   `json:"memory_usage,omitempty"`
	MemoryDetails           string   `json:"memory_details,omitempty"`
}

func (d Document) text() string {
	return strings.ToLower(d.Title + " " + d.Content)
}

// Focus narrows an exact topic match to entries mentioning Terms when the
// query names one of Triggers.
type Focus struct {
	Triggers []string `json:"triggers"`
	Terms    []string `json:"terms"`
}

// Topic groups documents under a name and its aliases.
type Topic struct {
	Name    string     `json:"name"`
	Aliases []string   `json:"aliases,omitempty"`
	Focus   *Focus     `json:"focus,omitempty"`
	Boost   float64    `json:"boost,omitempty"`
	Entries []Document `json:"entries"`
}

// KnowledgeBase is the ordered list of topics.
type KnowledgeBase struct {
	Topics []Topic `json:"topics"`
}

// LoadKnowledge decodes a knowledge base.
func LoadKnowledge(r io.Reader) (*KnowledgeBase, error) {
	var kb KnowledgeBase
	if err := json.NewDecoder(r).Decode(&kb); err != nil {
		return nil, fmt.Errorf("decode knowledge base: %w", err)
	}
	if len(kb.Topics) == 0 {
		return nil, fmt.Errorf("knowledge base has no topics")
	}
	return &kb, nil
}

// DefaultKnowledge returns the built-in knowledge base.
func DefaultKnowledge() *KnowledgeBase {
	var kb KnowledgeBase
	if err := json.Unmarshal(defaultKnowledge, &kb); err != nil {
		panic(fmt.Sprintf("research: embedded knowledge base: %v", err))
	}
	return &kb
}

// Finding is a matched document with its topic.
type Finding struct {
	Topic string `json:"topic"`
	Document
	score float64
}

// Report is the outcome of one research call.
type Report struct {
	Query         string    `json:"query"`
	Findings      []Finding `json:"results"`
	MatchedTopics []string  `json:"matched_topics"`
	Confidence    float64   `json:"confidence"`
	Result        string    `json:"result"`
	// UsedMemory is set when prior memory context accompanied the query.
	UsedMemory bool `json:"used_memory,omitempty"`
}

// Researcher searches the knowledge base.
type Researcher struct {
	kb           *KnowledgeBase
	conversation []string
	stop         map[string]bool
	logger       *zap.Logger
}

// New creates a Researcher over kb. A nil kb selects the built-in one.
func New(kb *KnowledgeBase, logger *zap.Logger) *Researcher {
	if kb == nil {
		kb = DefaultKnowledge()
	}
	return &Researcher{
		kb:           kb,
		conversation: []string{"hello", "hi", "hey", "greetings", "how are you", "thanks", "thank you"},
		stop: lexical.Set("the", "and", "are", "for", "with", "about", "what", "how", "who", "why",
			"when", "where", "which", "that", "this", "did", "does", "can", "you", "tell", "give",
			"show", "list", "explain", "describe", "define", "main"),
		logger: logger,
	}
}

// Research matches query against the knowledge base. Topics whose name or
// alias appears in the query contribute all their entries; topics sharing
// a word with the query contribute entries scored by keyword overlap. When
// neither applies, any entry mentioning a query keyword is a broad match.
func (r *Researcher) Research(ctx context.Context, query string, memoryContext string) Report {
	m := lexical.NewMatcher(query)
	rep := Report{Query: query, UsedMemory: memoryContext != ""}

	if m.Any(r.conversation) {
		rep.Confidence = 0.5
		rep.Result = ConversationalReply
		return rep
	}

	keywords := m.Significant(minKeywordLen, nil)
	var findings []Finding
	for _, t := range r.kb.Topics {
		if ctx.Err() != nil {
			break
		}
		exact := m.Contains(strings.ToLower(t.Name)) || m.Any(t.Aliases)
		partial := !exact && m.Any(topicWords(t.Name))
		if !exact && !partial {
			continue
		}
		rep.MatchedTopics = append(rep.MatchedTopics, t.Name)

		var got []Finding
		if exact {
			got = exactMatches(t, m)
		} else {
			got = partialMatches(t, keywords, len(m.Tokens()))
		}
		if exact && t.Boost > 0 {
			for i := range got {
				got[i].score += t.Boost
			}
		}
		findings = append(findings, got...)
	}

	if len(findings) == 0 {
		broad := m.Significant(minKeywordLen, r.stop)
		for _, t := range r.kb.Topics {
			for _, d := range t.Entries {
				if containsAny(d.text(), broad) {
					findings = append(findings, Finding{Topic: t.Name, Document: d, score: broadScore})
				}
			}
		}
	}

	sort.SliceStable(findings, func(i, j int) bool { return findings[i].score > findings[j].score })
	if len(findings) > maxFindings {
		findings = findings[:maxFindings]
	}
	rep.Findings = findings

	rep.Confidence = 0.3
	if len(findings) > 0 {
		rep.Confidence = 0.8
	}
	if len(rep.MatchedTopics) > 1 {
		rep.Confidence = math.Min(0.95, rep.Confidence+0.1)
	}
	rep.Result = Format(findings)

	r.logger.Debug("research",
		zap.Int("findings", len(findings)),
		zap.Strings("topics", rep.MatchedTopics),
		zap.Float64("confidence", rep.Confidence))
	return rep
}

func exactMatches(t Topic, m *lexical.Matcher) []Finding {
	focused := t.Focus != nil && m.Any(t.Focus.Triggers)
	var out []Finding
	for _, d := range t.Entries {
		if focused && !containsAny(d.text(), t.Focus.Terms) {
			continue
		}
		out = append(out, Finding{Topic: t.Name, Document: d, score: exactScore})
	}
	return out
}

func partialMatches(t Topic, keywords []string, queryLen int) []Finding {
	var out []Finding
	for _, d := range t.Entries {
		text := d.text()
		n := 0
		for _, k := range keywords {
			if strings.Contains(text, k) {
				n++
			}
		}
		if n > 0 {
			out = append(out, Finding{Topic: t.Name, Document: d, score: float64(n) / float64(max(queryLen, 1))})
		}
	}
	return out
}

// topicWords drops short connectives such as "and" from a topic name.
func topicWords(name string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(name)) {
		if len(w) > 3 {
			out = append(out, w)
		}
	}
	return out
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// Format renders the first findings as a numbered list.
func Format(findings []Finding) string {
	if len(findings) == 0 {
		return NoResultsReply
	}
	lines := make([]string, 0, maxFormatted)
	for i, f := range findings[:min(maxFormatted, len(findings))] {
		line := fmt.Sprintf("%d. [%s] %s: %s", i+1, f.Topic, f.Title, f.Content)
		if len(f.Examples) > 0 {
			line += "\n   Examples: " + strings.Join(f.Examples, ", ")
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
