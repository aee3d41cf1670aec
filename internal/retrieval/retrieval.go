// Package retrieval answers memory queries by merging vector and keyword
// candidates from the memory store and scoring the merged set.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/embedding"
	"github.com/nidhogg/mnemo/internal/lexical"
	"github.com/nidhogg/mnemo/internal/memory"
	"github.com/nidhogg/mnemo/internal/vectorindex"
)

// Mode selects which candidate sources Retrieve consults.
type Mode string

const (
	ModeVector  Mode = "vector"
	ModeKeyword Mode = "keyword"
	ModeHybrid  Mode = "hybrid"
)

// ParseMode maps a user-supplied string to a Mode, defaulting to hybrid.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeHybrid:
		return ModeHybrid, nil
	case ModeVector:
		return ModeVector, nil
	case ModeKeyword:
		return ModeKeyword, nil
	}
	return "", fmt.Errorf("retrieval: unknown mode %q", s)
}

const (
	// NoResultConfidence is reported when nothing matched.
	NoResultConfidence = 0.3
	// TopicConfidence is reported by a topic search with hits.
	TopicConfidence = 0.8
	// ContextConfidence is reported for a non-empty conversation context.
	ContextConfidence = 0.85
	// HistoryConfidence is reported when a history scan found a turn.
	HistoryConfidence = 0.8
	// ConversationsConfidence is reported when ScanConversations found turns.
	ConversationsConfidence = 0.75

	NoResultMessage = "No relevant information found in memory."

	DefaultTopK = 5

	OriginVector  = "vector"
	OriginKeyword = "keyword"
)

// ScoredEntry is one merged candidate.
type ScoredEntry struct {
	Kind       vectorindex.Kind `json:"kind"`
	ID         int64            `json:"id"`
	Topic      string           `json:"topic"`
	Content    string           `json:"content"`
	Source     string           `json:"source"`
	Timestamp  time.Time        `json:"timestamp"`
	Confidence float64          `json:"confidence"`
	Similarity *float64         `json:"similarity,omitempty"`
	Origin     string           `json:"origin"`
}

// Retrieval is the scored answer to one memory query.
type Retrieval struct {
	Query                string        `json:"query"`
	Mode                 Mode          `json:"mode"`
	Entries              []ScoredEntry `json:"results"`
	Confidence           float64       `json:"confidence"`
	Message              string        `json:"message"`
	Result               string        `json:"result"`
	VectorSearchDisabled bool          `json:"vector_search_disabled,omitempty"`
}

// Empty reports whether nothing matched.
func (r *Retrieval) Empty() bool { return len(r.Entries) == 0 }

// Retriever runs hybrid retrieval against a memory store.
type Retriever struct {
	store  *memory.Store
	logger *zap.Logger
}

// New creates a Retriever.
func New(store *memory.Store, logger *zap.Logger) *Retriever {
	return &Retriever{store: store, logger: logger}
}

// Retrieve merges vector results (first) with keyword results, dropping
// duplicates by entry, and stops at k. Similarity is only ever attached to
// vector-origin entries.
func (r *Retriever) Retrieve(ctx context.Context, query string, mode Mode, k int) (*Retrieval, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	if mode == "" {
		mode = ModeHybrid
	}
	out := &Retrieval{Query: query, Mode: mode}

	req := memory.SearchRequest{K: k}
	if mode == ModeVector || mode == ModeHybrid {
		vec, err := embedding.One(ctx, r.store.Embedder(), query)
		switch {
		case errors.Is(err, embedding.ErrUnavailable):
			out.VectorSearchDisabled = true
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("retrieval: %w", ctxErr)
			}
			r.logger.Warn("retrieval: query embedding failed", zap.Error(err))
			out.VectorSearchDisabled = true
		default:
			req.Vector = vec
		}
	}
	if mode == ModeKeyword || mode == ModeHybrid {
		req.Keywords = strings.Fields(strings.ToLower(query))
	}

	res := r.store.Search(req)
	if res.VectorErr != nil {
		r.logger.Warn("retrieval: vector search failed", zap.Error(res.VectorErr))
		out.VectorSearchDisabled = true
	}

	out.Entries = Merge(res.Vector, res.Keyword, k)
	out.Confidence = Confidence(out.Entries)
	if out.Empty() {
		out.Message = NoResultMessage
		out.Result = NoResultMessage
	} else {
		out.Message = fmt.Sprintf("Found %d relevant memory entries", len(out.Entries))
		out.Result = Format(out.Entries)
	}

	r.logger.Debug("memory retrieval",
		zap.String("mode", string(mode)),
		zap.Int("results", len(out.Entries)),
		zap.Float64("confidence", out.Confidence),
		zap.Bool("vector_disabled", out.VectorSearchDisabled))
	return out, nil
}

// SearchTopic is a substring topic search over stored facts.
func (r *Retriever) SearchTopic(topic string, k int) *Retrieval {
	if k <= 0 {
		k = DefaultTopK
	}
	out := &Retrieval{Query: "topic: " + topic, Mode: "topic"}
	for _, e := range r.store.SearchByTopic(topic, k) {
		out.Entries = append(out.Entries, fromKnowledge(e, OriginKeyword, nil))
	}
	if out.Empty() {
		out.Confidence = NoResultConfidence
		out.Message = fmt.Sprintf("No information found about '%s' in memory.", topic)
		out.Result = out.Message
		return out
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Information about '%s':\n\n", topic)
	for i, e := range out.Entries {
		fmt.Fprintf(&b, "%d. (from %s, %s)\n   %s\n\n", i+1, e.Source, e.Timestamp.Format(time.RFC3339), e.Content)
	}
	out.Confidence = TopicConfidence
	out.Message = fmt.Sprintf("Found %d entries about '%s'", len(out.Entries), topic)
	out.Result = b.String()
	return out
}

// ConversationContext renders the last limit turns.
func (r *Retriever) ConversationContext(limit int) *Retrieval {
	history := r.store.ConversationHistory(limit)
	out := &Retrieval{Query: "conversation context", Mode: "history"}
	if len(history) == 0 {
		out.Confidence = NoResultConfidence
		out.Message = "No previous conversations found."
		out.Result = out.Message
		return out
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Recent Conversation History (last %d interactions):\n\n", len(history))
	for _, c := range history {
		fmt.Fprintf(&b, "[%s]\nUser: %s\n", c.Timestamp.Format(time.RFC3339), c.Query)
		if len(c.Results) > 0 {
			b.WriteString("Agents responded with:\n")
			for _, res := range c.Results[:min(2, len(c.Results))] {
				fmt.Fprintf(&b, "  - %s: %s...\n", labelOf(res), lexical.Truncate(res.Result, 200))
			}
		}
		b.WriteString("\n")
		out.Entries = append(out.Entries, fromConversation(c, OriginKeyword, nil))
	}
	out.Confidence = ContextConfidence
	out.Message = fmt.Sprintf("Found %d previous interactions", len(history))
	out.Result = b.String()
	return out
}

// ScanHistory looks through the last limit turns, newest first, for one
// whose query shares a word with words. The first match is rendered with up
// to two of its results.
func (r *Retriever) ScanHistory(words []string, limit int) *Retrieval {
	out := &Retrieval{Query: strings.Join(words, " "), Mode: "history", Confidence: NoResultConfidence, Message: NoResultMessage, Result: NoResultMessage}
	if len(words) == 0 {
		return out
	}
	history := r.store.ConversationHistory(limit)
	for i := len(history) - 1; i >= 0; i-- {
		c := history[i]
		if len(c.Results) == 0 || !mentions(c.Query, words) {
			continue
		}
		var parts []string
		for _, res := range c.Results[:min(2, len(c.Results))] {
			parts = append(parts, lexical.Truncate(res.Result, 200))
		}
		out.Entries = []ScoredEntry{fromConversation(c, OriginKeyword, nil)}
		out.Confidence = HistoryConfidence
		out.Message = "Found a related earlier conversation"
		out.Result = "From earlier conversation: " + c.Query + "\n\n" + strings.Join(parts, "\n")
		return out
	}
	return out
}

// ScanConversations is the broadest history search. It looks through the
// last limit turns, oldest first, for any whose query or responses contain
// one of words longer than three letters. Up to three matches are rendered
// as Q/A pairs with two responses each; every match is returned as an entry.
func (r *Retriever) ScanConversations(words []string, limit int) *Retrieval {
	out := &Retrieval{Query: strings.Join(words, " "), Mode: "history", Confidence: NoResultConfidence, Message: NoResultMessage, Result: NoResultMessage}
	var keep []string
	for _, w := range words {
		if len([]rune(w)) > 3 {
			keep = append(keep, strings.ToLower(w))
		}
	}
	if len(keep) == 0 {
		return out
	}

	var matched []memory.ConversationEntry
	for _, c := range r.store.ConversationHistory(limit) {
		text := c.Query
		for _, res := range c.Results {
			text += " " + res.Result
		}
		if mentions(text, keep) {
			matched = append(matched, c)
		}
	}
	if len(matched) == 0 {
		return out
	}

	var b strings.Builder
	b.WriteString("Found in previous conversations:\n\n")
	for _, c := range matched[:min(3, len(matched))] {
		fmt.Fprintf(&b, "Q: %s\n", c.Query)
		for _, res := range c.Results[:min(2, len(c.Results))] {
			fmt.Fprintf(&b, "A: %s...\n", lexical.Truncate(res.Result, 300))
		}
		b.WriteString("\n")
	}
	for _, c := range matched {
		out.Entries = append(out.Entries, fromConversation(c, OriginKeyword, nil))
	}
	out.Confidence = ConversationsConfidence
	out.Message = fmt.Sprintf("Found %d related earlier conversations", len(matched))
	out.Result = b.String()
	return out
}

func mentions(text string, words []string) bool {
	text = strings.ToLower(text)
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// Merge admits vector matches first, then keyword matches, keeping the
// first occurrence of each (kind, id) and stopping at k.
func Merge(vector []memory.VectorMatch, keyword []memory.KnowledgeEntry, k int) []ScoredEntry {
	type key struct {
		kind vectorindex.Kind
		id   int64
	}
	seen := make(map[key]bool)
	var out []ScoredEntry

	for _, m := range vector {
		if len(out) >= k {
			return out
		}
		sim := m.Similarity
		var e ScoredEntry
		switch {
		case m.Knowledge != nil:
			e = fromKnowledge(*m.Knowledge, OriginVector, &sim)
		case m.Conversation != nil:
			e = fromConversation(*m.Conversation, OriginVector, &sim)
		default:
			continue
		}
		kk := key{e.Kind, e.ID}
		if seen[kk] {
			continue
		}
		seen[kk] = true
		out = append(out, e)
	}
	for _, kn := range keyword {
		if len(out) >= k {
			return out
		}
		kk := key{vectorindex.KindKnowledge, kn.ID}
		if seen[kk] {
			continue
		}
		seen[kk] = true
		out = append(out, fromKnowledge(kn, OriginKeyword, nil))
	}
	return out
}

// Confidence scores a merged set: 0.3 when empty, otherwise
// min(0.9, 0.5+0.1n), raised by 0.1 (capped at 0.95) when the best
// similarity exceeds 0.7.
func Confidence(entries []ScoredEntry) float64 {
	if len(entries) == 0 {
		return NoResultConfidence
	}
	c := math.Min(0.9, 0.5+0.1*float64(len(entries)))
	best := 0.0
	for _, e := range entries {
		if e.Similarity != nil && *e.Similarity > best {
			best = *e.Similarity
		}
	}
	if best > 0.7 {
		c = math.Min(0.95, c+0.1)
	}
	return c
}

// Format renders entries as the human-readable memory report.
func Format(entries []ScoredEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d relevant memory entries:\n\n", len(entries))
	for i, e := range entries {
		fmt.Fprintf(&b, "%d. [%s] (from %s, %s)\n", i+1, e.Topic, e.Source, e.Timestamp.Format(time.RFC3339))
		if e.Similarity != nil {
			fmt.Fprintf(&b, "   Similarity: %.3f\n", *e.Similarity)
		}
		fmt.Fprintf(&b, "   %s\n\n", e.Content)
	}
	return b.String()
}

func fromKnowledge(e memory.KnowledgeEntry, origin string, sim *float64) ScoredEntry {
	return ScoredEntry{
		Kind:       vectorindex.KindKnowledge,
		ID:         e.ID,
		Topic:      e.Topic,
		Content:    e.Content,
		Source:     e.Source,
		Timestamp:  e.Timestamp,
		Confidence: e.Confidence,
		Similarity: sim,
		Origin:     origin,
	}
}

func fromConversation(c memory.ConversationEntry, origin string, sim *float64) ScoredEntry {
	var b strings.Builder
	b.WriteString("Q: " + c.Query)
	if len(c.Results) > 0 {
		b.WriteString("\nA: " + lexical.Truncate(c.Results[0].Result, 300))
	}
	return ScoredEntry{
		Kind:       vectorindex.KindConversation,
		ID:         c.ID,
		Topic:      "conversation",
		Content:    b.String(),
		Source:     "conversation",
		Timestamp:  c.Timestamp,
		Confidence: 1,
		Similarity: sim,
		Origin:     origin,
	}
}

func labelOf(r memory.CapabilityRecord) string {
	if r.Agent != "" {
		return r.Agent
	}
	return r.Capability
}
