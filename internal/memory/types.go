// Package memory is the append-only long-term memory of the service:
// knowledge facts, conversation turns and per-capability agent state, with
// a vector index mirror kept in step under the same lock.
package memory

import (
	"strings"
	"time"

	"github.com/nidhogg/mnemo/internal/vectorindex"
)

// KnowledgeEntry is one stored fact. Entries are never mutated after append.
type KnowledgeEntry struct {
	ID         int64          `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Topic      string         `json:"topic"`
	Content    string         `json:"content"`
	Source     string         `json:"source"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Text is the projection that gets embedded for the vector index.
func (k KnowledgeEntry) Text() string {
	return "Topic: " + k.Topic + "\nContent: " + k.Content
}

// CapabilityRecord is the persisted form of one capability's output.
type CapabilityRecord struct {
	Capability string         `json:"capability"`
	Agent      string         `json:"agent,omitempty"`
	Result     string         `json:"result"`
	Confidence float64        `json:"confidence"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// ConversationEntry records one processed request.
type ConversationEntry struct {
	ID        int64              `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	Query     string             `json:"query"`
	Results   []CapabilityRecord `json:"results"`
	Metadata  map[string]any     `json:"metadata,omitempty"`
}

// AgentState is the last state a capability reported for a task.
type AgentState struct {
	Capability string         `json:"capability"`
	TaskID     string         `json:"task_id"`
	State      map[string]any `json:"state"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Fact is the input for StoreKnowledge.
type Fact struct {
	Topic      string
	Content    string
	Source     string
	Confidence float64
	Metadata   map[string]any
}

// StateUpdate is the input for UpdateAgentState inside a Turn.
type StateUpdate struct {
	Capability string
	TaskID     string
	State      map[string]any
}

// Turn is everything one request persists. Commit applies it as a unit.
type Turn struct {
	Facts    []Fact
	Query    string
	Results  []CapabilityRecord
	Metadata map[string]any
	States   []StateUpdate
}

// Receipt lists the ids Commit assigned.
type Receipt struct {
	KnowledgeIDs   []int64 `json:"knowledge_ids"`
	ConversationID int64   `json:"conversation_id"`
}

// SearchRequest asks for both candidate lists in one consistent read.
// A nil Vector skips the vector side.
type SearchRequest struct {
	Vector   []float32
	Keywords []string
	K        int
}

// VectorMatch is an index hit resolved to the entry it projects.
type VectorMatch struct {
	Similarity   float64
	Kind         vectorindex.Kind
	Knowledge    *KnowledgeEntry
	Conversation *ConversationEntry
}

// SearchResult holds the candidates of one Search call. VectorErr is set
// when the vector side failed; the keyword side is still valid.
type SearchResult struct {
	Vector    []VectorMatch
	Keyword   []KnowledgeEntry
	VectorErr error
}

// Stats is a point-in-time count of the store contents.
type Stats struct {
	Knowledge     int `json:"knowledge"`
	Conversations int `json:"conversations"`
	AgentStates   int `json:"agent_states"`
	Vectors       int `json:"vectors"`
	Dimension     int `json:"dimension"`
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (k KnowledgeEntry) clone() KnowledgeEntry {
	k.Metadata = copyMap(k.Metadata)
	return k
}

func (c ConversationEntry) clone() ConversationEntry {
	results := make([]CapabilityRecord, len(c.Results))
	for i, r := range c.Results {
		r.Payload = copyMap(r.Payload)
		results[i] = r
	}
	c.Results = results
	c.Metadata = copyMap(c.Metadata)
	return c
}

func (a AgentState) clone() AgentState {
	a.State = copyMap(a.State)
	return a
}

func matchesTopic(k KnowledgeEntry, needle string) bool {
	return strings.Contains(strings.ToLower(k.Topic), needle) ||
		strings.Contains(strings.ToLower(k.Content), needle)
}

func matchesAnyKeyword(k KnowledgeEntry, keywords []string) bool {
	text := strings.ToLower(k.Topic + " " + k.Content)
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
