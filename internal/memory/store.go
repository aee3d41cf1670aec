package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/embedding"
	"github.com/nidhogg/mnemo/internal/vectorindex"
)

type stateKey struct {
	capability string
	taskID     string
}

// Store holds knowledge, conversations and agent state in memory. One
// RWMutex guards the collections and every mutation of the vector index, so
// Clear and Commit are atomic with respect to readers.
type Store struct {
	embedder embedding.Provider
	logger   *zap.Logger

	mu               sync.RWMutex
	knowledge        []KnowledgeEntry
	conversations    []ConversationEntry
	states           map[stateKey]AgentState
	nextKnowledge    int64
	nextConversation int64
	index            vectorindex.Index

	obsMu     sync.RWMutex
	observers []Observer

	// issued is taken under mu; observers see events in that order.
	issued    uint64
	served    uint64
	turnMu    sync.Mutex
	turnReady *sync.Cond
}

// New creates an empty store. A nil index gets a brute-force index sized to
// the embedder's dimension.
func New(embedder embedding.Provider, index vectorindex.Index, logger *zap.Logger) *Store {
	if embedder == nil {
		embedder = embedding.Disabled{}
	}
	if index == nil {
		index = vectorindex.NewBruteForce(embedder.Dimension())
	}
	s := &Store{
		embedder:         embedder,
		logger:           logger,
		states:           make(map[stateKey]AgentState),
		nextKnowledge:    1,
		nextConversation: 1,
		index:            index,
	}
	s.turnReady = sync.NewCond(&s.turnMu)
	return s
}

// Observe registers an observer for committed events. Events are delivered
// in the order their writes took the lock. Observers may read the store but
// must not write to it.
func (s *Store) Observe(o Observer) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, o)
}

// Embedder returns the provider used for index projections.
func (s *Store) Embedder() embedding.Provider {
	return s.embedder
}

// StoreKnowledge appends a fact and mirrors it into the vector index.
func (s *Store) StoreKnowledge(ctx context.Context, f Fact) (int64, error) {
	r, err := s.Commit(ctx, Turn{Facts: []Fact{f}})
	if err != nil {
		return 0, err
	}
	return r.KnowledgeIDs[0], nil
}

// StoreConversation appends a conversation turn and mirrors it into the
// vector index.
func (s *Store) StoreConversation(ctx context.Context, query string, results []CapabilityRecord, metadata map[string]any) (int64, error) {
	r, err := s.Commit(ctx, Turn{Query: query, Results: results, Metadata: metadata})
	if err != nil {
		return 0, err
	}
	return r.ConversationID, nil
}

// UpdateAgentState upserts the state for (capability, taskID).
func (s *Store) UpdateAgentState(ctx context.Context, capability, taskID string, state map[string]any) error {
	_, err := s.Commit(ctx, Turn{States: []StateUpdate{{Capability: capability, TaskID: taskID, State: state}}})
	return err
}

// Commit applies a whole turn under one write lock. Embeddings are computed
// before the lock is taken. If ctx is done before the write, nothing is
// recorded. A Turn with an empty Query stores no conversation entry.
func (s *Store) Commit(ctx context.Context, t Turn) (Receipt, error) {
	var texts []string
	for _, f := range t.Facts {
		texts = append(texts, KnowledgeEntry{Topic: f.Topic, Content: f.Content}.Text())
	}
	hasConversation := t.Query != ""
	if hasConversation {
		text, err := conversationText(t.Query, t.Results)
		if err != nil {
			return Receipt{}, err
		}
		texts = append(texts, text)
	}
	vectors := s.embed(ctx, texts)

	if err := ctx.Err(); err != nil {
		return Receipt{}, fmt.Errorf("memory: commit: %w", err)
	}

	now := time.Now().UTC()
	var (
		receipt   Receipt
		knowledge []KnowledgeEntry
		conv      *ConversationEntry
		states    []AgentState
	)

	s.mu.Lock()
	for i, f := range t.Facts {
		entry := KnowledgeEntry{
			ID:         s.nextKnowledge,
			Timestamp:  now,
			Topic:      f.Topic,
			Content:    f.Content,
			Source:     f.Source,
			Confidence: f.Confidence,
			Metadata:   copyMap(f.Metadata),
		}
		s.nextKnowledge++
		s.knowledge = append(s.knowledge, entry)
		s.mirror(vectorAt(vectors, i), vectorindex.KindKnowledge, entry.ID, map[string]any{"topic": entry.Topic, "source": entry.Source})
		receipt.KnowledgeIDs = append(receipt.KnowledgeIDs, entry.ID)
		knowledge = append(knowledge, entry.clone())
	}
	if hasConversation {
		entry := ConversationEntry{
			ID:        s.nextConversation,
			Timestamp: now,
			Query:     t.Query,
			Results:   t.Results,
			Metadata:  copyMap(t.Metadata),
		}.clone()
		s.nextConversation++
		s.conversations = append(s.conversations, entry)
		s.mirror(vectorAt(vectors, len(t.Facts)), vectorindex.KindConversation, entry.ID, map[string]any{"query": entry.Query})
		receipt.ConversationID = entry.ID
		c := entry.clone()
		conv = &c
	}
	for _, u := range t.States {
		st := AgentState{Capability: u.Capability, TaskID: u.TaskID, State: copyMap(u.State), UpdatedAt: now}
		s.states[stateKey{u.Capability, u.TaskID}] = st
		states = append(states, st.clone())
	}
	turn := s.issued
	s.issued++
	s.mu.Unlock()

	s.notify(ctx, turn, func(o Observer) error {
		for i, k := range knowledge {
			if err := o.KnowledgeStored(ctx, k, vectorAt(vectors, i)); err != nil {
				return err
			}
		}
		if conv != nil {
			if err := o.ConversationStored(ctx, *conv, vectorAt(vectors, len(t.Facts))); err != nil {
				return err
			}
		}
		for _, st := range states {
			if err := o.AgentStateUpdated(ctx, st); err != nil {
				return err
			}
		}
		return nil
	})
	return receipt, nil
}

// embed returns nil when the provider is unavailable or fails; the caller
// then stores entries without index mirrors.
func (s *Store) embed(ctx context.Context, texts []string) [][]float32 {
	if len(texts) == 0 || !s.embedder.Available() {
		return nil
	}
	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		s.logger.Warn("memory: embedding failed, storing without vectors", zap.Error(err))
		return nil
	}
	if len(vecs) != len(texts) {
		s.logger.Warn("memory: embedding count mismatch",
			zap.Int("texts", len(texts)), zap.Int("vectors", len(vecs)))
		return nil
	}
	return vecs
}

// mirror must be called with s.mu held.
func (s *Store) mirror(vec []float32, kind vectorindex.Kind, entryID int64, meta map[string]any) {
	if vec == nil {
		return
	}
	if _, err := s.index.Add(vec, vectorindex.Record{Kind: kind, EntryID: entryID, Metadata: meta}); err != nil {
		if errors.Is(err, vectorindex.ErrDimensionMismatch) {
			s.logger.Warn("memory: index mirror skipped",
				zap.String("kind", string(kind)), zap.Int64("entry_id", entryID), zap.Error(err))
			return
		}
		s.logger.Error("memory: index add failed", zap.Error(err))
	}
}

// SearchByTopic returns the first k facts, in insertion order, whose topic
// or content contains topic (case-insensitive).
func (s *Store) SearchByTopic(topic string, k int) []KnowledgeEntry {
	needle := strings.ToLower(strings.TrimSpace(topic))
	if k <= 0 || needle == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []KnowledgeEntry
	for _, e := range s.knowledge {
		if matchesTopic(e, needle) {
			out = append(out, e.clone())
			if len(out) == k {
				break
			}
		}
	}
	return out
}

// SearchByKeywords returns the first k facts, in insertion order, whose
// lowercased topic and content contain any keyword.
func (s *Store) SearchByKeywords(keywords []string, k int) []KnowledgeEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keywordLocked(normalizeKeywords(keywords), k)
}

func (s *Store) keywordLocked(keywords []string, k int) []KnowledgeEntry {
	if k <= 0 || len(keywords) == 0 {
		return nil
	}
	var out []KnowledgeEntry
	for _, e := range s.knowledge {
		if matchesAnyKeyword(e, keywords) {
			out = append(out, e.clone())
			if len(out) == k {
				break
			}
		}
	}
	return out
}

// Search gathers vector and keyword candidates under a single read lock.
func (s *Store) Search(req SearchRequest) SearchResult {
	keywords := normalizeKeywords(req.Keywords)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var res SearchResult
	if req.Vector != nil && req.K > 0 {
		hits, err := s.index.Search(req.Vector, req.K)
		if err != nil {
			res.VectorErr = err
		}
		for _, h := range hits {
			m := VectorMatch{Similarity: h.Similarity, Kind: h.Record.Kind}
			switch h.Record.Kind {
			case vectorindex.KindKnowledge:
				if e, ok := s.knowledgeLocked(h.Record.EntryID); ok {
					m.Knowledge = &e
				}
			case vectorindex.KindConversation:
				if e, ok := s.conversationLocked(h.Record.EntryID); ok {
					m.Conversation = &e
				}
			}
			if m.Knowledge == nil && m.Conversation == nil {
				continue
			}
			res.Vector = append(res.Vector, m)
		}
	}
	res.Keyword = s.keywordLocked(keywords, req.K)
	return res
}

func (s *Store) knowledgeLocked(id int64) (KnowledgeEntry, bool) {
	i := sort.Search(len(s.knowledge), func(i int) bool { return s.knowledge[i].ID >= id })
	if i < len(s.knowledge) && s.knowledge[i].ID == id {
		return s.knowledge[i].clone(), true
	}
	return KnowledgeEntry{}, false
}

func (s *Store) conversationLocked(id int64) (ConversationEntry, bool) {
	i := sort.Search(len(s.conversations), func(i int) bool { return s.conversations[i].ID >= id })
	if i < len(s.conversations) && s.conversations[i].ID == id {
		return s.conversations[i].clone(), true
	}
	return ConversationEntry{}, false
}

// Knowledge returns a fact by id.
func (s *Store) Knowledge(id int64) (KnowledgeEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.knowledgeLocked(id)
}

// ConversationHistory returns the most recent limit turns in chronological
// order. limit <= 0 returns every turn.
func (s *Store) ConversationHistory(limit int) []ConversationEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if limit > 0 && len(s.conversations) > limit {
		start = len(s.conversations) - limit
	}
	out := make([]ConversationEntry, 0, len(s.conversations)-start)
	for _, c := range s.conversations[start:] {
		out = append(out, c.clone())
	}
	return out
}

// AgentState returns the state stored for (capability, taskID).
func (s *Store) AgentState(capability, taskID string) (AgentState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[stateKey{capability, taskID}]
	if !ok {
		return AgentState{}, false
	}
	return st.clone(), true
}

// AgentStates returns every state stored for a capability, newest first.
func (s *Store) AgentStates(capability string) []AgentState {
	s.mu.RLock()
	var out []AgentState
	for k, st := range s.states {
		if k.capability == capability {
			out = append(out, st.clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].TaskID < out[j].TaskID
	})
	return out
}

// Stats returns current collection sizes.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Knowledge:     len(s.knowledge),
		Conversations: len(s.conversations),
		AgentStates:   len(s.states),
		Vectors:       s.index.Len(),
		Dimension:     s.index.Dimension(),
	}
}

// Clear empties every collection and the index, and resets id counters.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	s.knowledge = nil
	s.conversations = nil
	s.states = make(map[stateKey]AgentState)
	s.nextKnowledge = 1
	s.nextConversation = 1
	s.index.Clear()
	turn := s.issued
	s.issued++
	s.mu.Unlock()

	s.logger.Info("memory cleared")
	s.notify(ctx, turn, func(o Observer) error { return o.Cleared(ctx) })
}

// notify waits until every earlier turn has been delivered, then hands the
// event to each observer.
func (s *Store) notify(ctx context.Context, turn uint64, fn func(Observer) error) {
	s.turnMu.Lock()
	for s.served != turn {
		s.turnReady.Wait()
	}
	s.turnMu.Unlock()
	defer func() {
		s.turnMu.Lock()
		s.served++
		s.turnReady.Broadcast()
		s.turnMu.Unlock()
	}()

	s.obsMu.RLock()
	observers := append([]Observer(nil), s.observers...)
	s.obsMu.RUnlock()

	for _, o := range observers {
		if err := fn(o); err != nil {
			s.logger.Warn("memory: observer failed", zap.String("observer", fmt.Sprintf("%T", o)), zap.Error(err))
		}
	}
}

func conversationText(query string, results []CapabilityRecord) (string, error) {
	if results == nil {
		results = []CapabilityRecord{}
	}
	data, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("memory: encode conversation results: %w", err)
	}
	return "User: " + query + "\nResponses: " + string(data), nil
}

func normalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

func vectorAt(vectors [][]float32, i int) []float32 {
	if i < len(vectors) {
		return vectors[i]
	}
	return nil
}
