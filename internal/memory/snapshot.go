package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/vectorindex"
)

// ErrCorrupt is returned when a snapshot fails validation.
var ErrCorrupt = errors.New("memory: corrupt snapshot")

const snapshotVersion = 1

// Snapshot is the serialized form of a Store, index included.
type Snapshot struct {
	Version          int                 `json:"version"`
	Knowledge        []KnowledgeEntry    `json:"knowledge"`
	Conversations    []ConversationEntry `json:"conversations"`
	AgentStates      []AgentState        `json:"agent_states"`
	NextKnowledge    int64               `json:"next_knowledge_id"`
	NextConversation int64               `json:"next_conversation_id"`
	Index            vectorindex.State   `json:"index"`
}

// Snapshot captures the store contents under a read lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Version:          snapshotVersion,
		Knowledge:        make([]KnowledgeEntry, len(s.knowledge)),
		Conversations:    make([]ConversationEntry, len(s.conversations)),
		NextKnowledge:    s.nextKnowledge,
		NextConversation: s.nextConversation,
		Index:            s.index.State(),
	}
	for i, k := range s.knowledge {
		snap.Knowledge[i] = k.clone()
	}
	for i, c := range s.conversations {
		snap.Conversations[i] = c.clone()
	}
	for _, st := range s.states {
		snap.AgentStates = append(snap.AgentStates, st.clone())
	}
	sort.Slice(snap.AgentStates, func(i, j int) bool {
		a, b := snap.AgentStates[i], snap.AgentStates[j]
		if a.Capability != b.Capability {
			return a.Capability < b.Capability
		}
		return a.TaskID < b.TaskID
	})
	return snap
}

// Restore replaces the store contents with snap. The snapshot is validated
// first; on error the store is unchanged.
func (s *Store) Restore(snap Snapshot) error {
	if snap.Version != snapshotVersion {
		return fmt.Errorf("%w: version %d", ErrCorrupt, snap.Version)
	}
	nextK, err := checkIDs(idsOf(snap.Knowledge, func(k KnowledgeEntry) int64 { return k.ID }), snap.NextKnowledge)
	if err != nil {
		return fmt.Errorf("%w: knowledge: %v", ErrCorrupt, err)
	}
	nextC, err := checkIDs(idsOf(snap.Conversations, func(c ConversationEntry) int64 { return c.ID }), snap.NextConversation)
	if err != nil {
		return fmt.Errorf("%w: conversations: %v", ErrCorrupt, err)
	}

	states := make(map[stateKey]AgentState, len(snap.AgentStates))
	for _, st := range snap.AgentStates {
		states[stateKey{st.Capability, st.TaskID}] = st.clone()
	}

	probe := vectorindex.NewBruteForce(snap.Index.Dimension)
	if err := probe.Restore(snap.Index); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.index.Restore(snap.Index); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	s.knowledge = append([]KnowledgeEntry(nil), snap.Knowledge...)
	s.conversations = append([]ConversationEntry(nil), snap.Conversations...)
	s.states = states
	s.nextKnowledge = nextK
	s.nextConversation = nextC
	return nil
}

// SaveFile writes a snapshot to path atomically via a temp file.
func (s *Store) SaveFile(path string) error {
	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		return fmt.Errorf("memory: encode snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("memory: create snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("memory: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("memory: replace snapshot: %w", err)
	}
	s.logger.Info("memory snapshot saved", zap.String("path", path))
	return nil
}

// LoadFile restores from path. A missing file leaves the store empty.
func (s *Store) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("memory: read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := s.Restore(snap); err != nil {
		return err
	}
	st := s.Stats()
	s.logger.Info("memory snapshot loaded",
		zap.String("path", path),
		zap.Int("knowledge", st.Knowledge),
		zap.Int("conversations", st.Conversations),
		zap.Int("vectors", st.Vectors))
	return nil
}

func idsOf[T any](items []T, id func(T) int64) []int64 {
	out := make([]int64, len(items))
	for i, it := range items {
		out[i] = id(it)
	}
	return out
}

// checkIDs requires strictly increasing positive ids and returns a next id
// greater than all of them.
func checkIDs(ids []int64, next int64) (int64, error) {
	var last int64
	for _, id := range ids {
		if id <= last {
			return 0, fmt.Errorf("id %d after %d", id, last)
		}
		last = id
	}
	if next <= last {
		next = last + 1
	}
	return next, nil
}
