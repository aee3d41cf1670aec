package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/mnemo/internal/memory"
)

var _ memory.Observer = (*Store)(nil)

// KnowledgeStored archives a fact. Ids restart after a clear, so rows are
// upserted rather than inserted.
func (s *Store) KnowledgeStored(ctx context.Context, e memory.KnowledgeEntry, _ []float32) error {
	meta, err := jsonOrNil(e.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO knowledge (id, topic, content, source, confidence, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			topic = EXCLUDED.topic, content = EXCLUDED.content, source = EXCLUDED.source,
			confidence = EXCLUDED.confidence, metadata = EXCLUDED.metadata,
			created_at = EXCLUDED.created_at`,
		e.ID, e.Topic, e.Content, e.Source, e.Confidence, meta, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("archive knowledge %d: %w", e.ID, err)
	}
	return nil
}

// ConversationStored archives a conversation turn.
func (s *Store) ConversationStored(ctx context.Context, c memory.ConversationEntry, _ []float32) error {
	results, err := json.Marshal(c.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	meta, err := jsonOrNil(c.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO conversations (id, query, results, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			query = EXCLUDED.query, results = EXCLUDED.results,
			metadata = EXCLUDED.metadata, created_at = EXCLUDED.created_at`,
		c.ID, c.Query, results, meta, c.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("archive conversation %d: %w", c.ID, err)
	}
	return nil
}

// AgentStateUpdated archives the latest state of a capability for a task.
func (s *Store) AgentStateUpdated(ctx context.Context, st memory.AgentState) error {
	state, err := json.Marshal(st.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO agent_states (capability, task_id, state, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (capability, task_id) DO UPDATE SET
			state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		st.Capability, st.TaskID, state, st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("archive agent state %s/%s: %w", st.Capability, st.TaskID, err)
	}
	return nil
}

// Cleared empties the archive along with memory.
func (s *Store) Cleared(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `TRUNCATE knowledge, conversations, agent_states`); err != nil {
		return fmt.Errorf("truncate archive: %w", err)
	}
	return nil
}

// ArchiveStats counts archived rows.
func (s *Store) ArchiveStats(ctx context.Context) (memory.Stats, error) {
	var st memory.Stats
	err := s.db.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM knowledge),
			(SELECT count(*) FROM conversations),
			(SELECT count(*) FROM agent_states)`,
	).Scan(&st.Knowledge, &st.Conversations, &st.AgentStates)
	if err != nil {
		return st, fmt.Errorf("archive stats: %w", err)
	}
	return st, nil
}

// Topics lists archived knowledge topics by fact count.
func (s *Store) Topics(ctx context.Context, limit int) (map[string]int, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT lower(topic), count(*)
		FROM knowledge
		GROUP BY lower(topic)
		ORDER BY count(*) DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var topic string
		var n int
		if err := rows.Scan(&topic, &n); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		out[topic] = n
	}
	return out, rows.Err()
}

func jsonOrNil(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return b, nil
}
