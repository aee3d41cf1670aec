package store

import (
	"context"
	"fmt"
	"time"
)

// Message is one line of a chat session.
type Message struct {
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	TaskID     string    `json:"task_id,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// FindOrCreateSession returns the session for a platform channel, creating
// it on first use.
func (s *Store) FindOrCreateSession(ctx context.Context, platform, channelID string) (string, error) {
	var id string
	err := s.db.QueryRow(ctx, `
		INSERT INTO sessions (platform, channel_id, status)
		VALUES ($1, $2, 'active')
		ON CONFLICT (platform, channel_id)
		DO UPDATE SET status = 'active'
		RETURNING id`,
		platform, channelID,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("find or create session: %w", err)
	}
	return id, nil
}

// AppendMessage stores a message in the given session.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg Message) error {
	var taskID *string
	if msg.TaskID != "" {
		taskID = &msg.TaskID
	}
	var conf *float64
	if msg.Role == "assistant" {
		conf = &msg.Confidence
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO messages (session_id, role, content, task_id, confidence)
		VALUES ($1, $2, $3, $4, $5)`,
		sessionID, msg.Role, msg.Content, taskID, conf,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// GetMessages retrieves recent messages for a session, oldest first.
func (s *Store) GetMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
		SELECT role, content, COALESCE(task_id, ''), COALESCE(confidence, 0), created_at
		FROM (
			SELECT * FROM messages
			WHERE session_id = $1
			ORDER BY seq DESC
			LIMIT $2
		) recent
		ORDER BY seq ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.Role, &msg.Content, &msg.TaskID, &msg.Confidence, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}
