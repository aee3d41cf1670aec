// Package events publishes memory changes to a Redis stream so other
// processes can follow what the service learns.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/memory"
)

// DefaultStream is used when no stream name is configured.
const DefaultStream = "mnemo:memory"

// Event types.
const (
	TypeKnowledge    = "knowledge"
	TypeConversation = "conversation"
	TypeAgentState   = "agent_state"
	TypeCleared      = "cleared"
)

// Event is one memory change as carried on the stream.
type Event struct {
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type"`
	EntryID   int64           `json:"entry_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Bus publishes and reads memory events via Redis Streams. It implements
// memory.Observer.
type Bus struct {
	rdb    *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

var _ memory.Observer = (*Bus)(nil)

// New connects to redisURL and checks the connection.
func New(ctx context.Context, redisURL, stream string, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if stream == "" {
		stream = DefaultStream
	}
	return &Bus{rdb: rdb, stream: stream, maxLen: 10000, logger: logger}, nil
}

// Publish appends e to the stream, trimming it to roughly maxLen entries.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]interface{}{"type": e.Type, "data": string(data)},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", b.stream, err)
	}
	b.logger.Debug("published memory event", zap.String("type", e.Type), zap.Int64("entry", e.EntryID))
	return nil
}

func (b *Bus) publish(ctx context.Context, typ string, id int64, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return b.Publish(ctx, Event{Type: typ, EntryID: id, Payload: raw})
}

func (b *Bus) KnowledgeStored(ctx context.Context, entry memory.KnowledgeEntry, _ []float32) error {
	return b.publish(ctx, TypeKnowledge, entry.ID, entry)
}

func (b *Bus) ConversationStored(ctx context.Context, entry memory.ConversationEntry, _ []float32) error {
	return b.publish(ctx, TypeConversation, entry.ID, entry)
}

func (b *Bus) AgentStateUpdated(ctx context.Context, st memory.AgentState) error {
	return b.publish(ctx, TypeAgentState, 0, st)
}

func (b *Bus) Cleared(ctx context.Context) error {
	return b.Publish(ctx, Event{Type: TypeCleared})
}

// Subscribe follows the stream from "from" ("$" for new events only, "0"
// for the whole backlog). The channel closes when ctx ends.
func (b *Bus) Subscribe(ctx context.Context, from string) <-chan Event {
	ch := make(chan Event, 16)
	if from == "" {
		from = "$"
	}

	go func() {
		defer close(ch)
		lastID := from
		for {
			if ctx.Err() != nil {
				return
			}
			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{b.stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					b.logger.Warn("read memory events", zap.Error(err))
					select {
					case <-time.After(time.Second):
					case <-ctx.Done():
						return
					}
				}
				continue
			}
			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var e Event
					if json.Unmarshal([]byte(data), &e) != nil {
						continue
					}
					e.ID = msg.ID
					select {
					case ch <- e:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return ch
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}
