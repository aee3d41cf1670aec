// Package vectorindex holds fixed-dimension embedding vectors and answers
// exact nearest-neighbour queries by cosine similarity.
package vectorindex

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDimensionMismatch is returned when a vector's length differs from the
// index dimension.
var ErrDimensionMismatch = errors.New("vectorindex: dimension mismatch")

// Kind identifies which memory collection a record projects.
type Kind string

const (
	KindKnowledge    Kind = "knowledge"
	KindConversation Kind = "conversation"
)

// Record is the payload stored next to a vector.
type Record struct {
	Kind     Kind           `json:"kind"`
	EntryID  int64          `json:"entry_id"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Hit is one search result.
type Hit struct {
	ID         uint64  `json:"id"`
	Similarity float64 `json:"similarity"`
	Record     Record  `json:"record"`
}

// Index is the vector index contract used by the memory store.
type Index interface {
	Add(vec []float32, rec Record) (uint64, error)
	Search(query []float32, k int) ([]Hit, error)
	Get(id uint64) (Record, bool)
	Len() int
	Dimension() int
	Clear()
	State() State
	Restore(State) error
}

// State is the serialized form of an index. NextID is carried so that ids
// issued after a restore never collide with restored ones.
type State struct {
	Dimension int           `json:"dimension"`
	NextID    uint64        `json:"next_id"`
	Records   []StoredEntry `json:"records"`
}

type StoredEntry struct {
	ID     uint64    `json:"id"`
	Vector []float32 `json:"vector"`
	Record Record    `json:"record"`
}

// Marshal encodes an index state as JSON.
func Marshal(ix Index) ([]byte, error) {
	data, err := json.Marshal(ix.State())
	if err != nil {
		return nil, fmt.Errorf("vectorindex: marshal: %w", err)
	}
	return data, nil
}

// Unmarshal restores ix from JSON produced by Marshal.
func Unmarshal(ix Index, data []byte) error {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("vectorindex: unmarshal: %w", err)
	}
	return ix.Restore(st)
}

func mismatch(got, want int) error {
	return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, got, want)
}
