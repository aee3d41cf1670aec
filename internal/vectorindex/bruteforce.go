package vectorindex

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// BruteForce scores every stored vector on each query. It is safe for
// concurrent use.
type BruteForce struct {
	mu      sync.RWMutex
	dim     int
	nextID  uint64
	ids     []uint64
	vectors [][]float32
	norms   []float64
	records map[uint64]Record
}

// NewBruteForce creates an index of the given dimension. A dimension of 0
// is fixed by the first Add.
func NewBruteForce(dim int) *BruteForce {
	return &BruteForce{
		dim:     dim,
		nextID:  1,
		records: make(map[uint64]Record),
	}
}

// Add stores a copy of vec and returns its id.
func (b *BruteForce) Add(vec []float32, rec Record) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.dim == 0 {
		if len(vec) == 0 {
			return 0, mismatch(0, 0)
		}
		b.dim = len(vec)
	}
	if len(vec) != b.dim {
		return 0, mismatch(len(vec), b.dim)
	}

	id := b.nextID
	b.nextID++
	v := make([]float32, len(vec))
	copy(v, vec)
	b.ids = append(b.ids, id)
	b.vectors = append(b.vectors, v)
	b.norms = append(b.norms, norm(v))
	b.records[id] = copyRecord(rec)
	return id, nil
}

// Search returns at most k hits with strictly positive similarity, highest
// first, ties broken by ascending id.
func (b *BruteForce) Search(query []float32, k int) ([]Hit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if k <= 0 || len(b.ids) == 0 {
		return nil, nil
	}
	if len(query) != b.dim {
		return nil, mismatch(len(query), b.dim)
	}
	qn := norm(query)
	if qn == 0 {
		return nil, nil
	}

	hits := make([]Hit, 0, len(b.ids))
	for i, v := range b.vectors {
		if b.norms[i] == 0 {
			continue
		}
		sim := dot(query, v) / (qn * b.norms[i])
		if sim <= 0 {
			continue
		}
		hits = append(hits, Hit{ID: b.ids[i], Similarity: sim})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	for i := range hits {
		hits[i].Record = copyRecord(b.records[hits[i].ID])
	}
	return hits, nil
}

func (b *BruteForce) Get(id uint64) (Record, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.records[id]
	if !ok {
		return Record{}, false
	}
	return copyRecord(rec), true
}

func (b *BruteForce) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.ids)
}

func (b *BruteForce) Dimension() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dim
}

// Clear drops every vector and resets the id counter. The dimension is kept.
func (b *BruteForce) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ids = nil
	b.vectors = nil
	b.norms = nil
	b.records = make(map[uint64]Record)
	b.nextID = 1
}

func (b *BruteForce) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := State{Dimension: b.dim, NextID: b.nextID, Records: make([]StoredEntry, len(b.ids))}
	for i, id := range b.ids {
		v := make([]float32, len(b.vectors[i]))
		copy(v, b.vectors[i])
		st.Records[i] = StoredEntry{ID: id, Vector: v, Record: copyRecord(b.records[id])}
	}
	return st
}

// Restore replaces the index contents with st. The state is validated
// before anything is replaced.
func (b *BruteForce) Restore(st State) error {
	ids := make([]uint64, 0, len(st.Records))
	vectors := make([][]float32, 0, len(st.Records))
	norms := make([]float64, 0, len(st.Records))
	records := make(map[uint64]Record, len(st.Records))
	next := st.NextID
	if next == 0 {
		next = 1
	}
	for _, e := range st.Records {
		if len(e.Vector) != st.Dimension {
			return fmt.Errorf("vectorindex: restore record %d: %w", e.ID, mismatch(len(e.Vector), st.Dimension))
		}
		if _, dup := records[e.ID]; dup {
			return fmt.Errorf("vectorindex: restore: duplicate id %d", e.ID)
		}
		if e.ID >= next {
			next = e.ID + 1
		}
		v := make([]float32, len(e.Vector))
		copy(v, e.Vector)
		ids = append(ids, e.ID)
		vectors = append(vectors, v)
		norms = append(norms, norm(v))
		records[e.ID] = copyRecord(e.Record)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.dim = st.Dimension
	b.nextID = next
	b.ids = ids
	b.vectors = vectors
	b.norms = norms
	b.records = records
	return nil
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}

func copyRecord(r Record) Record {
	if r.Metadata == nil {
		return r
	}
	m := make(map[string]any, len(r.Metadata))
	for k, v := range r.Metadata {
		m[k] = v
	}
	r.Metadata = m
	return r
}
