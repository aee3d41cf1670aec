package vectorindex

import (
	"errors"
	"math/rand"
	"testing"
)

func mustAdd(t *testing.T, ix Index, vec []float32, entry int64) uint64 {
	t.Helper()
	id, err := ix.Add(vec, Record{Kind: KindKnowledge, EntryID: entry})
	if err != nil {
		t.Fatalf("Add(%v): %v", vec, err)
	}
	return id
}

func TestSearchOrdersBySimilarity(t *testing.T) {
	ix := NewBruteForce(3)
	mustAdd(t, ix, []float32{1, 0, 0}, 1)
	mustAdd(t, ix, []float32{0.7, 0.7, 0}, 2)
	mustAdd(t, ix, []float32{0, 1, 0}, 3)
	mustAdd(t, ix, []float32{-1, 0, 0}, 4)

	hits, err := ix.Search([]float32{1, 0.1, 0}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits, want 3 (opposite vector excluded)", len(hits))
	}
	want := []int64{1, 2, 3}
	for i, h := range hits {
		if h.Record.EntryID != want[i] {
			t.Errorf("hit %d entry = %d, want %d", i, h.Record.EntryID, want[i])
		}
		if h.Similarity <= 0 {
			t.Errorf("hit %d similarity %v not positive", i, h.Similarity)
		}
	}
}

func TestSearchTiesByAscendingID(t *testing.T) {
	ix := NewBruteForce(2)
	first := mustAdd(t, ix, []float32{1, 1}, 10)
	second := mustAdd(t, ix, []float32{2, 2}, 11)

	hits, err := ix.Search([]float32{1, 1}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 || hits[0].ID != first || hits[1].ID != second {
		t.Fatalf("got %+v, want ids %d then %d", hits, first, second)
	}
}

func TestSearchProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ix := NewBruteForce(8)
	for i := 0; i < 200; i++ {
		v := make([]float32, 8)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		mustAdd(t, ix, v, int64(i))
	}

	for trial := 0; trial < 20; trial++ {
		q := make([]float32, 8)
		for j := range q {
			q[j] = rng.Float32()*2 - 1
		}
		k := 1 + rng.Intn(30)
		hits, err := ix.Search(q, k)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(hits) > k {
			t.Fatalf("got %d hits for k=%d", len(hits), k)
		}
		for i, h := range hits {
			if h.Similarity <= 0 {
				t.Fatalf("non-positive similarity %v", h.Similarity)
			}
			if i == 0 {
				continue
			}
			prev := hits[i-1]
			if prev.Similarity < h.Similarity ||
				(prev.Similarity == h.Similarity && prev.ID > h.ID) {
				t.Fatalf("hits out of order at %d: %+v then %+v", i, prev, h)
			}
		}
	}
}

func TestDimensionMismatch(t *testing.T) {
	ix := NewBruteForce(3)
	if _, err := ix.Add([]float32{1, 2}, Record{}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Add err = %v, want ErrDimensionMismatch", err)
	}
	mustAdd(t, ix, []float32{1, 2, 3}, 1)
	if _, err := ix.Search([]float32{1}, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Search err = %v, want ErrDimensionMismatch", err)
	}
	if ix.Len() != 1 {
		t.Errorf("len = %d, want 1", ix.Len())
	}
}

func TestDimensionFixedByFirstAdd(t *testing.T) {
	ix := NewBruteForce(0)
	mustAdd(t, ix, []float32{1, 0, 0, 0}, 1)
	if ix.Dimension() != 4 {
		t.Fatalf("dimension = %d, want 4", ix.Dimension())
	}
	if _, err := ix.Add([]float32{1, 0}, Record{}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestEmptyIndexAndZeroK(t *testing.T) {
	ix := NewBruteForce(2)
	hits, err := ix.Search([]float32{1, 0}, 5)
	if err != nil || len(hits) != 0 {
		t.Fatalf("empty index: hits=%v err=%v", hits, err)
	}
	mustAdd(t, ix, []float32{1, 0}, 1)
	hits, _ = ix.Search([]float32{1, 0}, 0)
	if len(hits) != 0 {
		t.Errorf("k=0 returned %d hits", len(hits))
	}
}

func TestRoundTripPreservesIDsAndDimension(t *testing.T) {
	ix := NewBruteForce(3)
	mustAdd(t, ix, []float32{1, 0, 0}, 1)
	mustAdd(t, ix, []float32{0, 1, 0}, 2)
	ix.Add([]float32{0, 0, 1}, Record{Kind: KindConversation, EntryID: 1, Metadata: map[string]any{"topic": "ai"}})

	q := []float32{0.5, 0.4, 0.3}
	before, _ := ix.Search(q, 3)

	data, err := Marshal(ix)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	restored := NewBruteForce(0)
	if err := Unmarshal(restored, data); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if restored.Dimension() != 3 {
		t.Errorf("dimension = %d, want 3", restored.Dimension())
	}

	after, _ := restored.Search(q, 3)
	if len(after) != len(before) {
		t.Fatalf("got %d hits after restore, want %d", len(after), len(before))
	}
	for i := range before {
		if before[i].ID != after[i].ID || before[i].Similarity != after[i].Similarity {
			t.Errorf("hit %d: before %+v after %+v", i, before[i], after[i])
		}
	}
	if rec, ok := restored.Get(3); !ok || rec.Metadata["topic"] != "ai" || rec.Kind != KindConversation {
		t.Errorf("Get(3) = %+v, %v", rec, ok)
	}

	id := mustAdd(t, restored, []float32{1, 1, 1}, 9)
	if id != 4 {
		t.Errorf("next id after restore = %d, want 4", id)
	}
}

func TestRestoreRejectsBadState(t *testing.T) {
	ix := NewBruteForce(2)
	mustAdd(t, ix, []float32{1, 0}, 1)
	err := ix.Restore(State{Dimension: 2, NextID: 2, Records: []StoredEntry{{ID: 1, Vector: []float32{1}}}})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
	if ix.Len() != 1 {
		t.Errorf("failed restore modified index: len=%d", ix.Len())
	}
}

func TestClearResetsCounter(t *testing.T) {
	ix := NewBruteForce(2)
	mustAdd(t, ix, []float32{1, 0}, 1)
	mustAdd(t, ix, []float32{0, 1}, 2)
	ix.Clear()
	if ix.Len() != 0 {
		t.Fatalf("len after clear = %d", ix.Len())
	}
	if id := mustAdd(t, ix, []float32{1, 0}, 3); id != 1 {
		t.Errorf("first id after clear = %d, want 1", id)
	}
}

func TestStoredVectorsAreCopies(t *testing.T) {
	ix := NewBruteForce(2)
	v := []float32{1, 0}
	mustAdd(t, ix, v, 1)
	v[0], v[1] = 0, 1

	hits, _ := ix.Search([]float32{1, 0}, 1)
	if len(hits) != 1 {
		t.Fatal("caller mutation leaked into the index")
	}
}
