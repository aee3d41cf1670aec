package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestAPIProviderEmbed(t *testing.T) {
	// Mock OpenAI-compatible embedding server.
	mux := http.NewServeMux()
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","model":"test-model",
			"data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}],
			"usage":{"prompt_tokens":1,"total_tokens":1}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewAPIProvider(Config{
		Endpoint: srv.URL,
		Model:    "test-model",
		APIKey:   "test",
	})

	vectors, err := p.Embed(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 1 {
		t.Fatalf("got %d vectors, want 1", len(vectors))
	}
	if len(vectors[0]) != 3 {
		t.Fatalf("got dimension %d, want 3", len(vectors[0]))
	}
	if p.Dimension() != 3 {
		t.Errorf("got dimension %d, want 3", p.Dimension())
	}
}

func TestAPIProviderEmbed_Empty(t *testing.T) {
	p := NewAPIProvider(Config{
		Endpoint:  "http://unused",
		Model:     "test-model",
		Dimension: 128,
	})

	vectors, err := p.Embed(context.Background(), []string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vectors != nil {
		t.Errorf("expected nil for empty input, got %v", vectors)
	}
}

func TestAPIProviderDimension_Fallback(t *testing.T) {
	p := NewAPIProvider(Config{
		Endpoint:  "http://unused",
		Model:     "test-model",
		Dimension: 256,
	})

	// Before any Embed call, Dimension should return the configured default.
	if d := p.Dimension(); d != 256 {
		t.Errorf("got dimension %d, want configured default 256", d)
	}
}

func TestLocalProviderEmbed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embedding":[1,0,0,0]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewLocalProvider(Config{Endpoint: srv.URL, Model: "nomic"})
	if !p.Available() {
		t.Fatal("expected provider to be available")
	}
	vecs, err := p.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || p.Dimension() != 4 {
		t.Errorf("got %d vectors dim %d, want 2 vectors dim 4", len(vecs), p.Dimension())
	}
}

func TestLocalProviderBatch(t *testing.T) {
	var legacyCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Input) != 3 {
			t.Errorf("batch input = %v", req.Input)
		}
		w.Write([]byte(`{"embeddings":[[1,0],[0,1],[1,1]]}`))
	})
	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, r *http.Request) {
		legacyCalls++
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewLocalProvider(Config{Endpoint: srv.URL + "/", Model: "nomic"})
	vecs, err := p.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 3 || p.Dimension() != 2 || legacyCalls != 0 {
		t.Errorf("vecs=%v dim=%d legacy=%d", vecs, p.Dimension(), legacyCalls)
	}
}

func TestLocalProviderRejectsRaggedVectors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embeddings":[[1,0,0],[0,1]]}`))
	}))
	defer srv.Close()

	p := NewLocalProvider(Config{Endpoint: srv.URL, Model: "nomic"})
	if _, err := p.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected an error for vectors of different dimensions")
	}
}

func TestHashProviderDeterministic(t *testing.T) {
	p := NewHashProvider(64)
	ctx := context.Background()

	a, err := One(ctx, p, "Neural networks learn representations")
	if err != nil {
		t.Fatalf("One: %v", err)
	}
	b, _ := One(ctx, p, "Neural networks learn representations")
	if len(a) != 64 {
		t.Fatalf("dimension = %d, want 64", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors differ at %d: %v vs %v", i, a[i], b[i])
		}
	}

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("norm = %v, want 1", norm)
	}
}

func TestHashProviderSharedVocabulary(t *testing.T) {
	p := NewHashProvider(256)
	ctx := context.Background()
	q, _ := One(ctx, p, "neural networks")
	related, _ := One(ctx, p, "Topic: neural networks\nContent: layered models")

	if cos(q, related) <= 0 {
		t.Errorf("expected positive similarity for shared tokens, got %v", cos(q, related))
	}
}

func TestDisabledProvider(t *testing.T) {
	var p Provider = Disabled{}
	if p.Available() {
		t.Fatal("disabled provider reports available")
	}
	if _, err := One(context.Background(), p, "x"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestNewUnknownProvider(t *testing.T) {
	if _, err := New(Config{Provider: "word2vec"}, zap.NewNop()); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

type countingProvider struct {
	calls    atomic.Int32
	inflight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (c *countingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	n := c.inflight.Add(1)
	defer c.inflight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(c.delay)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (c *countingProvider) Dimension() int  { return 2 }
func (c *countingProvider) Available() bool { return true }

func TestCachedReturnsInnerVectors(t *testing.T) {
	inner := &countingProvider{}
	c, err := NewCached(inner, 128)
	if err != nil {
		t.Fatalf("NewCached: %v", err)
	}
	defer c.Close()

	vecs, err := c.Embed(context.Background(), []string{"abc", "hello"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vecs[0][0] != 3 || vecs[1][0] != 5 {
		t.Errorf("unexpected vectors %v", vecs)
	}
	// A second call must yield the same vectors whether or not it hits.
	again, _ := c.Embed(context.Background(), []string{"hello"})
	if again[0][0] != 5 {
		t.Errorf("cached vector = %v, want [5 1]", again[0])
	}
}

func TestCloseReachesCacheThroughPool(t *testing.T) {
	inner := &countingProvider{}
	c, err := NewCached(inner, 128)
	if err != nil {
		t.Fatalf("NewCached: %v", err)
	}
	p := NewPool(c, 2)
	Close(p)
	Close(p)

	// A closed cache never hits, so every call reaches the inner provider.
	for i := 0; i < 2; i++ {
		if _, err := p.Embed(context.Background(), []string{"hello"}); err != nil {
			t.Fatalf("Embed: %v", err)
		}
	}
	if got := inner.calls.Load(); got != 2 {
		t.Errorf("inner calls = %d, want 2", got)
	}
	Close(Disabled{})
}

func TestPoolBoundsConcurrency(t *testing.T) {
	inner := &countingProvider{delay: 20 * time.Millisecond}
	p := NewPool(inner, 2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Embed(context.Background(), []string{"x"}); err != nil {
				t.Errorf("Embed: %v", err)
			}
		}()
	}
	wg.Wait()

	if peak := inner.peak.Load(); peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
	if calls := inner.calls.Load(); calls != 8 {
		t.Errorf("calls = %d, want 8", calls)
	}
}

func TestPoolHonoursContext(t *testing.T) {
	inner := &countingProvider{delay: 100 * time.Millisecond}
	p := NewPool(inner, 1)

	go p.Embed(context.Background(), []string{"hold"})
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if _, err := p.Embed(ctx, []string{"x"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func cos(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
