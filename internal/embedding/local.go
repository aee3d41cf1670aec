package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// errNoBatch means the server lacks /api/embed and only speaks the older
// one-prompt-per-call /api/embeddings.
var errNoBatch = errors.New("batch endpoint not supported")

// LocalProvider embeds through an Ollama server. It sends one batch to
// /api/embed and drops to per-text /api/embeddings calls on servers that
// predate the batch endpoint.
type LocalProvider struct {
	endpoint  string
	model     string
	dimension int
	client    *http.Client

	observed atomic.Int64
	legacy   atomic.Bool
}

// NewLocalProvider creates a LocalProvider from cfg.
func NewLocalProvider(cfg Config) *LocalProvider {
	return &LocalProvider{
		endpoint:  strings.TrimRight(cfg.Endpoint, "/"),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

type batchRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type batchResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type promptRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type promptResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed returns one vector per text. All vectors must share a dimension.
func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var (
		vecs [][]float32
		err  error
	)
	if !p.legacy.Load() {
		vecs, err = p.embedBatch(ctx, texts)
		if errors.Is(err, errNoBatch) {
			p.legacy.Store(true)
		}
	}
	if p.legacy.Load() {
		vecs, err = p.embedEach(ctx, texts)
	}
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d texts", len(vecs), len(texts))
	}

	dim := len(vecs[0])
	for i, v := range vecs {
		if len(v) == 0 || len(v) != dim {
			return nil, fmt.Errorf("embedding: vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	p.observed.CompareAndSwap(0, int64(dim))
	return vecs, nil
}

func (p *LocalProvider) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out batchResponse
	if err := p.post(ctx, "/api/embed", batchRequest{Model: p.model, Input: texts}, &out); err != nil {
		return nil, err
	}
	return out.Embeddings, nil
}

func (p *LocalProvider) embedEach(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, 0, len(texts))
	for _, text := range texts {
		var out promptResponse
		if err := p.post(ctx, "/api/embeddings", promptRequest{Model: p.model, Prompt: text}, &out); err != nil {
			return nil, err
		}
		vecs = append(vecs, out.Embedding)
	}
	return vecs, nil
}

func (p *LocalProvider) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("embedding: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("embedding: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && path == "/api/embed" {
		return errNoBatch
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("embedding: %s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("embedding: decode %s response: %w", path, err)
	}
	return nil
}

// Dimension returns the dimension seen on the first response, or the
// configured one before that.
func (p *LocalProvider) Dimension() int {
	if d := p.observed.Load(); d > 0 {
		return int(d)
	}
	return p.dimension
}

// Available reports whether both endpoint and model are configured.
func (p *LocalProvider) Available() bool {
	return p.endpoint != "" && p.model != ""
}
