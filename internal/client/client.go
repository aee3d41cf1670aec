// Package client is a small typed client for the mnemo HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nidhogg/mnemo/internal/memory"
	"github.com/nidhogg/mnemo/internal/orchestrator"
	"github.com/nidhogg/mnemo/internal/retrieval"
)

// Client talks to one mnemo server.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for the server at base.
func New(base string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx reply.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.Status, e.Message)
}

// Health is the server health report.
type Health struct {
	Status             string   `json:"status"`
	Capabilities       []string `json:"capabilities"`
	LLMEnabled         bool     `json:"llm_enabled"`
	EmbeddingAvailable bool     `json:"embedding_available"`
}

// Health fetches /health.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	return &h, c.do(ctx, http.MethodGet, "/health", nil, &h)
}

// Query sends a question.
func (c *Client) Query(ctx context.Context, query string, extra map[string]any) (*orchestrator.Response, error) {
	var resp orchestrator.Response
	err := c.do(ctx, http.MethodPost, "/query", orchestrator.Request{Query: query, Context: extra}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Search runs a memory search. Empty mode means hybrid.
func (c *Client) Search(ctx context.Context, query string, topK int, mode string) (*retrieval.Retrieval, error) {
	q := url.Values{"query": {query}}
	if topK > 0 {
		q.Set("top_k", strconv.Itoa(topK))
	}
	if mode != "" {
		q.Set("mode", mode)
	}
	var res retrieval.Retrieval
	if err := c.do(ctx, http.MethodGet, "/memory/search?"+q.Encode(), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// History returns the newest conversation turns, oldest first.
func (c *Client) History(ctx context.Context, limit int) ([]memory.ConversationEntry, error) {
	var body struct {
		History []memory.ConversationEntry `json:"history"`
	}
	path := "/memory/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, err
	}
	return body.History, nil
}

// Clear erases all memory on the server.
func (c *Client) Clear(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/memory/clear", nil, nil)
}

// Status fetches /status as a generic document.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	return out, c.do(ctx, http.MethodGet, "/status", nil, &out)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
