package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrUnavailable is returned by providers that cannot produce vectors.
// Callers must treat it as "skip the vector path", never substitute data.
var ErrUnavailable = errors.New("embedding: provider unavailable")

// Provider generates vector embeddings from text. Implementations must be
// deterministic for identical input and safe for concurrent use.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Available() bool
}

// Config holds embedding provider configuration.
type Config struct {
	Provider  string `json:"provider"` // "api", "local", "hash" or "none"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
	CacheSize int    `json:"cache_size"`
	Workers   int    `json:"workers"`
}

// New builds the configured provider, wrapped in a result cache and a
// bounded worker pool when those are enabled.
func New(cfg Config, logger *zap.Logger) (Provider, error) {
	var p Provider
	switch strings.ToLower(cfg.Provider) {
	case "api", "openai":
		p = NewAPIProvider(cfg)
	case "local", "ollama":
		p = NewLocalProvider(cfg)
	case "", "hash":
		p = NewHashProvider(cfg.Dimension)
	case "none", "disabled":
		p = Disabled{}
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
	}

	if cfg.CacheSize > 0 && p.Available() {
		cached, err := NewCached(p, cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		p = cached
	}
	if cfg.Workers > 0 {
		p = NewPool(p, cfg.Workers)
	}

	logger.Info("embedding provider ready",
		zap.String("provider", cfg.Provider),
		zap.Int("dimension", p.Dimension()),
		zap.Bool("available", p.Available()))
	return p, nil
}

// Close releases whatever p holds, such as a Cached provider's background
// goroutines. Providers without resources are left alone.
func Close(p Provider) {
	if c, ok := p.(interface{ Close() }); ok {
		c.Close()
	}
}

// One embeds a single text.
func One(ctx context.Context, p Provider, text string) ([]float32, error) {
	if !p.Available() {
		return nil, ErrUnavailable
	}
	vecs, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding: got %d vectors for 1 text", len(vecs))
	}
	return vecs[0], nil
}

// Disabled is a Provider that never produces vectors.
type Disabled struct{}

func (Disabled) Embed(context.Context, []string) ([][]float32, error) { return nil, ErrUnavailable }
func (Disabled) Dimension() int                                      { return 0 }
func (Disabled) Available() bool                                     { return false }
