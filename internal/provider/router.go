package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Router manages multiple LLM providers and routes requests by role
// (for example "planner" or "synthesizer").
type Router struct {
	providers map[string]Provider
	bindings  map[string]string   // role -> providerID
	fallbacks map[string][]string // role -> fallback provider chain
	defaults  string              // default provider ID
	timeout   time.Duration       // per attempt; 0 means none
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates a new provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		bindings:  make(map[string]string),
		fallbacks: make(map[string][]string),
		logger:    logger,
	}
}

// FromConfig builds a router with one provider per config entry. Entries
// without an API key are skipped. The first registered provider is the
// default and the rest form its fallback chain.
func FromConfig(cfgs []ProviderConfig, timeout time.Duration, logger *zap.Logger) (*Router, error) {
	r := NewRouter(logger)
	r.SetTimeout(timeout)

	var ids []string
	for _, c := range cfgs {
		if c.APIKey == "" {
			logger.Debug("skipping provider without api key", zap.String("id", c.ID))
			continue
		}
		if c.Timeout == 0 {
			c.Timeout = timeout
		}
		switch strings.ToLower(c.Type) {
		case "openai", "groq", "":
			r.Register(NewOpenAIProvider(c, logger))
		case "anthropic":
			r.Register(NewAnthropicProvider(c, logger))
		default:
			return nil, fmt.Errorf("unknown provider type %q for %s", c.Type, c.ID)
		}
		ids = append(ids, c.ID)
	}
	if len(ids) > 1 {
		r.SetDefaultFallbacks(ids[1:])
	}
	return r, nil
}

// Register adds a provider to the router.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// SetDefault sets the default provider.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// SetTimeout bounds every provider attempt.
func (r *Router) SetTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeout = d
}

// Bind associates a role with a specific provider.
func (r *Router) Bind(role, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[role] = providerID
}

// SetFallbacks configures fallback providers for a role.
func (r *Router) SetFallbacks(role string, providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[role] = providerIDs
}

// SetDefaultFallbacks configures the chain used by roles without their own.
func (r *Router) SetDefaultFallbacks(providerIDs []string) {
	r.SetFallbacks("", providerIDs)
}

// Available reports whether any provider is registered.
func (r *Router) Available() bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers) > 0
}

// Route sends a chat request through the provider bound to role, then
// through its fallbacks.
func (r *Router) Route(ctx context.Context, role string, req *ChatRequest) (*ChatResponse, error) {
	r.mu.RLock()
	primary := r.getProvider(role)
	chain := r.fallbacks[role]
	if _, ok := r.fallbacks[role]; !ok {
		chain = r.fallbacks[""]
	}
	fallbacks := make([]Provider, 0, len(chain))
	for _, id := range chain {
		if p, ok := r.providers[id]; ok && (primary == nil || p.ID() != primary.ID()) {
			fallbacks = append(fallbacks, p)
		}
	}
	timeout := r.timeout
	r.mu.RUnlock()

	if primary == nil {
		return nil, fmt.Errorf("%w for role %s", ErrNoProvider, role)
	}

	resp, err := r.attempt(ctx, primary, req, timeout)
	if err == nil {
		return resp, nil
	}
	r.logger.Warn("primary provider failed, trying fallbacks",
		zap.String("role", role), zap.String("provider", primary.ID()), zap.Error(err))

	for _, fb := range fallbacks {
		if ctx.Err() != nil {
			break
		}
		resp, err = r.attempt(ctx, fb, req, timeout)
		if err == nil {
			return resp, nil
		}
		r.logger.Warn("fallback provider failed", zap.String("provider", fb.ID()), zap.Error(err))
	}

	return nil, fmt.Errorf("all providers failed for role %s: %w", role, err)
}

func (r *Router) attempt(ctx context.Context, p Provider, req *ChatRequest, timeout time.Duration) (*ChatResponse, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return p.Chat(ctx, req)
}

func (r *Router) getProvider(role string) Provider {
	if pid, ok := r.bindings[role]; ok {
		if p, ok := r.providers[pid]; ok {
			return p
		}
	}
	if p, ok := r.providers[r.defaults]; ok {
		return p
	}
	return nil
}

// GetProvider returns a provider by ID.
func (r *Router) GetProvider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}
