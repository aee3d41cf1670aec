// Package gateway connects chat platforms to the query service. Adapters
// normalize inbound messages and deliver answers, splitting them to fit
// each platform's message size limit.
package gateway

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Gateway manages all platform adapters and routes messages.
type Gateway struct {
	adapters map[string]GatewayAdapter
	handler  MessageHandler
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewGateway creates a gateway manager.
func NewGateway(logger *zap.Logger) *Gateway {
	return &Gateway{
		adapters: make(map[string]GatewayAdapter),
		logger:   logger,
	}
}

// SetHandler sets the callback for all inbound messages.
func (g *Gateway) SetHandler(h MessageHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handler = h
}

// Register adds an adapter and wires its message handler.
func (g *Gateway) Register(adapter GatewayAdapter) {
	g.mu.Lock()
	defer g.mu.Unlock()

	platform := adapter.Platform()
	g.adapters[platform] = adapter
	adapter.OnMessage(func(msg *InboundMessage) {
		g.mu.RLock()
		h := g.handler
		g.mu.RUnlock()
		if h != nil && strings.TrimSpace(msg.Content) != "" {
			h(msg)
		}
	})
	g.logger.Info("registered gateway adapter", zap.String("platform", platform))
}

// ConnectAll starts all registered adapters. A failing adapter is logged
// and skipped so the others still serve.
func (g *Gateway) ConnectAll(ctx context.Context) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var failed []string
	for platform, adapter := range g.adapters {
		if err := adapter.Connect(ctx); err != nil {
			g.logger.Error("adapter connect failed",
				zap.String("platform", platform), zap.Error(err))
			failed = append(failed, platform)
			continue
		}
		g.logger.Info("adapter connected", zap.String("platform", platform))
	}
	if len(failed) > 0 && len(failed) == len(g.adapters) {
		return fmt.Errorf("no adapter connected (failed: %s)", strings.Join(failed, ", "))
	}
	return nil
}

// Send sends a message to a specific platform channel.
func (g *Gateway) Send(ctx context.Context, msg *OutboundMessage) error {
	adapter, ok := g.adapter(msg.Platform)
	if !ok {
		return fmt.Errorf("no adapter for platform: %s", msg.Platform)
	}
	return adapter.Send(ctx, msg)
}

// Typing shows a typing indicator where the adapter supports one.
func (g *Gateway) Typing(ctx context.Context, platform, channelID string) {
	adapter, ok := g.adapter(platform)
	if !ok {
		return
	}
	if t, ok := adapter.(Typer); ok {
		if err := t.Typing(ctx, channelID); err != nil {
			g.logger.Debug("typing indicator failed", zap.String("platform", platform), zap.Error(err))
		}
	}
}

func (g *Gateway) adapter(platform string) (GatewayAdapter, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	a, ok := g.adapters[platform]
	return a, ok
}

// Close shuts down all adapters.
func (g *Gateway) Close() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for platform, adapter := range g.adapters {
		if err := adapter.Close(); err != nil {
			g.logger.Error("adapter close failed",
				zap.String("platform", platform), zap.Error(err))
		}
	}
	return nil
}

// StatusAll reports every adapter, sorted by platform.
func (g *Gateway) StatusAll() []AdapterStatus {
	g.mu.RLock()
	out := make([]AdapterStatus, 0, len(g.adapters))
	for _, a := range g.adapters {
		out = append(out, a.Status())
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out
}

var mentionPattern = regexp.MustCompile(`<@!?[A-Za-z0-9]+>`)

// StripMentions removes platform user mentions such as <@U123> or <@!42>.
func StripMentions(text string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(mentionPattern.ReplaceAllString(text, " ")), " "))
}

// Chunk splits text into pieces of at most max runes, preferring to break
// at a newline, then at a space.
func Chunk(text string, max int) []string {
	runes := []rune(text)
	if max <= 0 || len(runes) <= max {
		return []string{text}
	}
	var out []string
	for len(runes) > max {
		cut := max
		if i := lastIndex(runes[:max], '\n'); i > 0 {
			cut = i + 1
		} else if i := lastIndex(runes[:max], ' '); i > max/2 {
			cut = i + 1
		}
		out = append(out, strings.TrimRight(string(runes[:cut]), " \n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

func lastIndex(runes []rune, r rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}
