package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/mnemo/internal/gateway"
	"github.com/nidhogg/mnemo/internal/memory"
)

// StatusProvider provides adapter connection status.
type StatusProvider interface {
	StatusAll() []gateway.AdapterStatus
}

// StatsProvider reports memory contents.
type StatsProvider interface {
	Stats() memory.Stats
}

// RegisterBuiltins registers /help, /status and /stats.
func RegisterBuiltins(reg *Registry, status StatusProvider, stats StatsProvider) {
	reg.Register(helpCommand(reg))
	reg.Register(statusCommand(status))
	reg.Register(statsCommand(stats))
}

// ---------------------------------------------------------------------------
// /help
// ---------------------------------------------------------------------------

func helpCommand(reg *Registry) *Command {
	return &Command{
		Name:        "help",
		Aliases:     []string{"h", "?"},
		Description: "List all available commands",
		Usage:       "/help",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			var b strings.Builder
			b.WriteString("Available commands:\n")
			for _, c := range reg.List() {
				fmt.Fprintf(&b, "  /%s: %s\n", c.Name, c.Description)
				if c.Usage != "" {
					fmt.Fprintf(&b, "    Usage: %s\n", c.Usage)
				}
			}
			b.WriteString("Anything else is answered as a question.\n")
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /status
// ---------------------------------------------------------------------------

func statusCommand(provider StatusProvider) *Command {
	return &Command{
		Name:        "status",
		Description: "Show adapter connection status",
		Usage:       "/status",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			adapters := provider.StatusAll()
			if len(adapters) == 0 {
				return &CommandResult{Content: "No adapters configured."}, nil
			}
			var b strings.Builder
			b.WriteString("Adapter status:\n")
			for _, a := range adapters {
				state := "disconnected"
				if a.Connected {
					state = "connected"
				}
				if a.Error != "" {
					state += " (" + a.Error + ")"
				}
				fmt.Fprintf(&b, "  %s: %s\n", a.Platform, state)
			}
			return &CommandResult{Content: b.String(), Data: adapters}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /stats
// ---------------------------------------------------------------------------

func statsCommand(provider StatsProvider) *Command {
	return &Command{
		Name:        "stats",
		Description: "Show what memory currently holds",
		Usage:       "/stats",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			s := provider.Stats()
			return &CommandResult{
				Content: fmt.Sprintf("Knowledge: %d\nConversations: %d\nAgent states: %d\nVectors: %d (dimension %d)\n",
					s.Knowledge, s.Conversations, s.AgentStates, s.Vectors, s.Dimension),
				Data: s,
			}, nil
		},
	}
}
