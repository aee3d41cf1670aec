package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/nidhogg/mnemo/internal/lexical"
	"github.com/nidhogg/mnemo/internal/memory"
	"github.com/nidhogg/mnemo/internal/retrieval"
)

// RegisterMemoryCommands registers /remember, /recall, /history, /state
// and /clear against the memory store.
func RegisterMemoryCommands(reg *Registry, store *memory.Store, retriever *retrieval.Retriever) {
	reg.Register(rememberCommand(store))
	reg.Register(recallCommand(retriever))
	reg.Register(historyCommand(store))
	reg.Register(stateCommand(store))
	reg.Register(clearCommand(store))
}

func rememberCommand(store *memory.Store) *Command {
	return &Command{
		Name:        "remember",
		Description: "Store a fact in long-term memory",
		Usage:       "/remember <topic>: <content>",
		NeedsArgs:   true,
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			topic, content, ok := strings.Cut(args, ":")
			topic, content = strings.TrimSpace(topic), strings.TrimSpace(content)
			if !ok || topic == "" || content == "" {
				return &CommandResult{Content: "Usage: /remember <topic>: <content>"}, nil
			}
			id, err := store.StoreKnowledge(ctx, memory.Fact{
				Topic:      strings.ToLower(topic),
				Content:    content,
				Source:     "user",
				Confidence: 1,
				Metadata:   map[string]any{"platform": cc.Platform, "user": cc.UserName},
			})
			if err != nil {
				return &CommandResult{Content: fmt.Sprintf("Failed: %v", err)}, nil
			}
			return &CommandResult{Content: fmt.Sprintf("Stored as entry %d under %q.", id, strings.ToLower(topic)), Data: id}, nil
		},
	}
}

func recallCommand(retriever *retrieval.Retriever) *Command {
	return &Command{
		Name:        "recall",
		Aliases:     []string{"find"},
		Description: "Search memory by meaning and keywords",
		Usage:       "/recall <query>",
		NeedsArgs:   true,
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			res, err := retriever.Retrieve(ctx, args, retrieval.ModeHybrid, retrieval.DefaultTopK)
			if err != nil {
				return nil, fmt.Errorf("recall: %w", err)
			}
			return &CommandResult{Content: res.Result, Data: res}, nil
		},
	}
}

func historyCommand(store *memory.Store) *Command {
	return &Command{
		Name:        "history",
		Aliases:     []string{"hist"},
		Description: "Show recent conversation turns",
		Usage:       "/history [limit]",
		Handler: func(_ context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			limit := 5
			if args != "" {
				n, err := strconv.Atoi(args)
				if err != nil || n <= 0 {
					return &CommandResult{Content: "Usage: /history [limit]"}, nil
				}
				limit = n
			}
			history := store.ConversationHistory(limit)
			if len(history) == 0 {
				return &CommandResult{Content: "No previous conversations found."}, nil
			}
			var sb strings.Builder
			for _, c := range history {
				fmt.Fprintf(&sb, "#%d %s\n", c.ID, c.Query)
				for _, r := range c.Results {
					fmt.Fprintf(&sb, "   %s (%.2f): %s\n", r.Agent, r.Confidence, lexical.Truncate(r.Result, 120))
				}
			}
			return &CommandResult{Content: sb.String(), Data: history}, nil
		},
	}
}

func stateCommand(store *memory.Store) *Command {
	return &Command{
		Name:        "state",
		Description: "Show stored agent state for a capability",
		Usage:       "/state <capability> [task_id]",
		NeedsArgs:   true,
		Handler: func(_ context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			fields := strings.Fields(args)
			var states []memory.AgentState
			if len(fields) > 1 {
				if st, ok := store.AgentState(fields[0], fields[1]); ok {
					states = append(states, st)
				}
			} else {
				states = store.AgentStates(fields[0])
			}
			if len(states) == 0 {
				return &CommandResult{Content: fmt.Sprintf("No state recorded for %s.", fields[0])}, nil
			}
			var sb strings.Builder
			for _, st := range states {
				fmt.Fprintf(&sb, "%s/%s updated %s\n", st.Capability, st.TaskID, st.UpdatedAt.Format("2006-01-02 15:04:05"))
				if q, ok := st.State["query"].(string); ok {
					fmt.Fprintf(&sb, "   query: %s\n", q)
				}
			}
			return &CommandResult{Content: sb.String(), Data: states}, nil
		},
	}
}

func clearCommand(store *memory.Store) *Command {
	return &Command{
		Name:        "clear",
		Description: "Erase all stored memory",
		Usage:       "/clear confirm",
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			if args != "confirm" {
				return &CommandResult{Content: "This erases every fact and conversation. Run /clear confirm to proceed."}, nil
			}
			store.Clear(ctx)
			return &CommandResult{Content: "Memory cleared."}, nil
		},
	}
}
