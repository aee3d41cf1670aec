// Package command implements the slash commands chat users can send
// instead of a question.
package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Command is one slash command. Aliases resolve to the same handler.
// When NeedsArgs is set, an empty argument string is answered with the
// usage line and the handler is not called.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	NeedsArgs   bool
	Handler     CommandHandler
}

// CommandHandler executes a command with its trimmed argument string.
type CommandHandler func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error)

// CommandContext identifies who sent the command and where.
type CommandContext struct {
	Platform  string
	ChannelID string
	UserID    string
	UserName  string
}

// CommandResult is the reply text plus optional structured data.
type CommandResult struct {
	Content string `json:"content"`
	Data    any    `json:"data,omitempty"`
}

// Registry maps command names and aliases to commands.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
	aliases  map[string]string
}

// NewRegistry creates an empty command registry.
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]string),
	}
}

// Register adds cmd, replacing any command with the same name.
func (r *Registry) Register(cmd *Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := strings.ToLower(cmd.Name)
	r.commands[name] = cmd
	for _, a := range cmd.Aliases {
		r.aliases[strings.ToLower(a)] = name
	}
}

// IsCommand reports whether text is a slash command rather than a question.
func IsCommand(text string) bool {
	text = strings.TrimSpace(text)
	return len(text) > 1 && text[0] == '/' && text[1] != ' '
}

// Parse splits "/name args" into a lower-cased name and trimmed arguments.
func Parse(input string) (name, args string) {
	input = strings.TrimPrefix(strings.TrimSpace(input), "/")
	name, args, _ = strings.Cut(input, " ")
	if i := strings.IndexAny(name, "\t\n"); i >= 0 {
		name, args = name[:i], name[i+1:]+" "+args
	}
	return strings.ToLower(name), strings.TrimSpace(args)
}

func (r *Registry) lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if target, ok := r.aliases[name]; ok {
		name = target
	}
	cmd, ok := r.commands[name]
	return cmd, ok
}

// Dispatch parses input and runs the matching handler. Unknown commands
// get a hint rather than an error. The registry lock is not held while
// the handler runs, so handlers may call List.
func (r *Registry) Dispatch(ctx context.Context, input string, cc *CommandContext) (*CommandResult, error) {
	name, args := Parse(input)
	cmd, ok := r.lookup(name)
	if !ok {
		return &CommandResult{
			Content: fmt.Sprintf("Unknown command: /%s. Type /help for available commands.", name),
		}, nil
	}
	if cmd.NeedsArgs && args == "" {
		return &CommandResult{Content: "Usage: " + cmd.Usage}, nil
	}
	res, err := cmd.Handler(ctx, args, cc)
	if err != nil {
		return nil, fmt.Errorf("/%s: %w", cmd.Name, err)
	}
	return res, nil
}

// List returns all registered commands sorted by name.
func (r *Registry) List() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		result = append(result, cmd)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}
