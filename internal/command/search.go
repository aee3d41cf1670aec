package command

import (
	"context"

	"github.com/nidhogg/mnemo/internal/retrieval"
)

// RegisterSearchCommand registers the /search topic lookup.
func RegisterSearchCommand(reg *Registry, retriever *retrieval.Retriever) {
	reg.Register(&Command{
		Name:        "search",
		Description: "List stored facts about a topic",
		Usage:       "/search <topic>",
		NeedsArgs:   true,
		Handler: func(_ context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			res := retriever.SearchTopic(args, retrieval.DefaultTopK)
			return &CommandResult{Content: res.Result, Data: res}, nil
		},
	})
}
