package memory

import "context"

// Observer receives memory events after they are committed. Observers run
// after the store lock is released; their errors are logged and never undo
// a write.
type Observer interface {
	KnowledgeStored(ctx context.Context, entry KnowledgeEntry, vector []float32) error
	ConversationStored(ctx context.Context, entry ConversationEntry, vector []float32) error
	AgentStateUpdated(ctx context.Context, state AgentState) error
	Cleared(ctx context.Context) error
}
