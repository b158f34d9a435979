package completion

import (
	"context"

	"github.com/romanbabin/convogate/internal/prompt"
)

// MockProvider is a test double whose StreamCompletion is backed by a func
// field, in the style of the other mock providers in this codebase.
type MockProvider struct {
	StreamFunc func(ctx context.Context, messages []prompt.Message) (<-chan CompletionChunk, <-chan error)
}

// StreamCompletion delegates to StreamFunc.
func (m *MockProvider) StreamCompletion(ctx context.Context, messages []prompt.Message) (<-chan CompletionChunk, <-chan error) {
	return m.StreamFunc(ctx, messages)
}
