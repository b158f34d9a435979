package moderation

import "context"

// MockProvider is a test double whose Moderate is backed by a func field,
// in the style of the fake repositories used across this codebase.
type MockProvider struct {
	ModerateFunc func(ctx context.Context, text string) (Result, error)
}

// Moderate delegates to ModerateFunc.
func (m *MockProvider) Moderate(ctx context.Context, text string) (Result, error) {
	return m.ModerateFunc(ctx, text)
}
