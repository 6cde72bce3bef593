package ports

import "context"

// PromptStore correlates a member with the welcome prompt sent to them, so
// verification can delete it without scanning channel history.
type PromptStore interface {
	Put(ctx context.Context, memberID, messageID string) error
	// Get returns the recorded prompt id; ok is false when none is recorded
	// or the record expired.
	Get(ctx context.Context, memberID string) (messageID string, ok bool, err error)
	Delete(ctx context.Context, memberID string) error
}
