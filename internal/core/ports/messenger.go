package ports

import (
	"context"

	"github.com/tiersync/tiersync/internal/core/domain"
)

// Messenger sends, fetches and deletes channel messages.
type Messenger interface {
	// FetchRecent returns up to limit of the newest messages, newest first.
	FetchRecent(ctx context.Context, channelID string, limit int, bypassCache bool) ([]domain.Message, error)
	SendMessage(ctx context.Context, channelID, content string) (domain.Message, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	// BulkDelete removes messageIDs. Messages past the platform age limit are
	// reported through a *domain.BulkDeleteError; the rest are still deleted.
	BulkDelete(ctx context.Context, channelID string, messageIDs []string) error
	// SelfID is the user id the service posts as.
	SelfID() string
}
