package ports

import (
	"context"

	"github.com/tiersync/tiersync/internal/core/domain"
)

// AuditLog receives every significant outcome. Implementations must not
// block the caller nor surface delivery failures to it.
type AuditLog interface {
	Record(ctx context.Context, o domain.Outcome)
}

// AuditRepository persists outcomes.
type AuditRepository interface {
	InsertOutcome(ctx context.Context, o domain.Outcome) error
	// RecentOutcomes returns the newest outcomes for a member, newest first.
	RecentOutcomes(ctx context.Context, memberID string, limit int64) ([]domain.Outcome, error)
}
