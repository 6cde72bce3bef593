package ports

import (
	"context"

	"github.com/tiersync/tiersync/internal/core/domain"
)

// Directory reads and mutates membership state on the external platform.
// Every call may fail; mutations are never retried by implementations.
type Directory interface {
	// GetMember returns a fresh view of the member or domain.ErrNotFound.
	GetMember(ctx context.Context, memberID string) (domain.Member, error)
	// GetRole returns the role or domain.ErrNotFound.
	GetRole(ctx context.Context, roleID string) (domain.Role, error)
	// ListMembers returns every member of the community. forceRefresh skips
	// any locally cached snapshot.
	ListMembers(ctx context.Context, forceRefresh bool) ([]domain.Member, error)
	AddRole(ctx context.Context, memberID, roleID string) error
	RemoveRole(ctx context.Context, memberID, roleID string) error
	// HasCapability reports whether the acting identity holds c. channelID
	// scopes channel-level capabilities and is ignored for guild-level ones.
	HasCapability(ctx context.Context, c domain.Capability, channelID string) (bool, error)
	// HighestManagedRank is the highest role position the acting identity holds.
	HighestManagedRank(ctx context.Context) (int, error)
}
