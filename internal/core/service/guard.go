package service

import (
	"context"
	"fmt"

	"github.com/tiersync/tiersync/internal/core/domain"
	"github.com/tiersync/tiersync/internal/core/ports"
	"github.com/tiersync/tiersync/internal/metrics"
)

// roleGuard answers "may we mutate these roles right now?". Nothing is
// cached: rank ordering can change under us at any time.
type roleGuard struct {
	dir ports.Directory
}

// check fails with domain.ErrCapabilityDenied when the acting identity may
// not manage roles at all, domain.ErrNotFound when a role is missing, and
// domain.ErrRoleHierarchy when a role does not sit strictly below the acting
// identity's highest role.
func (g roleGuard) check(ctx context.Context, roleIDs ...string) error {
	ok, err := g.dir.HasCapability(ctx, domain.CapManageRoles, "")
	if err != nil {
		return fmt.Errorf("capability check: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: missing manage roles", domain.ErrCapabilityDenied)
	}

	highest, err := g.dir.HighestManagedRank(ctx)
	if err != nil {
		return fmt.Errorf("highest rank: %w", err)
	}

	for _, id := range roleIDs {
		role, err := g.dir.GetRole(ctx, id)
		if err != nil {
			return fmt.Errorf("role %s: %w", id, err)
		}
		if role.Position >= highest {
			return fmt.Errorf("%w: role %q at position %d is not below %d",
				domain.ErrRoleHierarchy, role.Name, role.Position, highest)
		}
	}
	return nil
}

// channelCapability reports whether the acting identity holds a
// channel-scoped capability.
func (g roleGuard) channelCapability(ctx context.Context, c domain.Capability, channelID string) (bool, error) {
	ok, err := g.dir.HasCapability(ctx, c, channelID)
	if err != nil {
		return false, fmt.Errorf("capability %s: %w", c, err)
	}
	return ok, nil
}

// add and remove issue exactly one mutation each. Failures are surfaced,
// never retried; the next sweep heals what a failed call left behind.

func (g roleGuard) add(ctx context.Context, memberID, roleID string) error {
	if err := g.dir.AddRole(ctx, memberID, roleID); err != nil {
		metrics.RoleMutationsTotal.WithLabelValues(domain.OpAdd, "error").Inc()
		return fmt.Errorf("add role %s: %w", roleID, err)
	}
	metrics.RoleMutationsTotal.WithLabelValues(domain.OpAdd, "ok").Inc()
	return nil
}

func (g roleGuard) remove(ctx context.Context, memberID, roleID string) error {
	if err := g.dir.RemoveRole(ctx, memberID, roleID); err != nil {
		metrics.RoleMutationsTotal.WithLabelValues(domain.OpRemove, "error").Inc()
		return fmt.Errorf("remove role %s: %w", roleID, err)
	}
	metrics.RoleMutationsTotal.WithLabelValues(domain.OpRemove, "ok").Inc()
	return nil
}
