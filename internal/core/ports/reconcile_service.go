package ports

import (
	"context"

	"github.com/tiersync/tiersync/internal/core/domain"
)

// SweepReport summarises one full-population pass.
type SweepReport struct {
	RunID     string `json:"run_id"`
	Sweep     string `json:"sweep"`
	Processed int    `json:"processed"`
	Mutated   int    `json:"mutated"`
	Failed    int    `json:"failed"`
	Bots      int    `json:"bots"`
}

// ReconcileService moves members to their policy-correct access tier.
type ReconcileService interface {
	ReconcilePendingTier(ctx context.Context, m domain.Member) ([]domain.Action, error)
	ReconcileEntitlementTier(ctx context.Context, m domain.Member, entitlementRoles []string) ([]domain.Action, error)
	ReconcileMember(ctx context.Context, m domain.Member) ([]domain.Action, error)
	SweepAllPending(ctx context.Context) (SweepReport, error)
	SweepAllEntitlement(ctx context.Context) (SweepReport, error)
	HandleMemberEvent(ctx context.Context, ev domain.MemberEvent) error
}
