package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tiersync/tiersync/internal/core/domain"
	"github.com/tiersync/tiersync/internal/core/ports"
	"github.com/tiersync/tiersync/internal/metrics"
)

const defaultSweepConcurrency = 4

const (
	SweepPending     = "pending"
	SweepEntitlement = "entitlement"
)

const (
	opPendingTier     = "pending_tier"
	opStripLeftover   = "strip_unverified"
	opEntitlementTier = "entitlement_tier"
	opWelcome         = "welcome_prompt"
)

// ReconcileConfig is the static policy the engine enforces.
type ReconcileConfig struct {
	Roles               domain.PolicyRoles
	VerificationChannel string
	VerifyKeyword       string
	SweepConcurrency    int
}

type reconcileService struct {
	dir     ports.Directory
	msg     ports.Messenger
	prompts ports.PromptStore
	guard   roleGuard
	rep     reporter
	cfg     ReconcileConfig
	log     zerolog.Logger
}

// NewReconcileService returns a ReconcileService implementation.
func NewReconcileService(
	dir ports.Directory,
	msg ports.Messenger,
	prompts ports.PromptStore,
	audit ports.AuditLog,
	cfg ReconcileConfig,
	log zerolog.Logger,
) ports.ReconcileService {
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = defaultSweepConcurrency
	}
	return &reconcileService{
		dir:     dir,
		msg:     msg,
		prompts: prompts,
		guard:   roleGuard{dir: dir},
		rep:     reporter{audit: audit, log: log, now: time.Now},
		cfg:     cfg,
		log:     log,
	}
}

// ReconcilePendingTier gives the unverified role to a member holding nothing
// beyond the default role. A member already holding the member role never
// keeps unverified; a leftover one is stripped.
func (s *reconcileService) ReconcilePendingTier(ctx context.Context, m domain.Member) ([]domain.Action, error) {
	unverified := s.cfg.Roles.Unverified
	needsPending := func(m domain.Member) bool {
		return !m.Bot && !m.HasRole(unverified) && m.HasOnlyDefaultRoles()
	}
	if s.hasLeftoverUnverified(m) {
		return s.stripLeftoverUnverified(ctx, m)
	}
	if !needsPending(m) {
		return nil, nil
	}

	if err := s.guard.check(ctx, unverified); err != nil {
		return nil, s.fail(ctx, opPendingTier, m.ID, err)
	}

	// Act on a fresh read so that racing triggers stay idempotent.
	fresh, err := s.dir.GetMember(ctx, m.ID)
	if err != nil {
		return nil, s.fail(ctx, opPendingTier, m.ID, fmt.Errorf("refresh member: %w", err))
	}
	if !needsPending(fresh) {
		return nil, nil
	}

	if err := s.guard.add(ctx, m.ID, unverified); err != nil {
		return nil, s.fail(ctx, opPendingTier, m.ID, err)
	}

	actions := []domain.Action{{MemberID: m.ID, RoleID: unverified, Op: domain.OpAdd}}
	metrics.ReconciliationsTotal.WithLabelValues(SweepPending, domain.KindSuccess).Inc()
	s.rep.report(ctx, opPendingTier, m.ID, nil, "assigned unverified role to "+displayName(fresh))
	return actions, nil
}

func (s *reconcileService) hasLeftoverUnverified(m domain.Member) bool {
	return !m.Bot && m.HasRole(s.cfg.Roles.Member) && m.HasRole(s.cfg.Roles.Unverified)
}

// stripLeftoverUnverified finishes a verification whose remove never landed.
func (s *reconcileService) stripLeftoverUnverified(ctx context.Context, m domain.Member) ([]domain.Action, error) {
	unverified := s.cfg.Roles.Unverified
	if err := s.guard.check(ctx, unverified); err != nil {
		return nil, s.fail(ctx, opStripLeftover, m.ID, err)
	}

	fresh, err := s.dir.GetMember(ctx, m.ID)
	if err != nil {
		return nil, s.fail(ctx, opStripLeftover, m.ID, fmt.Errorf("refresh member: %w", err))
	}
	if !s.hasLeftoverUnverified(fresh) {
		return nil, nil
	}

	if err := s.guard.remove(ctx, m.ID, unverified); err != nil {
		return nil, s.fail(ctx, opStripLeftover, m.ID, err)
	}

	metrics.ReconciliationsTotal.WithLabelValues(SweepPending, domain.KindSuccess).Inc()
	s.rep.report(ctx, opStripLeftover, m.ID, nil, "removed leftover unverified role from "+displayName(fresh))
	return []domain.Action{{MemberID: m.ID, RoleID: unverified, Op: domain.OpRemove}}, nil
}

// ReconcileEntitlementTier promotes a member holding any entitlement role to
// the member role and strips the unverified role in the same pass. The
// member role is added before unverified is removed so the member is never
// left without access.
func (s *reconcileService) ReconcileEntitlementTier(ctx context.Context, m domain.Member, entitlementRoles []string) ([]domain.Action, error) {
	memberRole, unverified := s.cfg.Roles.Member, s.cfg.Roles.Unverified
	needsWork := func(m domain.Member) bool {
		if m.Bot || !m.HasAnyRole(entitlementRoles) {
			return false
		}
		// A leftover unverified role beside member and an entitlement is the
		// remains of an interrupted promotion; finish it.
		return !m.HasRole(memberRole) || m.HasRole(unverified)
	}
	if !needsWork(m) {
		return nil, nil
	}

	if err := s.guard.check(ctx, memberRole, unverified); err != nil {
		return nil, s.fail(ctx, opEntitlementTier, m.ID, err)
	}

	fresh, err := s.dir.GetMember(ctx, m.ID)
	if err != nil {
		return nil, s.fail(ctx, opEntitlementTier, m.ID, fmt.Errorf("refresh member: %w", err))
	}
	if !needsWork(fresh) {
		return nil, nil
	}

	var actions []domain.Action
	if !fresh.HasRole(memberRole) {
		if err := s.guard.add(ctx, m.ID, memberRole); err != nil {
			return nil, s.fail(ctx, opEntitlementTier, m.ID, err)
		}
		actions = append(actions, domain.Action{MemberID: m.ID, RoleID: memberRole, Op: domain.OpAdd})
	}
	if fresh.HasRole(unverified) {
		if err := s.guard.remove(ctx, m.ID, unverified); err != nil {
			return actions, s.fail(ctx, opEntitlementTier, m.ID, err)
		}
		actions = append(actions, domain.Action{MemberID: m.ID, RoleID: unverified, Op: domain.OpRemove})
	}

	metrics.ReconciliationsTotal.WithLabelValues(SweepEntitlement, domain.KindSuccess).Inc()
	s.rep.report(ctx, opEntitlementTier, m.ID, nil, "granted member role to entitled "+displayName(fresh))
	return actions, nil
}

// ReconcileMember runs the pending pass followed by the entitlement pass.
// A failure in one pass does not prevent the other.
func (s *reconcileService) ReconcileMember(ctx context.Context, m domain.Member) ([]domain.Action, error) {
	pending, pendingErr := s.ReconcilePendingTier(ctx, m)
	entitled, entitledErr := s.ReconcileEntitlementTier(ctx, m, s.cfg.Roles.Entitlements)
	return append(pending, entitled...), errors.Join(pendingErr, entitledErr)
}

// SweepAllPending reconciles the pending tier for the whole population.
func (s *reconcileService) SweepAllPending(ctx context.Context) (ports.SweepReport, error) {
	return s.sweep(ctx, SweepPending, s.ReconcilePendingTier)
}

// SweepAllEntitlement reconciles the entitlement tier for the whole population.
func (s *reconcileService) SweepAllEntitlement(ctx context.Context) (ports.SweepReport, error) {
	return s.sweep(ctx, SweepEntitlement, func(ctx context.Context, m domain.Member) ([]domain.Action, error) {
		return s.ReconcileEntitlementTier(ctx, m, s.cfg.Roles.Entitlements)
	})
}

func (s *reconcileService) sweep(
	ctx context.Context,
	name string,
	reconcile func(context.Context, domain.Member) ([]domain.Action, error),
) (ports.SweepReport, error) {
	report := ports.SweepReport{RunID: uuid.NewString(), Sweep: name}
	log := s.log.With().Str("sweep", name).Str("run_id", report.RunID).Logger()
	start := time.Now()

	// Always refetch: sweeps exist to correct drift in cached snapshots.
	members, err := s.dir.ListMembers(ctx, true)
	if err != nil {
		metrics.SweepRunsTotal.WithLabelValues(name, "failed").Inc()
		return report, fmt.Errorf("sweep %s: list members: %w", name, err)
	}

	var processed, mutated, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.cfg.SweepConcurrency)
	for _, m := range members {
		if m.Bot {
			report.Bots++
			continue
		}
		g.Go(func() error {
			actions, err := reconcile(ctx, m)
			processed.Add(1)
			switch {
			case err != nil:
				failed.Add(1)
			case len(actions) > 0:
				mutated.Add(1)
			default:
				log.Debug().Str("member_id", m.ID).Msg("member already in policy")
			}
			// Per-member failures are already reported; never abort the sweep.
			return nil
		})
	}
	_ = g.Wait()

	report.Processed = int(processed.Load())
	report.Mutated = int(mutated.Load())
	report.Failed = int(failed.Load())

	metrics.SweepRunsTotal.WithLabelValues(name, "completed").Inc()
	metrics.SweepDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	metrics.SweepMembers.WithLabelValues(name).Set(float64(report.Processed))

	log.Info().
		Int("processed", report.Processed).
		Int("mutated", report.Mutated).
		Int("failed", report.Failed).
		Int("bots", report.Bots).
		Dur("took", time.Since(start)).
		Msg("sweep finished")
	return report, nil
}

// HandleMemberEvent reacts to a pushed membership change.
func (s *reconcileService) HandleMemberEvent(ctx context.Context, ev domain.MemberEvent) error {
	m := ev.Member
	if m.Bot {
		return nil
	}

	switch ev.Kind {
	case domain.MemberLeft:
		// A departed member abandons any verification in flight.
		if err := s.prompts.Delete(ctx, m.ID); err != nil {
			s.log.Warn().Err(err).Str("member_id", m.ID).Msg("failed to evict prompt record")
		}
		return nil
	case domain.MemberUpdated:
		_, err := s.ReconcileMember(ctx, m)
		return err
	case domain.MemberJoined:
		_, err := s.ReconcileMember(ctx, m)
		if promptErr := s.welcome(ctx, m.ID); promptErr != nil {
			err = errors.Join(err, promptErr)
		}
		return err
	default:
		return fmt.Errorf("unknown member event kind %q", ev.Kind)
	}
}

// welcome posts the verification prompt for a member who ended up pending
// and records it for later cleanup.
func (s *reconcileService) welcome(ctx context.Context, memberID string) error {
	fresh, err := s.dir.GetMember(ctx, memberID)
	if err != nil {
		return fmt.Errorf("welcome: refresh member: %w", err)
	}
	if fresh.Tier(s.cfg.Roles) != domain.TierPending {
		return nil
	}

	sent, err := s.msg.SendMessage(ctx, s.cfg.VerificationChannel, welcomePrompt(memberID, s.cfg.VerifyKeyword))
	if err != nil {
		return s.fail(ctx, opWelcome, memberID, fmt.Errorf("send prompt: %w", err))
	}
	if err := s.prompts.Put(ctx, memberID, sent.ID); err != nil {
		s.log.Warn().Err(err).Str("member_id", memberID).Msg("failed to record prompt; cleanup will fall back to history scan")
	}
	s.log.Debug().Str("member_id", memberID).Str("message_id", sent.ID).Msg("welcome prompt sent")
	return nil
}

// fail reports err and returns it wrapped with the operation name.
func (s *reconcileService) fail(ctx context.Context, op, memberID string, err error) error {
	kind := s.rep.report(ctx, op, memberID, err, op+" failed")
	if op != opWelcome {
		metrics.ReconciliationsTotal.WithLabelValues(tierLabel(op), kind).Inc()
	}
	return fmt.Errorf("%s %s: %w", op, memberID, err)
}

func tierLabel(op string) string {
	if op == opEntitlementTier {
		return SweepEntitlement
	}
	return SweepPending
}

func displayName(m domain.Member) string {
	if m.Username != "" {
		return m.Username
	}
	return m.ID
}
