package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tiersync/tiersync/internal/core/domain"
	"github.com/tiersync/tiersync/internal/core/ports"
)

// ---------------------------------------------------------------------------
// Helper: build a service over fresh stubs.
// ---------------------------------------------------------------------------

type reconcileFixture struct {
	dir     *stubDirectory
	msg     *stubMessenger
	prompts *stubPrompts
	audit   *stubAudit
	svc     ports.ReconcileService
}

func newReconcileFixture() *reconcileFixture {
	f := &reconcileFixture{
		dir:     newStubDirectory(),
		msg:     newStubMessenger(),
		prompts: newStubPrompts(),
		audit:   &stubAudit{},
	}
	f.svc = NewReconcileService(f.dir, f.msg, f.prompts, f.audit, ReconcileConfig{
		Roles:               testRoles(),
		VerificationChannel: verifyChannel,
		VerifyKeyword:       "?verify",
		SweepConcurrency:    3,
	}, zerolog.Nop())
	return f
}

// ---------------------------------------------------------------------------
// Pending tier
// ---------------------------------------------------------------------------

func TestReconcilePendingTier_AssignsUnverified(t *testing.T) {
	f := newReconcileFixture()
	m := f.dir.put(domain.Member{ID: "42"})

	actions, err := f.svc.ReconcilePendingTier(context.Background(), m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(actions) != 1 || actions[0].RoleID != roleUnverified || actions[0].Op != domain.OpAdd {
		t.Errorf("unexpected actions %+v", actions)
	}
	if !f.dir.member("42").HasRole(roleUnverified) {
		t.Error("expected unverified role assigned")
	}
	if !f.audit.hasKind("42", domain.KindSuccess) {
		t.Error("expected success outcome reported")
	}
}

func TestReconcilePendingTier_IsIdempotent(t *testing.T) {
	f := newReconcileFixture()
	m := f.dir.put(domain.Member{ID: "42"})

	// Same stale snapshot twice: the fresh re-read must stop the second add.
	_, _ = f.svc.ReconcilePendingTier(context.Background(), m)
	actions, err := f.svc.ReconcilePendingTier(context.Background(), m)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(actions) != 0 {
		t.Errorf("expected no action on second call, got %+v", actions)
	}
	if n := len(f.dir.mutationLog()); n != 1 {
		t.Errorf("expected exactly one mutation, got %d", n)
	}
}

func TestReconcilePendingTier_NoOps(t *testing.T) {
	cases := map[string]domain.Member{
		"bot":              {ID: "7", Bot: true},
		"already pending":  {ID: "8", RoleIDs: []string{roleUnverified}},
		"holds other role": {ID: "9", RoleIDs: []string{"777"}},
	}
	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			f := newReconcileFixture()
			f.dir.put(m)

			actions, err := f.svc.ReconcilePendingTier(context.Background(), m)
			if err != nil || len(actions) != 0 {
				t.Errorf("expected no-op, got %+v err=%v", actions, err)
			}
			if n := len(f.dir.mutationLog()); n != 0 {
				t.Errorf("expected no mutation, got %d", n)
			}
			if len(f.audit.kinds(m.ID)) != 0 {
				t.Error("no-ops must not be reported")
			}
		})
	}
}

func TestReconcilePendingTier_HierarchyGate(t *testing.T) {
	for _, pos := range []int{10, 11} {
		t.Run(fmt.Sprintf("position_%d", pos), func(t *testing.T) {
			f := newReconcileFixture()
			f.dir.roles[roleUnverified] = domain.Role{ID: roleUnverified, Name: "unverified", Position: pos}
			m := f.dir.put(domain.Member{ID: "42"})

			_, err := f.svc.ReconcilePendingTier(context.Background(), m)

			if !errors.Is(err, domain.ErrRoleHierarchy) {
				t.Fatalf("expected ErrRoleHierarchy, got %v", err)
			}
			if n := len(f.dir.mutationLog()); n != 0 {
				t.Errorf("expected no mutation call, got %d", n)
			}
			if !f.audit.hasKind("42", domain.KindRoleHierarchy) {
				t.Errorf("expected hierarchy violation reported, got %v", f.audit.kinds("42"))
			}
		})
	}
}

func TestReconcilePendingTier_CapabilityDenied(t *testing.T) {
	f := newReconcileFixture()
	f.dir.caps[domain.CapManageRoles] = false
	m := f.dir.put(domain.Member{ID: "42"})

	_, err := f.svc.ReconcilePendingTier(context.Background(), m)

	if !errors.Is(err, domain.ErrCapabilityDenied) {
		t.Fatalf("expected ErrCapabilityDenied, got %v", err)
	}
	if n := len(f.dir.mutationLog()); n != 0 {
		t.Errorf("expected no mutation, got %d", n)
	}
}

func TestReconcilePendingTier_RoleMissing(t *testing.T) {
	f := newReconcileFixture()
	delete(f.dir.roles, roleUnverified)
	m := f.dir.put(domain.Member{ID: "42"})

	_, err := f.svc.ReconcilePendingTier(context.Background(), m)

	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !f.audit.hasKind("42", domain.KindNotFound) {
		t.Error("expected not-found outcome reported")
	}
}

// ---------------------------------------------------------------------------
// Entitlement tier
// ---------------------------------------------------------------------------

func TestReconcileEntitlementTier_PromotesAndStripsPending(t *testing.T) {
	f := newReconcileFixture()
	m := f.dir.put(domain.Member{ID: "42", RoleIDs: []string{roleUnverified, roleEntitled}})

	actions, err := f.svc.ReconcileEntitlementTier(context.Background(), m, testRoles().Entitlements)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("expected two actions, got %+v", actions)
	}

	// Add must precede remove so the member never holds zero access roles.
	log := f.dir.mutationLog()
	want := []string{"add:42:" + roleMember, "remove:42:" + roleUnverified}
	if strings.Join(log, ",") != strings.Join(want, ",") {
		t.Errorf("mutations = %v, want %v", log, want)
	}

	got := f.dir.member("42")
	if !got.HasRole(roleMember) || got.HasRole(roleUnverified) {
		t.Errorf("unexpected roles %v", got.RoleIDs)
	}
}

func TestReconcileEntitlementTier_PromotesWithoutPending(t *testing.T) {
	f := newReconcileFixture()
	m := f.dir.put(domain.Member{ID: "42", RoleIDs: []string{"402"}})

	actions, err := f.svc.ReconcileEntitlementTier(context.Background(), m, testRoles().Entitlements)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(actions) != 1 || actions[0].RoleID != roleMember {
		t.Errorf("expected only member role added, got %+v", actions)
	}
}

func TestReconcileEntitlementTier_NoOps(t *testing.T) {
	cases := map[string]domain.Member{
		"bot":             {ID: "7", Bot: true, RoleIDs: []string{roleEntitled}},
		"already member":  {ID: "8", RoleIDs: []string{roleMember, roleEntitled}},
		"no entitlement":  {ID: "9", RoleIDs: []string{roleUnverified}},
		"no roles at all": {ID: "10"},
	}
	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			f := newReconcileFixture()
			f.dir.put(m)

			actions, err := f.svc.ReconcileEntitlementTier(context.Background(), m, testRoles().Entitlements)
			if err != nil || len(actions) != 0 {
				t.Errorf("expected no-op, got %+v err=%v", actions, err)
			}
			if n := len(f.dir.mutationLog()); n != 0 {
				t.Errorf("expected no mutation, got %d", n)
			}
		})
	}
}

func TestReconcileEntitlementTier_FinishesInterruptedPromotion(t *testing.T) {
	f := newReconcileFixture()
	m := f.dir.put(domain.Member{ID: "42", RoleIDs: []string{roleMember, roleUnverified, roleEntitled}})

	actions, err := f.svc.ReconcileEntitlementTier(context.Background(), m, testRoles().Entitlements)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(actions) != 1 || actions[0].Op != domain.OpRemove {
		t.Errorf("expected leftover unverified stripped, got %+v", actions)
	}
}

func TestReconcilePendingTier_StripsLeftoverUnverified(t *testing.T) {
	f := newReconcileFixture()
	m := f.dir.put(domain.Member{ID: "42", RoleIDs: []string{roleMember, roleUnverified}})

	actions, err := f.svc.ReconcilePendingTier(context.Background(), m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(actions) != 1 || actions[0].Op != domain.OpRemove || actions[0].RoleID != roleUnverified {
		t.Fatalf("expected unverified removed, got %+v", actions)
	}
	if got := f.dir.member("42").RoleIDs; len(got) != 1 || got[0] != roleMember {
		t.Errorf("expected only the member role left, got %v", got)
	}

	// Second pass is a no-op.
	actions, err = f.svc.ReconcilePendingTier(context.Background(), f.dir.member("42"))
	if err != nil || len(actions) != 0 {
		t.Errorf("expected no-op on rerun, got %+v err=%v", actions, err)
	}
}

func TestReconcilePendingTier_LeavesBotWithBothRoles(t *testing.T) {
	f := newReconcileFixture()
	m := f.dir.put(domain.Member{ID: "7", Bot: true, RoleIDs: []string{roleMember, roleUnverified}})

	actions, err := f.svc.ReconcilePendingTier(context.Background(), m)
	if err != nil || len(actions) != 0 {
		t.Fatalf("expected bot untouched, got %+v err=%v", actions, err)
	}
	if n := len(f.dir.mutationLog()); n != 0 {
		t.Errorf("expected no mutation, got %d", n)
	}
}

func TestReconcileEntitlementTier_NoPartialMutationOnHierarchyFailure(t *testing.T) {
	f := newReconcileFixture()
	// Member role is fine, but the removal target is above the bot.
	f.dir.roles[roleUnverified] = domain.Role{ID: roleUnverified, Name: "unverified", Position: 50}
	m := f.dir.put(domain.Member{ID: "42", RoleIDs: []string{roleUnverified, roleEntitled}})

	_, err := f.svc.ReconcileEntitlementTier(context.Background(), m, testRoles().Entitlements)

	if !errors.Is(err, domain.ErrRoleHierarchy) {
		t.Fatalf("expected ErrRoleHierarchy, got %v", err)
	}
	if n := len(f.dir.mutationLog()); n != 0 {
		t.Errorf("expected no partial mutation, got %v", f.dir.mutationLog())
	}
}

func TestReconcileEntitlementTier_AddFailureStopsBeforeRemove(t *testing.T) {
	f := newReconcileFixture()
	f.dir.addErr["42"] = errDirectoryDown
	m := f.dir.put(domain.Member{ID: "42", RoleIDs: []string{roleUnverified, roleEntitled}})

	_, err := f.svc.ReconcileEntitlementTier(context.Background(), m, testRoles().Entitlements)

	if !errors.Is(err, errDirectoryDown) {
		t.Fatalf("expected directory error, got %v", err)
	}
	if !f.dir.member("42").HasRole(roleUnverified) {
		t.Error("unverified must not be removed when the add failed")
	}
	if !f.audit.hasKind("42", domain.KindTransientIO) {
		t.Error("expected transient failure reported")
	}
}

// ---------------------------------------------------------------------------
// Combined pass
// ---------------------------------------------------------------------------

func TestReconcileMember_EntitlementWinsOverPending(t *testing.T) {
	cases := map[string][]string{
		"pending and entitled": {roleUnverified, roleEntitled},
		"entitled only":        {roleEntitled},
	}
	for name, roles := range cases {
		t.Run(name, func(t *testing.T) {
			f := newReconcileFixture()
			m := f.dir.put(domain.Member{ID: "42", RoleIDs: roles})

			if _, err := f.svc.ReconcileMember(context.Background(), m); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			got := f.dir.member("42")
			if !got.HasRole(roleMember) || got.HasRole(roleUnverified) {
				t.Errorf("expected paid tier, got roles %v", got.RoleIDs)
			}
			if tier := got.Tier(testRoles()); tier != domain.TierPaid {
				t.Errorf("expected paid tier, got %s", tier)
			}
		})
	}
}

func TestReconcileMember_SurfacesPendingFailure(t *testing.T) {
	f := newReconcileFixture()
	delete(f.dir.roles, roleUnverified)
	m := f.dir.put(domain.Member{ID: "42"})

	_, err := f.svc.ReconcileMember(context.Background(), m)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected pending failure surfaced, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Sweeps
// ---------------------------------------------------------------------------

func TestSweepAllPending_IsolatesFailures(t *testing.T) {
	f := newReconcileFixture()
	for i := 1; i <= 5; i++ {
		f.dir.put(domain.Member{ID: fmt.Sprintf("m%d", i)})
	}
	f.dir.put(domain.Member{ID: "bot", Bot: true})
	f.dir.addErr["m3"] = errDirectoryDown

	report, err := f.svc.SweepAllPending(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Processed != 5 || report.Failed != 1 || report.Mutated != 4 || report.Bots != 1 {
		t.Errorf("unexpected report %+v", report)
	}
	if report.RunID == "" || report.Sweep != SweepPending {
		t.Errorf("expected run id and sweep name, got %+v", report)
	}
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("m%d", i)
		want := domain.KindSuccess
		if id == "m3" {
			want = domain.KindTransientIO
		}
		if !f.audit.hasKind(id, want) {
			t.Errorf("member %s: expected %s outcome, got %v", id, want, f.audit.kinds(id))
		}
	}
	if f.dir.member("bot").HasRole(roleUnverified) {
		t.Error("bots must never be touched")
	}
}

func TestSweepAllEntitlement_UsesFreshMemberList(t *testing.T) {
	f := newReconcileFixture()
	f.dir.put(domain.Member{ID: "a", RoleIDs: []string{roleEntitled, roleUnverified}})
	f.dir.put(domain.Member{ID: "b", RoleIDs: []string{roleUnverified}})

	report, err := f.svc.SweepAllEntitlement(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.dir.listForced) != 1 || !f.dir.listForced[0] {
		t.Errorf("expected forced refresh, got %v", f.dir.listForced)
	}
	if report.Mutated != 1 {
		t.Errorf("expected one promotion, got %+v", report)
	}
	if got := f.dir.member("a"); !got.HasRole(roleMember) || got.HasRole(roleUnverified) {
		t.Errorf("expected a promoted, got %v", got.RoleIDs)
	}
	if got := f.dir.member("b"); got.HasRole(roleMember) {
		t.Error("b has no entitlement and must stay pending")
	}
}

func TestSweep_ListFailure(t *testing.T) {
	f := newReconcileFixture()
	f.dir.listErr = errDirectoryDown

	if _, err := f.svc.SweepAllPending(context.Background()); !errors.Is(err, errDirectoryDown) {
		t.Errorf("expected list error, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Member events
// ---------------------------------------------------------------------------

func TestHandleMemberEvent_JoinAssignsPendingAndWelcomes(t *testing.T) {
	f := newReconcileFixture()
	m := f.dir.put(domain.Member{ID: "42"})

	if err := f.svc.HandleMemberEvent(context.Background(), domain.MemberEvent{Kind: domain.MemberJoined, Member: m}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !f.dir.member("42").HasRole(roleUnverified) {
		t.Error("expected unverified role on join")
	}
	prompts := f.msg.sentContaining("<@42>")
	if len(prompts) != 1 || prompts[0].ChannelID != verifyChannel || !strings.Contains(prompts[0].Content, "?verify") {
		t.Fatalf("expected one welcome prompt, got %+v", prompts)
	}
	if id, ok, _ := f.prompts.Get(context.Background(), "42"); !ok || id != prompts[0].ID {
		t.Errorf("expected prompt recorded, got %q ok=%v", id, ok)
	}
}

func TestHandleMemberEvent_EntitledJoinGetsNoPrompt(t *testing.T) {
	f := newReconcileFixture()
	m := f.dir.put(domain.Member{ID: "42", RoleIDs: []string{roleEntitled}})

	if err := f.svc.HandleMemberEvent(context.Background(), domain.MemberEvent{Kind: domain.MemberJoined, Member: m}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.msg.sent) != 0 {
		t.Errorf("expected no prompt for paid member, got %+v", f.msg.sent)
	}
	if !f.dir.member("42").HasRole(roleMember) {
		t.Error("expected member role granted")
	}
}

func TestHandleMemberEvent_UpdateReconciles(t *testing.T) {
	f := newReconcileFixture()
	m := f.dir.put(domain.Member{ID: "42", RoleIDs: []string{roleUnverified, roleEntitled}})

	if err := f.svc.HandleMemberEvent(context.Background(), domain.MemberEvent{Kind: domain.MemberUpdated, Member: m}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.dir.member("42").HasRole(roleUnverified) {
		t.Error("expected unverified stripped on entitlement update")
	}
}

func TestHandleMemberEvent_LeaveEvictsPrompt(t *testing.T) {
	f := newReconcileFixture()
	_ = f.prompts.Put(context.Background(), "42", "msg-1")

	err := f.svc.HandleMemberEvent(context.Background(), domain.MemberEvent{Kind: domain.MemberLeft, Member: domain.Member{ID: "42"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.prompts.has("42") {
		t.Error("expected prompt record evicted")
	}
}

func TestHandleMemberEvent_IgnoresBots(t *testing.T) {
	f := newReconcileFixture()
	m := f.dir.put(domain.Member{ID: "7", Bot: true})

	_ = f.svc.HandleMemberEvent(context.Background(), domain.MemberEvent{Kind: domain.MemberJoined, Member: m})
	if len(f.dir.mutationLog()) != 0 || len(f.msg.sent) != 0 {
		t.Error("bots must be ignored")
	}
}
