package billing

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/quartiero/quartiero/app/models"
	"github.com/quartiero/quartiero/internal/pkg/entitlements"
)

func newTestService(repo *fakeRepo) *Service {
	return NewService(repo, zerolog.Nop())
}

func seedUser(repo *fakeRepo, id uint) {
	repo.users[id] = &models.User{ID: id, Email: "user@example.com", Plan: "FREE"}
}

func seedBusiness(repo *fakeRepo, id uint) {
	repo.businesses[id] = &models.Business{ID: id, Plan: "BUSINESS_BASIC"}
}

func activeSnapshot(subID string, ownerID uint, tier entitlements.Tier, observedAt time.Time) SubscriptionSnapshot {
	return SubscriptionSnapshot{
		OwnerID:                ownerID,
		OwnerKind:              entitlements.OwnerKindUser,
		ProviderSubscriptionID: subID,
		ProviderCustomerID:     "cus_1",
		Status:                 models.BillingStatusActive,
		Tier:                   tier,
		ObservedAt:             observedAt,
	}
}

func TestApplyGrantsMembership(t *testing.T) {
	repo := newFakeRepo()
	seedUser(repo, 7)
	svc := newTestService(repo)

	snap := activeSnapshot("sub_1", 7, entitlements.TierPlus, time.Now())
	if err := svc.Apply(context.Background(), snap); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if got := repo.users[7].Plan; got != "PLUS" {
		t.Fatalf("user plan = %q, want PLUS", got)
	}
	m := repo.memberships[7]
	if m == nil || !m.Active || m.Tier != "PLUS" || m.ProviderSubscriptionID != "sub_1" {
		t.Fatalf("membership = %+v, want active PLUS for sub_1", m)
	}
	stored := repo.subs["sub_1"]
	if stored == nil || stored.Status != models.BillingStatusActive {
		t.Fatalf("subscription row = %+v, want active", stored)
	}
	if len(repo.notifications) != 1 || repo.notifications[0].Type != models.NotificationTypePlanChanged {
		t.Fatalf("notifications = %+v, want one plan_changed", repo.notifications)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	seedUser(repo, 7)
	svc := newTestService(repo)

	snap := activeSnapshot("sub_1", 7, entitlements.TierFamily, time.Now())
	for i := 0; i < 3; i++ {
		if err := svc.Apply(context.Background(), snap); err != nil {
			t.Fatalf("Apply() #%d error = %v", i+1, err)
		}
	}

	if got := repo.users[7].Plan; got != "FAMILY" {
		t.Fatalf("user plan = %q, want FAMILY", got)
	}
	if len(repo.subs) != 1 {
		t.Fatalf("subscription rows = %d, want 1", len(repo.subs))
	}
	// Only the first apply changed the plan, so only one notification.
	if len(repo.notifications) != 1 {
		t.Fatalf("notifications = %d, want 1", len(repo.notifications))
	}
}

func TestApplyRevokesToBaseline(t *testing.T) {
	repo := newFakeRepo()
	seedUser(repo, 7)
	svc := newTestService(repo)

	grant := activeSnapshot("sub_1", 7, entitlements.TierPlus, time.Now().Add(-time.Hour))
	if err := svc.Apply(context.Background(), grant); err != nil {
		t.Fatalf("grant Apply() error = %v", err)
	}

	revoke := grant
	revoke.Status = models.BillingStatusCanceled
	revoke.ObservedAt = time.Now()
	if err := svc.Apply(context.Background(), revoke); err != nil {
		t.Fatalf("revoke Apply() error = %v", err)
	}

	if got := repo.users[7].Plan; got != "FREE" {
		t.Fatalf("user plan after revoke = %q, want FREE", got)
	}
	m := repo.memberships[7]
	if m == nil || m.Active || m.Tier != "FREE" {
		t.Fatalf("membership after revoke = %+v, want inactive FREE", m)
	}
}

func TestApplyRevokingStatuses(t *testing.T) {
	for _, status := range []string{
		models.BillingStatusCanceled,
		models.BillingStatusUnpaid,
		models.BillingStatusPastDue,
		models.BillingStatusIncomplete,
	} {
		t.Run(status, func(t *testing.T) {
			repo := newFakeRepo()
			seedUser(repo, 7)
			svc := newTestService(repo)

			grant := activeSnapshot("sub_1", 7, entitlements.TierPlus, time.Now().Add(-time.Hour))
			if err := svc.Apply(context.Background(), grant); err != nil {
				t.Fatalf("grant Apply() error = %v", err)
			}

			snap := grant
			snap.Status = status
			snap.ObservedAt = time.Now()
			if err := svc.Apply(context.Background(), snap); err != nil {
				t.Fatalf("Apply(%s) error = %v", status, err)
			}
			if got := repo.users[7].Plan; got != "FREE" {
				t.Fatalf("user plan after %s = %q, want FREE", status, got)
			}
		})
	}
}

func TestApplySkipsStaleSnapshot(t *testing.T) {
	repo := newFakeRepo()
	seedUser(repo, 7)
	svc := newTestService(repo)

	now := time.Now()
	fresh := activeSnapshot("sub_1", 7, entitlements.TierFamily, now)
	if err := svc.Apply(context.Background(), fresh); err != nil {
		t.Fatalf("fresh Apply() error = %v", err)
	}

	// An older delivery arriving late must not downgrade state.
	stale := activeSnapshot("sub_1", 7, entitlements.TierPlus, now.Add(-time.Minute))
	stale.Status = models.BillingStatusCanceled
	if err := svc.Apply(context.Background(), stale); err != nil {
		t.Fatalf("stale Apply() error = %v", err)
	}

	if got := repo.users[7].Plan; got != "FAMILY" {
		t.Fatalf("user plan = %q, want FAMILY (stale snapshot applied)", got)
	}
	if got := repo.subs["sub_1"].Status; got != models.BillingStatusActive {
		t.Fatalf("stored status = %q, want active", got)
	}
}

func TestApplyBusinessPlan(t *testing.T) {
	repo := newFakeRepo()
	seedBusiness(repo, 3)
	svc := newTestService(repo)

	snap := SubscriptionSnapshot{
		OwnerID:                3,
		OwnerKind:              entitlements.OwnerKindBusiness,
		ProviderSubscriptionID: "sub_biz",
		Status:                 models.BillingStatusTrialing,
		Tier:                   entitlements.TierBusinessPremium,
		ObservedAt:             time.Now(),
	}
	if err := svc.Apply(context.Background(), snap); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	b := repo.businesses[3]
	if b.Plan != "BUSINESS_PREMIUM" || !b.PlanActive {
		t.Fatalf("business = %+v, want active BUSINESS_PREMIUM", b)
	}

	snap.Status = models.BillingStatusUnpaid
	snap.ObservedAt = time.Now().Add(time.Minute)
	if err := svc.Apply(context.Background(), snap); err != nil {
		t.Fatalf("revoke Apply() error = %v", err)
	}
	b = repo.businesses[3]
	if b.Plan != "BUSINESS_BASIC" || b.PlanActive {
		t.Fatalf("business after revoke = %+v, want inactive BUSINESS_BASIC", b)
	}
}

func TestApplyValidatesSnapshot(t *testing.T) {
	svc := newTestService(newFakeRepo())

	if err := svc.Apply(context.Background(), SubscriptionSnapshot{}); err == nil {
		t.Fatal("Apply() with empty snapshot, want error")
	}
	snap := activeSnapshot("sub_1", 7, entitlements.TierPlus, time.Now())
	snap.OwnerKind = "team"
	if err := svc.Apply(context.Background(), snap); err == nil {
		t.Fatal("Apply() with unknown owner kind, want error")
	}
}

func TestReconcileOwnerPicksBestTier(t *testing.T) {
	repo := newFakeRepo()
	seedUser(repo, 7)
	svc := newTestService(repo)

	now := time.Now()
	repo.subs["sub_old"] = &models.BillingSubscription{
		ProviderSubscriptionID: "sub_old", OwnerID: 7, OwnerKind: models.OwnerKindUser,
		Status: models.BillingStatusCanceled, Tier: "FAMILY", ProviderUpdatedAt: &now,
	}
	repo.subs["sub_live"] = &models.BillingSubscription{
		ProviderSubscriptionID: "sub_live", OwnerID: 7, OwnerKind: models.OwnerKindUser,
		Status: models.BillingStatusActive, Tier: "PLUS", ProviderUpdatedAt: &now,
	}

	tier, err := svc.ReconcileOwner(context.Background(), entitlements.OwnerKindUser, 7)
	if err != nil {
		t.Fatalf("ReconcileOwner() error = %v", err)
	}
	if tier != entitlements.TierPlus {
		t.Fatalf("ReconcileOwner() tier = %q, want PLUS", tier)
	}
	if got := repo.users[7].Plan; got != "PLUS" {
		t.Fatalf("user plan = %q, want PLUS", got)
	}
}

func TestReconcileOwnerWithoutEntitlingSubs(t *testing.T) {
	repo := newFakeRepo()
	seedUser(repo, 7)
	repo.users[7].Plan = "PLUS"
	svc := newTestService(repo)

	tier, err := svc.ReconcileOwner(context.Background(), entitlements.OwnerKindUser, 7)
	if err != nil {
		t.Fatalf("ReconcileOwner() error = %v", err)
	}
	if tier != entitlements.TierFree {
		t.Fatalf("ReconcileOwner() tier = %q, want FREE", tier)
	}
	if got := repo.users[7].Plan; got != "FREE" {
		t.Fatalf("user plan = %q, want FREE", got)
	}
}
