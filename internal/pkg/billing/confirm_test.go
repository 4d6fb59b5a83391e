package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v83"

	"github.com/quartiero/quartiero/app/models"
	"github.com/quartiero/quartiero/internal/pkg/entitlements"
)

func newTestReconciler(repo *fakeRepo, gw *fakeGateway) *Reconciler {
	return NewReconciler(newTestService(repo), repo, gw, zerolog.Nop())
}

func seedCompletedSession(gw *fakeGateway, userID string) {
	gw.sessions["cs_1"] = &stripe.CheckoutSession{
		ID:           "cs_1",
		Status:       stripe.CheckoutSessionStatusComplete,
		Customer:     &stripe.Customer{ID: "cus_1"},
		Subscription: &stripe.Subscription{ID: "sub_1"},
		Metadata:     map[string]string{"owner_kind": "user", "user_id": userID, "tier": "PLUS"},
		CustomerDetails: &stripe.CheckoutSessionCustomerDetails{
			Email: "user@example.com",
			Name:  "User",
		},
	}
	gw.subs["sub_1"] = &stripe.Subscription{
		ID:       "sub_1",
		Status:   stripe.SubscriptionStatusActive,
		Customer: &stripe.Customer{ID: "cus_1"},
		Metadata: map[string]string{"owner_kind": "user", "user_id": userID},
	}
}

func TestConfirmCheckoutAppliesEntitlement(t *testing.T) {
	repo := newFakeRepo()
	seedUser(repo, 7)
	gw := newFakeGateway()
	seedCompletedSession(gw, "7")

	res, err := newTestReconciler(repo, gw).ConfirmCheckout(context.Background(), 7, "cs_1")
	if err != nil {
		t.Fatalf("ConfirmCheckout() error = %v", err)
	}
	if res.CustomerID != "cus_1" || res.SubscriptionID != "sub_1" || res.Tier != entitlements.TierPlus {
		t.Fatalf("ConfirmCheckout() = %+v, want cus_1/sub_1/PLUS", res)
	}
	if got := repo.users[7].Plan; got != "PLUS" {
		t.Fatalf("user plan = %q, want PLUS", got)
	}
	if repo.customers["cus_1"] == nil {
		t.Fatal("customer linkage not stored")
	}
}

func TestConfirmCheckoutIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	seedUser(repo, 7)
	gw := newFakeGateway()
	seedCompletedSession(gw, "7")
	rec := newTestReconciler(repo, gw)

	if _, err := rec.ConfirmCheckout(context.Background(), 7, "cs_1"); err != nil {
		t.Fatalf("first ConfirmCheckout() error = %v", err)
	}
	if _, err := rec.ConfirmCheckout(context.Background(), 7, "cs_1"); err != nil {
		t.Fatalf("second ConfirmCheckout() error = %v", err)
	}

	if got := repo.users[7].Plan; got != "PLUS" {
		t.Fatalf("user plan = %q, want PLUS", got)
	}
	if len(repo.subs) != 1 {
		t.Fatalf("subscription rows = %d, want 1", len(repo.subs))
	}
}

func TestConfirmCheckoutConvergesWithWebhook(t *testing.T) {
	repo := newFakeRepo()
	seedUser(repo, 7)
	gw := newFakeGateway()
	seedCompletedSession(gw, "7")

	// The lifecycle webhook for the same subscription lands first.
	event := makeEvent("evt_conv", "customer.subscription.updated", time.Now().Add(-time.Minute), activeSubRaw)
	if err := newTestDispatcher(repo, gw).HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if got := repo.users[7].Plan; got != "PLUS" {
		t.Fatalf("user plan after webhook = %q, want PLUS", got)
	}

	res, err := newTestReconciler(repo, gw).ConfirmCheckout(context.Background(), 7, "cs_1")
	if err != nil {
		t.Fatalf("ConfirmCheckout() error = %v", err)
	}
	if res.SubscriptionID != "sub_1" || res.Tier != entitlements.TierPlus {
		t.Fatalf("ConfirmCheckout() = %+v, want sub_1/PLUS", res)
	}

	if got := repo.users[7].Plan; got != "PLUS" {
		t.Fatalf("user plan after confirmation = %q, want PLUS", got)
	}
	if len(repo.subs) != 1 {
		t.Fatalf("subscription rows = %d, want a single row for sub_1", len(repo.subs))
	}
	sub := repo.subs["sub_1"]
	if sub == nil || sub.Status != models.BillingStatusActive || sub.Tier != string(entitlements.TierPlus) {
		t.Fatalf("stored subscription = %+v, want active PLUS", sub)
	}
	if len(repo.memberships) != 1 || !repo.memberships[7].Active {
		t.Fatalf("memberships = %+v, want one active row for user 7", repo.memberships)
	}
}

func TestConfirmCheckoutRejectsForeignSession(t *testing.T) {
	repo := newFakeRepo()
	seedUser(repo, 7)
	seedUser(repo, 8)
	gw := newFakeGateway()
	seedCompletedSession(gw, "7")

	_, err := newTestReconciler(repo, gw).ConfirmCheckout(context.Background(), 8, "cs_1")
	if !errors.Is(err, ErrNotSessionOwner) {
		t.Fatalf("ConfirmCheckout() error = %v, want ErrNotSessionOwner", err)
	}
	if got := repo.users[7].Plan; got != "FREE" {
		t.Fatalf("user plan = %q, foreign confirmation must not apply", got)
	}
}

func TestConfirmCheckoutOwnershipViaLinkage(t *testing.T) {
	repo := newFakeRepo()
	seedUser(repo, 7)
	repo.customers["cus_1"] = &models.BillingCustomer{UserID: 7, ProviderCustomerID: "cus_1"}
	gw := newFakeGateway()
	seedCompletedSession(gw, "7")
	// Strip the metadata so ownership can only come from the stored linkage.
	gw.sessions["cs_1"].Metadata = nil
	gw.sessions["cs_1"].ClientReferenceID = ""

	res, err := newTestReconciler(repo, gw).ConfirmCheckout(context.Background(), 7, "cs_1")
	if err != nil {
		t.Fatalf("ConfirmCheckout() error = %v", err)
	}
	if res.SubscriptionID != "sub_1" {
		t.Fatalf("ConfirmCheckout() subscription = %q, want sub_1", res.SubscriptionID)
	}
}

func TestConfirmCheckoutIncompleteSession(t *testing.T) {
	repo := newFakeRepo()
	seedUser(repo, 7)
	gw := newFakeGateway()
	seedCompletedSession(gw, "7")
	gw.sessions["cs_1"].Status = stripe.CheckoutSessionStatusOpen

	_, err := newTestReconciler(repo, gw).ConfirmCheckout(context.Background(), 7, "cs_1")
	if !errors.Is(err, ErrSessionIncomplete) {
		t.Fatalf("ConfirmCheckout() error = %v, want ErrSessionIncomplete", err)
	}
}

func TestConfirmCheckoutValidatesInput(t *testing.T) {
	rec := newTestReconciler(newFakeRepo(), newFakeGateway())
	if _, err := rec.ConfirmCheckout(context.Background(), 0, "cs_1"); err == nil {
		t.Fatal("ConfirmCheckout() with zero user id, want error")
	}
	if _, err := rec.ConfirmCheckout(context.Background(), 7, "  "); err == nil {
		t.Fatal("ConfirmCheckout() with blank session id, want error")
	}
}
