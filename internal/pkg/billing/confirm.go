package billing

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v83"
	"gorm.io/gorm"

	"github.com/quartiero/quartiero/internal/pkg/entitlements"
)

// Reconciler is the client-driven counterpart to the webhook dispatcher:
// after the provider redirects the browser back, the client posts the session
// id and the reconciler re-fetches provider truth, checks ownership, and
// applies the same snapshot the webhook path would. Whichever path runs
// second is a no-op.
type Reconciler struct {
	svc  *Service
	repo Repository
	gw   ProviderGateway
	log  zerolog.Logger
}

// NewReconciler creates a checkout confirmation reconciler.
func NewReconciler(svc *Service, repo Repository, gw ProviderGateway, log zerolog.Logger) *Reconciler {
	return &Reconciler{svc: svc, repo: repo, gw: gw, log: log}
}

// ConfirmCheckout validates that the authenticated user owns the checkout
// session, then reconciles the session's subscription into local state.
// The session id is never trusted as proof of anything; everything is
// re-fetched from the provider.
func (r *Reconciler) ConfirmCheckout(ctx context.Context, userID uint, sessionID string) (*ConfirmResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if userID == 0 || sessionID == "" {
		return nil, errors.New("user id and session id are required")
	}

	sess, err := r.gw.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !r.ownsSession(userID, sess) {
		r.log.Warn().
			Uint("user_id", userID).
			Str("session_id", sessionID).
			Msg("checkout confirmation rejected, caller does not own session")
		return nil, ErrNotSessionOwner
	}

	if sess.Status != stripe.CheckoutSessionStatusComplete || sess.Subscription == nil || sess.Subscription.ID == "" {
		return nil, ErrSessionIncomplete
	}

	sub, err := r.gw.GetSubscription(ctx, sess.Subscription.ID)
	if err != nil {
		return nil, err
	}

	kind, ownerID, ok := ownerFromMetadata(sess.Metadata)
	if !ok {
		kind, ownerID = entitlements.OwnerKindUser, userID
	}

	snap := r.snapshot(sub, sess, kind, ownerID)
	if err := r.svc.Apply(ctx, snap); err != nil {
		return nil, err
	}

	customerID := customerIDOf(sess.Customer)
	if customerID != "" {
		var businessID *uint
		if kind == entitlements.OwnerKindBusiness {
			bid := ownerID
			businessID = &bid
		}
		email, name := "", ""
		if sess.CustomerDetails != nil {
			email = sess.CustomerDetails.Email
			name = sess.CustomerDetails.Name
		}
		if err := r.svc.EnsureCustomerLinkage(ctx, userID, businessID, customerID, email, name); err != nil {
			r.log.Warn().Err(err).Str("session_id", sessionID).Msg("customer linkage not stored")
		}
	}

	return &ConfirmResult{
		CustomerID:     customerID,
		SubscriptionID: sub.ID,
		Tier:           snap.Tier,
	}, nil
}

// ownsSession checks the caller against every identity the session carries:
// checkout metadata, the client reference id, then the stored linkage for
// the session's provider customer.
func (r *Reconciler) ownsSession(userID uint, sess *stripe.CheckoutSession) bool {
	caller := strconv.FormatUint(uint64(userID), 10)
	if sess.Metadata[metaKeyUserID] == caller {
		return true
	}
	if sess.ClientReferenceID == caller {
		return true
	}

	customerID := customerIDOf(sess.Customer)
	if customerID == "" {
		return false
	}
	linkage, err := r.repo.GetBillingCustomerByProviderID(customerID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			r.log.Error().Err(err).Str("customer_id", customerID).Msg("linkage lookup failed during ownership check")
		}
		return false
	}
	return linkage.UserID == userID
}

func (r *Reconciler) snapshot(sub *stripe.Subscription, sess *stripe.CheckoutSession, kind entitlements.OwnerKind, ownerID uint) SubscriptionSnapshot {
	snap := SubscriptionSnapshot{
		OwnerID:                ownerID,
		OwnerKind:              kind,
		ProviderSubscriptionID: sub.ID,
		ProviderCustomerID:     customerIDOf(sub.Customer),
		Status:                 string(sub.Status),
		Tier:                   ResolveTier(sub, sess, kind),
		TrialEndsAt:            unixTime(sub.TrialEnd),
		CancelAt:               unixTime(sub.CancelAt),
		CanceledAt:             unixTime(sub.CanceledAt),
		ObservedAt:             time.Now().UTC(),
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		snap.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
		snap.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
	}
	if len(sub.Metadata) > 0 {
		if raw, err := json.Marshal(sub.Metadata); err == nil {
			snap.RawMetadataJSON = string(raw)
		}
	}
	return snap
}
