package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/quartiero/quartiero/app/models"
	"github.com/quartiero/quartiero/internal/pkg/entitlements"
)

// Service is the entitlement synchronizer: the only writer of
// BillingSubscription rows and of the cached plan fields on the owning
// aggregates. All entitlement changes flow through Apply, from both the
// webhook path and the checkout confirmation path, so the two ingress
// points converge on identical state.
type Service struct {
	repo Repository
	log  zerolog.Logger
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, log zerolog.Logger) *Service {
	return NewService(NewRepository(db), log)
}

// Apply upserts the subscription snapshot keyed by its stable provider
// subscription id and reconciles the owning aggregate's cached entitlement.
// Re-applying the same snapshot is a no-op in effect; a snapshot strictly
// older than the stored watermark is skipped entirely so out-of-order
// deliveries cannot regress state.
func (s *Service) Apply(ctx context.Context, snap SubscriptionSnapshot) error {
	_ = ctx
	subID := strings.TrimSpace(snap.ProviderSubscriptionID)
	if snap.OwnerID == 0 || subID == "" {
		return errors.New("owner_id and provider_subscription_id are required")
	}
	if snap.OwnerKind != entitlements.OwnerKindUser && snap.OwnerKind != entitlements.OwnerKindBusiness {
		return fmt.Errorf("unknown owner kind %q", snap.OwnerKind)
	}

	status := normalizeStatus(snap.Status)
	tier := snap.Tier
	if !entitlements.Known(tier) {
		tier = entitlements.Baseline(snap.OwnerKind)
	}

	existing, err := s.repo.GetSubscription(subID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("load subscription %s: %w", subID, err)
	}
	if existing != nil && s.isStale(existing, snap) {
		s.log.Info().
			Str("subscription_id", subID).
			Time("observed_at", snap.ObservedAt).
			Msg("skipping stale subscription snapshot")
		return nil
	}

	observedAt := snap.ObservedAt
	sub := &models.BillingSubscription{
		Provider:               models.BillingProviderStripe,
		ProviderSubscriptionID: subID,
		ProviderCustomerID:     strings.TrimSpace(snap.ProviderCustomerID),
		OwnerID:                snap.OwnerID,
		OwnerKind:              string(snap.OwnerKind),
		Tier:                   string(tier),
		Status:                 status,
		CurrentPeriodStart:     snap.CurrentPeriodStart,
		CurrentPeriodEnd:       snap.CurrentPeriodEnd,
		CancelAt:               snap.CancelAt,
		CanceledAt:             snap.CanceledAt,
		TrialEndsAt:            snap.TrialEndsAt,
		ProviderUpdatedAt:      &observedAt,
		RawMetadataJSON:        snap.RawMetadataJSON,
	}
	if err := s.repo.UpsertSubscription(sub); err != nil {
		return fmt.Errorf("upsert subscription %s: %w", subID, err)
	}

	// The subscription row is already consistent with provider truth at this
	// point; if the aggregate write below fails, retrying the same call is
	// safe because every write is keyed on stable ids.
	switch {
	case isGrantingStatus(status):
		return s.grant(snap.OwnerKind, snap.OwnerID, tier, subID)
	case isRevokingStatus(status):
		return s.revoke(snap.OwnerKind, snap.OwnerID, subID)
	default:
		s.log.Warn().
			Str("subscription_id", subID).
			Str("status", status).
			Msg("subscription status neither grants nor revokes; aggregate untouched")
		return nil
	}
}

// isStale reports whether the stored row already reflects a newer provider
// snapshot than the incoming one. Equal watermarks re-apply (idempotent).
func (s *Service) isStale(stored *models.BillingSubscription, snap SubscriptionSnapshot) bool {
	if snap.ObservedAt.IsZero() || stored.ProviderUpdatedAt == nil {
		return false
	}
	if snap.ObservedAt.Before(*stored.ProviderUpdatedAt) {
		return true
	}
	// Same watermark but a shorter period means a reordered partial: keep the
	// longer stored period.
	if snap.ObservedAt.Equal(*stored.ProviderUpdatedAt) &&
		stored.CurrentPeriodEnd != nil && snap.CurrentPeriodEnd != nil &&
		snap.CurrentPeriodEnd.Before(*stored.CurrentPeriodEnd) {
		return true
	}
	return false
}

func (s *Service) grant(kind entitlements.OwnerKind, ownerID uint, tier entitlements.Tier, subID string) error {
	if kind == entitlements.OwnerKindBusiness {
		if err := s.repo.SetBusinessPlan(ownerID, string(tier), true, subID); err != nil {
			return fmt.Errorf("grant business plan: %w", err)
		}
		s.log.Info().Uint("business_id", ownerID).Str("tier", string(tier)).Msg("business plan granted")
		return nil
	}

	user, err := s.repo.GetUser(ownerID)
	if err != nil {
		return fmt.Errorf("load user %d: %w", ownerID, err)
	}
	changed := user.Plan != string(tier)
	if err := s.repo.SetUserPlan(ownerID, string(tier)); err != nil {
		return fmt.Errorf("grant user plan: %w", err)
	}
	if err := s.repo.UpsertMembership(&models.Membership{
		UserID:                 ownerID,
		Tier:                   string(tier),
		Active:                 true,
		ProviderSubscriptionID: subID,
	}); err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	if changed {
		content := fmt.Sprintf("Your membership is now %s.", tier)
		if err := s.repo.CreateNotification(ownerID, models.NotificationTypePlanChanged, content, 0); err != nil {
			s.log.Warn().Err(err).Uint("user_id", ownerID).Msg("plan change notification failed")
		}
	}
	s.log.Info().Uint("user_id", ownerID).Str("tier", string(tier)).Msg("membership granted")
	return nil
}

func (s *Service) revoke(kind entitlements.OwnerKind, ownerID uint, subID string) error {
	baseline := entitlements.Baseline(kind)
	if kind == entitlements.OwnerKindBusiness {
		if err := s.repo.SetBusinessPlan(ownerID, string(baseline), false, subID); err != nil {
			return fmt.Errorf("revoke business plan: %w", err)
		}
		s.log.Info().Uint("business_id", ownerID).Msg("business plan revoked")
		return nil
	}

	if err := s.repo.SetUserPlan(ownerID, string(baseline)); err != nil {
		return fmt.Errorf("revoke user plan: %w", err)
	}
	if err := s.repo.UpsertMembership(&models.Membership{
		UserID:                 ownerID,
		Tier:                   string(baseline),
		Active:                 false,
		ProviderSubscriptionID: subID,
	}); err != nil {
		return fmt.Errorf("deactivate membership: %w", err)
	}
	s.log.Info().Uint("user_id", ownerID).Msg("membership revoked")
	return nil
}

// ReconcileOwner recomputes the best effective tier for an owner from the
// stored subscriptions and writes it onto the aggregate. Used by the
// operator resync endpoint; the result matches what replaying every stored
// snapshot through Apply would produce.
func (s *Service) ReconcileOwner(ctx context.Context, kind entitlements.OwnerKind, ownerID uint) (entitlements.Tier, error) {
	_ = ctx
	if ownerID == 0 {
		return "", errors.New("owner_id is required")
	}

	subs, err := s.repo.ListSubscriptionsByOwner(string(kind), ownerID)
	if err != nil {
		return "", err
	}

	best := entitlements.Baseline(kind)
	bestSubID := ""
	for _, sub := range subs {
		if !isGrantingStatus(sub.Status) {
			continue
		}
		candidate := entitlements.Normalize(sub.Tier, kind)
		if entitlements.Rank(candidate) >= entitlements.Rank(best) {
			best = candidate
			bestSubID = sub.ProviderSubscriptionID
		}
	}

	if bestSubID != "" {
		if err := s.grant(kind, ownerID, best, bestSubID); err != nil {
			return "", err
		}
		return best, nil
	}
	if err := s.revoke(kind, ownerID, ""); err != nil {
		return "", err
	}
	return best, nil
}

// EnsureCustomerLinkage stores (or refreshes) the actor -> provider customer
// mapping. At most one linkage per actor; rows are never deleted.
func (s *Service) EnsureCustomerLinkage(ctx context.Context, userID uint, businessID *uint, providerCustomerID, email, name string) error {
	_ = ctx
	if userID == 0 || strings.TrimSpace(providerCustomerID) == "" {
		return errors.New("user_id and provider_customer_id are required")
	}
	return s.repo.UpsertBillingCustomer(&models.BillingCustomer{
		UserID:             userID,
		BusinessID:         businessID,
		Provider:           models.BillingProviderStripe,
		ProviderCustomerID: strings.TrimSpace(providerCustomerID),
		Email:              strings.TrimSpace(email),
		Name:               strings.TrimSpace(name),
	})
}
