package billing

import (
	"errors"
	"time"

	"github.com/quartiero/quartiero/internal/pkg/entitlements"
)

// SubscriptionSnapshot is the normalized shape fed into Apply by both the
// webhook path and the checkout confirmation path. ObservedAt is the
// provider-side recency watermark (event creation time or fetch time) used
// to reject stale, out-of-order snapshots.
type SubscriptionSnapshot struct {
	OwnerID                uint
	OwnerKind              entitlements.OwnerKind
	ProviderSubscriptionID string
	ProviderCustomerID     string
	Status                 string
	Tier                   entitlements.Tier
	CurrentPeriodStart     *time.Time
	CurrentPeriodEnd       *time.Time
	TrialEndsAt            *time.Time
	CancelAt               *time.Time
	CanceledAt             *time.Time
	ObservedAt             time.Time
	RawMetadataJSON        string
}

// ClaimResult reports the outcome of a ledger claim for a webhook event id.
type ClaimResult struct {
	EventRecordID    uint
	AlreadyProcessed bool
	Attempt          int
}

// ConfirmResult is returned to the client after a successful checkout
// confirmation.
type ConfirmResult struct {
	CustomerID     string
	SubscriptionID string
	Tier           entitlements.Tier
}

var (
	// ErrNoLinkage marks events that reference a provider customer or
	// subscription with no matching internal owner. Terminal: acknowledged,
	// never retried.
	ErrNoLinkage = errors.New("billing: no internal owner linked to provider customer")

	// ErrNotSessionOwner is returned when a checkout confirmation is attempted
	// by a caller who does not own the session.
	ErrNotSessionOwner = errors.New("billing: checkout session not owned by caller")

	// ErrSessionIncomplete is returned when a confirmation references a
	// session that has not completed payment or carries no subscription.
	ErrSessionIncomplete = errors.New("billing: checkout session not completed")
)
