package models

import "time"

const (
	BillingStatusActive     = "active"
	BillingStatusTrialing   = "trialing"
	BillingStatusPastDue    = "past_due"
	BillingStatusCanceled   = "canceled"
	BillingStatusUnpaid     = "unpaid"
	BillingStatusIncomplete = "incomplete"
)

const (
	OwnerKindUser     = "user"
	OwnerKindBusiness = "business"
)

// BillingSubscription mirrors a provider subscription. Upserts are keyed on
// ProviderSubscriptionID only, never on owner, so repeated application of
// the same snapshot is safe. Rows are never hard-deleted; cancellation is a
// status transition kept for audit.
type BillingSubscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	Provider               string     `gorm:"type:varchar(20);not null;default:'stripe';index:ux_billing_subscriptions_provider_subid,unique,priority:1" json:"provider"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);not null;index:ux_billing_subscriptions_provider_subid,unique,priority:2" json:"provider_subscription_id"`
	ProviderCustomerID     string     `gorm:"type:varchar(191);not null;index" json:"provider_customer_id"`
	OwnerID                uint       `gorm:"not null;index:idx_billing_subscriptions_owner,priority:2" json:"owner_id"`
	OwnerKind              string     `gorm:"type:varchar(16);not null;index:idx_billing_subscriptions_owner,priority:1" json:"owner_kind"`
	Tier                   string     `gorm:"type:varchar(50);not null;default:'FREE'" json:"tier"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'incomplete';index" json:"status"`
	CurrentPeriodStart     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAt               *time.Time `gorm:"type:timestamp;default:null" json:"cancel_at,omitempty"`
	CanceledAt             *time.Time `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	TrialEndsAt            *time.Time `gorm:"type:timestamp;default:null" json:"trial_ends_at,omitempty"`
	ProviderUpdatedAt      *time.Time `gorm:"type:timestamp;default:null" json:"provider_updated_at,omitempty"`
	RawMetadataJSON        string     `gorm:"type:longtext" json:"raw_metadata_json"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
