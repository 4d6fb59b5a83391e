package models

import "time"

const (
	PaymentOutcomeSucceeded = "succeeded"
	PaymentOutcomeFailed    = "failed"
)

// PaymentRecord is an audit row for payment-intent events. It never carries
// entitlement effects; it exists so operators can trace provider payments.
type PaymentRecord struct {
	ID                      uint      `gorm:"primaryKey" json:"id"`
	Provider                string    `gorm:"type:varchar(20);not null;default:'stripe'" json:"provider"`
	ProviderPaymentIntentID string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_payment_records_provider_pi" json:"provider_payment_intent_id"`
	ProviderCustomerID      string    `gorm:"type:varchar(191);default:'';index" json:"provider_customer_id"`
	AmountCents             int64     `gorm:"not null;default:0" json:"amount_cents"`
	Currency                string    `gorm:"type:varchar(8);default:''" json:"currency"`
	Outcome                 string    `gorm:"type:varchar(16);not null;index" json:"outcome"`
	FailureMessage          string    `gorm:"type:text" json:"failure_message"`
	CreatedAt               time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt               time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
