package models

import "time"

// Billing provider constants used across billing-related models.
const (
	BillingProviderStripe = "stripe"
)

// BillingCustomer links one internal actor (a user, optionally acting for a
// business) to a provider-assigned customer id. Created on first checkout or
// portal request; at most one row per actor; never deleted.
type BillingCustomer struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	UserID             uint      `gorm:"not null;index:ux_billing_customers_owner,unique,priority:1" json:"user_id"`
	BusinessID         *uint     `gorm:"index:ux_billing_customers_owner,unique,priority:2" json:"business_id,omitempty"`
	Provider           string    `gorm:"type:varchar(20);not null;default:'stripe';index:ux_billing_customers_provider_cust,unique,priority:1" json:"provider"`
	ProviderCustomerID string    `gorm:"type:varchar(191);not null;index:ux_billing_customers_provider_cust,unique,priority:2" json:"provider_customer_id"`
	Email              string    `gorm:"type:varchar(200);default:''" json:"email"`
	Name               string    `gorm:"type:varchar(200);default:''" json:"name"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
