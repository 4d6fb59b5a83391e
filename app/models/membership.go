package models

import "time"

// Membership is a user's plan record. Active + Tier mirror the entitling
// BillingSubscription; a row stays around after revocation with Active=false
// so the linkage history survives.
type Membership struct {
	ID                     uint      `gorm:"primaryKey" json:"id"`
	UserID                 uint      `gorm:"not null;uniqueIndex:ux_memberships_user_id" json:"user_id"`
	Tier                   string    `gorm:"type:varchar(50);not null;default:'FREE'" json:"tier"`
	Active                 bool      `gorm:"default:false;index" json:"active"`
	ProviderSubscriptionID string    `gorm:"type:varchar(191);default:''" json:"provider_subscription_id"`
	CreatedAt              time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
