package models

import (
	"time"

	"gorm.io/gorm"
)

// Business is a business profile on the platform. The plan fields are the
// cached entitlement derived from the owning BillingSubscription; they are
// only ever written by the billing synchronizer.
type Business struct {
	ID                     uint           `gorm:"primaryKey" json:"id"`
	OwnerUserID            uint           `gorm:"not null;index" json:"owner_user_id"`
	Name                   string         `gorm:"type:varchar(200);not null" json:"name" validate:"required,min=2,max=200"`
	Slug                   string         `gorm:"type:varchar(200);uniqueIndex:ux_businesses_slug" json:"slug"`
	Plan                   string         `gorm:"type:varchar(50);not null;default:'BUSINESS_BASIC';index" json:"plan"`
	PlanActive             bool           `gorm:"default:false" json:"plan_active"`
	ProviderSubscriptionID string         `gorm:"type:varchar(191);default:''" json:"provider_subscription_id"`
	CreatedAt              time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt              gorm.DeletedAt `gorm:"index" json:"-"`
}
