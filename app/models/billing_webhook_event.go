package models

import "time"

// BillingWebhookEvent is the idempotency anchor for webhook processing.
// One row per provider event id: Attempts increments once per observed
// delivery, Processed flips false->true exactly once and never back.
type BillingWebhookEvent struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Provider        string    `gorm:"type:varchar(20);not null;default:'stripe';index:ux_billing_webhook_events_provider_event,unique,priority:1" json:"provider"`
	ProviderEventID string    `gorm:"type:varchar(191);not null;index:ux_billing_webhook_events_provider_event,unique,priority:2" json:"provider_event_id"`
	EventType       string    `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON     string    `gorm:"type:longtext;not null" json:"payload_json"`
	Processed       bool      `gorm:"default:false;index" json:"processed"`
	Attempts        int       `gorm:"not null;default:0" json:"attempts"`
	LastError       string    `gorm:"type:text" json:"last_error"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
