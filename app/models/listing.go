package models

import (
	"time"

	"gorm.io/gorm"
)

// Listing is a classified listing. BoostedUntil is the one-time purchase
// side effect target: a paid boost checkout pushes it forward once per
// provider event.
type Listing struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	UserID       uint           `gorm:"not null;index" json:"user_id"`
	BusinessID   *uint          `gorm:"index" json:"business_id,omitempty"`
	Title        string         `gorm:"type:varchar(200);not null" json:"title" validate:"required,min=3,max=200"`
	Description  string         `gorm:"type:text" json:"description"`
	Status       string         `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	BoostedUntil *time.Time     `gorm:"type:timestamp;default:null;index" json:"boosted_until,omitempty"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsBoosted reports whether the listing currently has an active boost.
func (l *Listing) IsBoosted(now time.Time) bool {
	return l.BoostedUntil != nil && l.BoostedUntil.After(now)
}
