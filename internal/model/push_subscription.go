package model

import "time"

// PushSubscription holds the information for a staff device's browser push subscription.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`

	// Associations
	Branches []*Branch `gorm:"many2many:subscription_branch_mapping;"`
}
