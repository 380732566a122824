package model

import "time"

// PushSubscription is an operator's browser push subscription for device
// synchronization alerts of the dormitories it follows.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`

	// Associations
	Dormitories []*Dormitory `gorm:"many2many:subscription_dormitory_mapping;"`
}
