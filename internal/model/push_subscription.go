package model

import "time"

// PushSubscription holds the information for a browser push subscription.
// A member may register several browsers; notices about their reservations
// (penalties, no-shows) fan out to all of them.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	MemberID  int64     `gorm:"index;not null"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}
