package model

import "time"

// Member is a read-only projection of the external member directory.
// The core never creates or mutates members; it only resolves ids and
// reads the penalty flag.
type Member struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"uniqueIndex;size:256;not null" json:"email"`
	Name      string    `gorm:"size:128;not null" json:"name"`
	Penalized bool      `gorm:"not null" json:"penalized"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}
