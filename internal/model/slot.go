package model

import "time"

// RoomKind distinguishes individual study rooms from group rooms.
type RoomKind string

const (
	RoomKindIndividual RoomKind = "INDIVIDUAL"
	RoomKindGroup      RoomKind = "GROUP"
)

// SlotStatus is the availability state of a bookable slot.
type SlotStatus string

const (
	SlotAvailable   SlotStatus = "AVAILABLE"
	SlotReserved    SlotStatus = "RESERVED"
	SlotUnavailable SlotStatus = "UNAVAILABLE"
)

// Slot is one bookable room/time unit. Rows are created by the daily
// generation job and mutated only inside a locked transaction; they are
// never deleted.
type Slot struct {
	ID           int64      `gorm:"primaryKey" json:"id"`
	RoomID       int64      `gorm:"uniqueIndex:idx_room_date_start;not null" json:"room_id"`
	RoomKind     RoomKind   `gorm:"size:16;not null" json:"room_kind"`
	Date         string     `gorm:"uniqueIndex:idx_room_date_start;size:10;not null" json:"date"`
	StartAt      time.Time  `gorm:"uniqueIndex:idx_room_date_start;not null" json:"start_at"`
	EndAt        time.Time  `gorm:"not null" json:"end_at"`
	Capacity     int        `gorm:"not null" json:"capacity"`
	MinOccupancy int        `gorm:"not null" json:"min_occupancy"`
	Occupancy    int        `gorm:"not null" json:"occupancy"`
	Status       SlotStatus `gorm:"size:16;not null" json:"status"`
	CreatedAt    time.Time  `json:"-"`
	UpdatedAt    time.Time  `json:"-"`
}

// Remaining returns the number of seats still bookable.
func (s *Slot) Remaining() int {
	return s.Capacity - s.Occupancy
}
