package model

import "time"

// ReservationStatus is the lifecycle state of a booking.
type ReservationStatus string

const (
	StatusReserved  ReservationStatus = "RESERVED"
	StatusEntrance  ReservationStatus = "ENTRANCE"
	StatusLate      ReservationStatus = "LATE"
	StatusNoShow    ReservationStatus = "NO_SHOW"
	StatusCompleted ReservationStatus = "COMPLETED"
	StatusCancelled ReservationStatus = "CANCELLED"
)

// OpenStatuses are the statuses that count against the one-active-
// reservation-per-member rule.
var OpenStatuses = []ReservationStatus{StatusReserved, StatusEntrance}

// Reservation is one booking by a member against one or two adjacent slots
// of the same room. Status only ever moves forward; CANCELLED is terminal.
type Reservation struct {
	ID           int64             `gorm:"primaryKey" json:"id"`
	MemberID     int64             `gorm:"index:idx_member_status;not null" json:"member_id"`
	FirstSlotID  int64             `gorm:"not null" json:"first_slot_id"`
	SecondSlotID *int64            `json:"second_slot_id,omitempty"`
	RoomID       int64             `gorm:"not null" json:"room_id"`
	Date         string            `gorm:"size:10;not null" json:"date"`
	StartAt      time.Time         `gorm:"not null" json:"start_at"`
	EndAt        time.Time         `gorm:"not null" json:"end_at"`
	PartySize    int               `gorm:"not null" json:"party_size"`
	Status       ReservationStatus `gorm:"size:16;index:idx_member_status;not null" json:"status"`
	QRToken      *string           `gorm:"uniqueIndex;size:64" json:"-"`
	EnteredAt    *time.Time        `json:"entered_at,omitempty"`
	ExitedAt     *time.Time        `json:"exited_at,omitempty"`
	ReleasedAt   *time.Time        `json:"-"` // seats freed after cancellation
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"-"`

	// Associations
	Participants []*Member `gorm:"many2many:reservation_participants;" json:"participants,omitempty"`
}

// SlotIDs returns the booked slot ids in ascending order.
func (r *Reservation) SlotIDs() []int64 {
	ids := []int64{r.FirstSlotID}
	if r.SecondSlotID != nil {
		ids = append(ids, *r.SecondSlotID)
	}
	return ids
}

// Open reports whether the reservation still blocks the member from
// making another booking.
func (r *Reservation) Open() bool {
	return r.Status == StatusReserved || r.Status == StatusEntrance
}
