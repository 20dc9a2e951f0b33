package reservation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"studyroom-backend/internal/model"
	"studyroom-backend/internal/store"
)

// BookingRequest is the inbound intent to reserve one or two slots.
// Participants lists the other members of a group booking; the requester
// is always part of the party.
type BookingRequest struct {
	MemberID     int64
	SlotIDs      []int64
	Participants []int64
}

// PartySize returns the number of seats the booking takes.
func (r *BookingRequest) PartySize() int {
	return 1 + len(r.Participants)
}

// memberIDs returns the requester plus all participants.
func (r *BookingRequest) memberIDs() []int64 {
	return append([]int64{r.MemberID}, r.Participants...)
}

// Intent is a validated booking, carrying the sorted slot ids and the
// derived attributes the Reservation record is built from.
type Intent struct {
	Request   BookingRequest
	SlotIDs   []int64 // ascending
	RoomID    int64
	RoomKind  model.RoomKind
	Date      string
	StartAt   time.Time
	EndAt     time.Time
	PartySize int
}

// Validator runs the cheap, non-locking precondition checks before any
// lock is taken. Everything here is advisory: the Coordinator re-checks
// authoritatively under the lock.
type Validator struct {
	store store.Store
	now   func() time.Time
}

// NewValidator creates a validator reading through the given store.
func NewValidator(s store.Store) *Validator {
	return &Validator{store: s, now: time.Now}
}

// Validate checks the request without side effects and returns the
// normalized booking intent.
func (v *Validator) Validate(ctx context.Context, req BookingRequest) (*Intent, error) {
	if len(req.SlotIDs) < 1 || len(req.SlotIDs) > 2 {
		return nil, validationErr(ReasonSlotNotFound, "a booking spans 1 or 2 slots, got %d", len(req.SlotIDs))
	}

	ids := append([]int64(nil), req.SlotIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) == 2 && ids[0] == ids[1] {
		return nil, validationErr(ReasonSlotsNotAdjacent, "duplicate slot id %d", ids[0])
	}

	slots, err := v.store.FetchSlots(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("validator slot fetch: %w", err)
	}
	if len(slots) != len(ids) {
		return nil, validationErr(ReasonSlotNotFound, "%d of %d slots not found", len(ids)-len(slots), len(ids))
	}

	first := slots[0]
	for _, slot := range slots {
		if slot.Status == model.SlotUnavailable {
			return nil, validationErr(ReasonSlotUnavailable, "slot %d is unavailable", slot.ID)
		}
		if !slot.StartAt.After(v.now()) {
			return nil, validationErr(ReasonSlotNotBiddable, "slot %d has already started", slot.ID)
		}
		if slot.RoomID != first.RoomID {
			return nil, validationErr(ReasonSlotsNotAdjacent, "slots span different rooms")
		}
	}
	if len(slots) == 2 && !slots[0].EndAt.Equal(slots[1].StartAt) {
		return nil, validationErr(ReasonSlotsNotAdjacent, "slots %d and %d are not consecutive", slots[0].ID, slots[1].ID)
	}

	party := req.PartySize()
	if party > 1 {
		if first.RoomKind == model.RoomKindIndividual {
			return nil, validationErr(ReasonRoomKind, "room %d is an individual room", first.RoomID)
		}
		if party < first.MinOccupancy || party > first.Capacity {
			return nil, validationErr(ReasonPartySize,
				"party of %d outside room bounds [%d, %d]", party, first.MinOccupancy, first.Capacity)
		}
	}

	blocked, err := v.membersWithOpenReservation(ctx, req.memberIDs())
	if err != nil {
		return nil, fmt.Errorf("validator open-reservation check: %w", err)
	}
	if len(blocked) > 0 {
		return nil, validationErr(ReasonDuplicateBooking, "member %d already has an open reservation", blocked[0])
	}

	return &Intent{
		Request:   req,
		SlotIDs:   ids,
		RoomID:    first.RoomID,
		RoomKind:  first.RoomKind,
		Date:      first.Date,
		StartAt:   slots[0].StartAt,
		EndAt:     slots[len(slots)-1].EndAt,
		PartySize: party,
	}, nil
}

func (v *Validator) membersWithOpenReservation(ctx context.Context, memberIDs []int64) ([]int64, error) {
	var blocked []int64
	err := v.store.DB().WithContext(ctx).
		Model(&model.Reservation{}).
		Distinct("member_id").
		Where("member_id IN ? AND status IN ?", memberIDs, model.OpenStatuses).
		Pluck("member_id", &blocked).Error
	if err != nil {
		return nil, err
	}
	if len(blocked) > 0 {
		return blocked, nil
	}

	// Membership in someone else's open group booking blocks too.
	err = v.store.DB().WithContext(ctx).
		Table("reservation_participants").
		Joins("JOIN reservations ON reservations.id = reservation_participants.reservation_id").
		Where("reservation_participants.member_id IN ? AND reservations.status IN ?", memberIDs, model.OpenStatuses).
		Distinct("reservation_participants.member_id").
		Pluck("reservation_participants.member_id", &blocked).Error
	if err != nil {
		return nil, err
	}
	return blocked, nil
}
