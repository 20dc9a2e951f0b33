package reservation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"studyroom-backend/internal/model"
	"studyroom-backend/internal/store"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&model.Member{}, &model.Slot{}, &model.Reservation{}, &model.PushSubscription{}))
	return db
}

func seedMembers(t *testing.T, db *gorm.DB, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		m := model.Member{ID: int64(i), Email: fmt.Sprintf("m%d@example.com", i), Name: fmt.Sprintf("member %d", i)}
		require.NoError(t, db.Create(&m).Error)
	}
}

// seedSlots inserts count consecutive hourly slots for one room starting
// at start.
func seedSlots(t *testing.T, db *gorm.DB, roomID int64, kind model.RoomKind, capacity, minOcc, count int, start time.Time) []model.Slot {
	t.Helper()
	slots := make([]model.Slot, count)
	for i := 0; i < count; i++ {
		s := start.Add(time.Duration(i) * time.Hour)
		slots[i] = model.Slot{
			RoomID:       roomID,
			RoomKind:     kind,
			Date:         s.Format("2006-01-02"),
			StartAt:      s,
			EndAt:        s.Add(time.Hour),
			Capacity:     capacity,
			MinOccupancy: minOcc,
			Status:       model.SlotAvailable,
		}
	}
	require.NoError(t, db.Create(&slots).Error)
	return slots
}

func reasonOf(t *testing.T, err error) Reason {
	t.Helper()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	return verr.Reason
}

func TestValidateIndividualBooking(t *testing.T) {
	db := newTestDB(t)
	seedMembers(t, db, 1)
	slots := seedSlots(t, db, 1, model.RoomKindIndividual, 1, 0, 2, time.Now().Add(2*time.Hour))

	v := NewValidator(store.NewGormStore(db))
	intent, err := v.Validate(context.Background(), BookingRequest{
		MemberID: 1,
		SlotIDs:  []int64{slots[1].ID, slots[0].ID}, // out of order on purpose
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{slots[0].ID, slots[1].ID}, intent.SlotIDs)
	assert.Equal(t, 1, intent.PartySize)
	assert.WithinDuration(t, slots[0].StartAt, intent.StartAt, time.Second)
	assert.WithinDuration(t, slots[1].EndAt, intent.EndAt, time.Second)
}

func TestValidateRejections(t *testing.T) {
	db := newTestDB(t)
	seedMembers(t, db, 5)

	future := time.Now().Add(2 * time.Hour)
	individual := seedSlots(t, db, 1, model.RoomKindIndividual, 1, 0, 3, future)
	group := seedSlots(t, db, 2, model.RoomKindGroup, 4, 2, 1, future)
	past := seedSlots(t, db, 3, model.RoomKindIndividual, 1, 0, 1, time.Now().Add(-2*time.Hour))

	unavailable := model.Slot{
		RoomID: 4, RoomKind: model.RoomKindIndividual, Date: future.Format("2006-01-02"),
		StartAt: future, EndAt: future.Add(time.Hour), Capacity: 1, Status: model.SlotUnavailable,
	}
	require.NoError(t, db.Create(&unavailable).Error)

	// Time-adjacent but different rooms.
	otherRoom := seedSlots(t, db, 5, model.RoomKindIndividual, 1, 0, 1, future.Add(time.Hour))

	v := NewValidator(store.NewGormStore(db))
	ctx := context.Background()

	cases := []struct {
		name   string
		req    BookingRequest
		reason Reason
	}{
		{"unknown slot", BookingRequest{MemberID: 1, SlotIDs: []int64{9999}}, ReasonSlotNotFound},
		{"no slots", BookingRequest{MemberID: 1, SlotIDs: nil}, ReasonSlotNotFound},
		{"three slots", BookingRequest{MemberID: 1, SlotIDs: []int64{1, 2, 3}}, ReasonSlotNotFound},
		{"unavailable slot", BookingRequest{MemberID: 1, SlotIDs: []int64{unavailable.ID}}, ReasonSlotUnavailable},
		{"already started", BookingRequest{MemberID: 1, SlotIDs: []int64{past[0].ID}}, ReasonSlotNotBiddable},
		{"different rooms", BookingRequest{MemberID: 1, SlotIDs: []int64{individual[1].ID, otherRoom[0].ID}}, ReasonSlotsNotAdjacent},
		{"duplicate slot id", BookingRequest{MemberID: 1, SlotIDs: []int64{individual[0].ID, individual[0].ID}}, ReasonSlotsNotAdjacent},
		{"non-consecutive", BookingRequest{MemberID: 1, SlotIDs: []int64{individual[0].ID, individual[2].ID}}, ReasonSlotsNotAdjacent},
		{"group in individual room", BookingRequest{MemberID: 1, SlotIDs: []int64{individual[0].ID}, Participants: []int64{2}}, ReasonRoomKind},
		{"party below minimum", BookingRequest{MemberID: 1, SlotIDs: []int64{group[0].ID}, Participants: nil}, ReasonPartySize},
		{"party above capacity", BookingRequest{MemberID: 1, SlotIDs: []int64{group[0].ID}, Participants: []int64{2, 3, 4, 5}}, ReasonPartySize},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Validate(ctx, tc.req)
			assert.Equal(t, tc.reason, reasonOf(t, err))
		})
	}
}

func TestValidateGroupPartyWithinBoundsPasses(t *testing.T) {
	db := newTestDB(t)
	seedMembers(t, db, 3)
	group := seedSlots(t, db, 1, model.RoomKindGroup, 4, 2, 1, time.Now().Add(2*time.Hour))

	v := NewValidator(store.NewGormStore(db))
	intent, err := v.Validate(context.Background(), BookingRequest{
		MemberID:     1,
		SlotIDs:      []int64{group[0].ID},
		Participants: []int64{2, 3},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, intent.PartySize)
	assert.Equal(t, model.RoomKindGroup, intent.RoomKind)
}

func TestValidateDuplicateBooking(t *testing.T) {
	db := newTestDB(t)
	seedMembers(t, db, 3)
	slots := seedSlots(t, db, 1, model.RoomKindIndividual, 1, 0, 3, time.Now().Add(2*time.Hour))

	open := model.Reservation{
		MemberID: 2, FirstSlotID: slots[0].ID, RoomID: 1, Date: slots[0].Date,
		StartAt: slots[0].StartAt, EndAt: slots[0].EndAt, PartySize: 1,
		Status: model.StatusReserved,
	}
	require.NoError(t, db.Create(&open).Error)

	v := NewValidator(store.NewGormStore(db))
	ctx := context.Background()

	_, err := v.Validate(ctx, BookingRequest{MemberID: 2, SlotIDs: []int64{slots[1].ID}})
	assert.Equal(t, ReasonDuplicateBooking, reasonOf(t, err))

	// A completed reservation does not block a new booking.
	require.NoError(t, db.Model(&model.Reservation{}).
		Where("id = ?", open.ID).
		Update("status", model.StatusCompleted).Error)
	_, err = v.Validate(ctx, BookingRequest{MemberID: 2, SlotIDs: []int64{slots[1].ID}})
	assert.NoError(t, err)
}

func TestValidateParticipantWithOpenReservationBlocksGroup(t *testing.T) {
	db := newTestDB(t)
	seedMembers(t, db, 3)
	future := time.Now().Add(2 * time.Hour)
	individual := seedSlots(t, db, 1, model.RoomKindIndividual, 1, 0, 1, future)
	group := seedSlots(t, db, 2, model.RoomKindGroup, 4, 2, 1, future)

	open := model.Reservation{
		MemberID: 3, FirstSlotID: individual[0].ID, RoomID: 1, Date: individual[0].Date,
		StartAt: individual[0].StartAt, EndAt: individual[0].EndAt, PartySize: 1,
		Status: model.StatusEntrance,
	}
	require.NoError(t, db.Create(&open).Error)

	v := NewValidator(store.NewGormStore(db))
	_, err := v.Validate(context.Background(), BookingRequest{
		MemberID:     1,
		SlotIDs:      []int64{group[0].ID},
		Participants: []int64{2, 3},
	})
	assert.Equal(t, ReasonDuplicateBooking, reasonOf(t, err))
}
