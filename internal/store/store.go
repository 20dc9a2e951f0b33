package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"studyroom-backend/internal/model"
)

// Store defines the slot persistence operations. Mutating methods take the
// enclosing transaction handle and expect the rows to be locked through
// LockSlots first; entity invariants (occupancy bounds, status/occupancy
// coupling) are enforced on every mutation. Business validation does not
// live here.
type Store interface {
	DB() *gorm.DB
	FetchSlots(ctx context.Context, ids []int64) ([]model.Slot, error)
	LockSlots(tx *gorm.DB, sortedIDs []int64) ([]model.Slot, error)
	ApplyBooking(tx *gorm.DB, slots []model.Slot, party int) ([]model.Slot, error)
	Release(tx *gorm.DB, slot *model.Slot, n int) error
	SeedSlots(ctx context.Context, slots []model.Slot) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// DB exposes the underlying handle for read-only queries and transactions.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// FetchSlots loads slots by id without taking any locks. Advisory reads
// only; nothing read here may be used to decide a mutation.
func (s *gormStore) FetchSlots(ctx context.Context, ids []int64) ([]model.Slot, error) {
	var slots []model.Slot
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&slots).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch slots: %w", err)
	}
	return slots, nil
}

// LockSlots takes write locks on the given slot rows for the duration of tx.
// The ids must already be sorted ascending; the query orders by id so the
// row locks are taken in the same universal order on every code path.
// SQLite has no row locks and serializes writers itself, so the locking
// clause is applied only on postgres.
func (s *gormStore) LockSlots(tx *gorm.DB, sortedIDs []int64) ([]model.Slot, error) {
	q := tx
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var slots []model.Slot
	if err := q.
		Where("id IN ?", sortedIDs).
		Order("id").
		Find(&slots).Error; err != nil {
		return nil, fmt.Errorf("failed to lock slots: %w", err)
	}
	if len(slots) != len(sortedIDs) {
		return nil, &IntegrityError{
			Op:     "lock",
			Detail: fmt.Sprintf("expected %d slots, found %d", len(sortedIDs), len(slots)),
		}
	}
	return slots, nil
}

// ApplyBooking mutates occupancy and status on locked slots: +1 for an
// individual room, set-to-party-size for a group room. The caller has
// already validated capacity under the lock; the checks here are the
// entity-invariant backstop.
func (s *gormStore) ApplyBooking(tx *gorm.DB, slots []model.Slot, party int) ([]model.Slot, error) {
	out := make([]model.Slot, len(slots))
	for i, slot := range slots {
		switch slot.RoomKind {
		case model.RoomKindIndividual:
			slot.Occupancy++
		case model.RoomKindGroup:
			if slot.Occupancy != 0 {
				return nil, &IntegrityError{
					Op:     "book",
					SlotID: slot.ID,
					Detail: fmt.Sprintf("group slot already occupied (occupancy=%d)", slot.Occupancy),
				}
			}
			slot.Occupancy = party
		}
		if slot.Occupancy > slot.Capacity {
			return nil, &IntegrityError{
				Op:     "book",
				SlotID: slot.ID,
				Detail: fmt.Sprintf("occupancy %d exceeds capacity %d", slot.Occupancy, slot.Capacity),
			}
		}
		if slot.Occupancy == slot.Capacity {
			slot.Status = model.SlotReserved
		}
		if err := tx.Save(&slot).Error; err != nil {
			return nil, fmt.Errorf("failed to save slot %d: %w", slot.ID, err)
		}
		out[i] = slot
	}
	return out, nil
}

// Release decrements a locked slot's occupancy by n and flips it back to
// AVAILABLE once below capacity. Occupancy never goes negative.
func (s *gormStore) Release(tx *gorm.DB, slot *model.Slot, n int) error {
	if n <= 0 {
		return nil
	}
	if slot.Occupancy-n < 0 {
		return &IntegrityError{
			Op:     "release",
			SlotID: slot.ID,
			Detail: fmt.Sprintf("release of %d would make occupancy %d negative", n, slot.Occupancy),
		}
	}
	slot.Occupancy -= n
	if slot.Status == model.SlotReserved && slot.Occupancy < slot.Capacity {
		slot.Status = model.SlotAvailable
	}
	if err := tx.Save(slot).Error; err != nil {
		return fmt.Errorf("failed to save slot %d: %w", slot.ID, err)
	}
	return nil
}

// SeedSlots batch-inserts generated slots, ignoring duplicates of the
// (room, date, start) key. Used by the daily generation hook and tests.
func (s *gormStore) SeedSlots(ctx context.Context, slots []model.Slot) error {
	if len(slots) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}, {Name: "date"}, {Name: "start_at"}},
		DoNothing: true,
	}).Create(&slots).Error; err != nil {
		return fmt.Errorf("batch insert slots failed: %w", err)
	}
	return nil
}
