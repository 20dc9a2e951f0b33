package reservation

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"gorm.io/gorm"

	"studyroom-backend/internal/model"
	"studyroom-backend/internal/slotlock"
	"studyroom-backend/internal/store"
)

// Coordinator is the serialization boundary for slot mutation. Every
// operation that touches slot occupancy (booking, release, compensation)
// goes through here and acquires the slot set in ascending id order, so
// overlapping requests are totally ordered and cannot deadlock.
type Coordinator struct {
	store    store.Store
	locks    *slotlock.Manager
	lockWait time.Duration
}

// NewCoordinator creates a coordinator with the given bounded lock wait.
func NewCoordinator(s store.Store, locks *slotlock.Manager, lockWait time.Duration) *Coordinator {
	return &Coordinator{store: s, locks: locks, lockWait: lockWait}
}

// Reserve locks the intent's slot set, re-validates under the lock, and
// mutates occupancy/status in one dedicated short transaction. It returns
// the mutated slots for the caller to build the Reservation from. A lock
// wait past the bound yields ErrContention (retryable); a capacity or
// availability failure under the lock yields a ValidationError (not
// retryable). Any error aborts the whole transaction.
func (c *Coordinator) Reserve(ctx context.Context, intent *Intent) ([]model.Slot, error) {
	ids := sortedIDs(intent.SlotIDs)

	lockCtx, cancel := context.WithTimeout(ctx, c.lockWait)
	defer cancel()
	release, err := c.locks.Acquire(lockCtx, ids)
	if err != nil {
		return nil, ErrContention
	}
	defer release()

	var out []model.Slot
	err = c.store.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c.applyLockTimeout(tx)

		slots, err := c.store.LockSlots(tx, ids)
		if err != nil {
			return err
		}
		if err := revalidate(slots, intent); err != nil {
			return err
		}
		out, err = c.store.ApplyBooking(tx, slots, intent.PartySize)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReleaseSlots reverts or releases occupancy on the given slot set in its
// own transaction: n seats are freed on every slot. Used by cancellation
// and by compensation after a failed booking; both paths take the same
// locks in the same order as Reserve. The lock wait is bounded like
// Reserve's; a deadline already on ctx (compensation's wider one) takes
// precedence.
func (c *Coordinator) ReleaseSlots(ctx context.Context, slotIDs []int64, n int) error {
	ids := sortedIDs(slotIDs)

	lockCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, c.lockWait)
		defer cancel()
	}
	release, err := c.locks.Acquire(lockCtx, ids)
	if err != nil {
		return ErrContention
	}
	defer release()

	return c.store.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c.applyLockTimeout(tx)

		slots, err := c.store.LockSlots(tx, ids)
		if err != nil {
			return err
		}
		for i := range slots {
			if err := c.store.Release(tx, &slots[i], n); err != nil {
				return err
			}
		}
		return nil
	})
}

// Compensate undoes a committed Reserve after a later step failed. It runs
// in its own transaction with a fresh, generous deadline so it succeeds
// even while the surrounding request is unwinding.
func (c *Coordinator) Compensate(slotIDs []int64, n int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*c.lockWait)
	defer cancel()
	if err := c.ReleaseSlots(ctx, slotIDs, n); err != nil {
		log.Printf("SEVERE: compensation failed for slots %v (n=%d): %v", slotIDs, n, err)
		return fmt.Errorf("compensation failed: %w", err)
	}
	return nil
}

// sortedIDs returns a defensive ascending copy of the slot id set.
func sortedIDs(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// applyLockTimeout bounds the row-lock wait inside the transaction on
// backends that support it. SQLite serializes writers on its own.
func (c *Coordinator) applyLockTimeout(tx *gorm.DB) {
	if tx.Dialector.Name() == "postgres" {
		tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", c.lockWait.Milliseconds()))
	}
}

// revalidate is the authoritative availability check, run only while the
// slot rows are locked.
func revalidate(slots []model.Slot, intent *Intent) error {
	for _, slot := range slots {
		if slot.Status == model.SlotUnavailable {
			return validationErr(ReasonSlotUnavailable, "slot %d is unavailable", slot.ID)
		}
		switch intent.RoomKind {
		case model.RoomKindIndividual:
			if slot.Status == model.SlotReserved || slot.Occupancy >= slot.Capacity {
				return validationErr(ReasonCapacityExceeded, "slot %d is full", slot.ID)
			}
		case model.RoomKindGroup:
			if slot.Occupancy != 0 || slot.Status != model.SlotAvailable {
				return validationErr(ReasonCapacityExceeded, "slot %d is already taken", slot.ID)
			}
			if intent.PartySize < slot.MinOccupancy || intent.PartySize > slot.Capacity {
				return validationErr(ReasonPartySize,
					"party of %d outside slot %d bounds [%d, %d]",
					intent.PartySize, slot.ID, slot.MinOccupancy, slot.Capacity)
			}
		}
	}
	return nil
}
