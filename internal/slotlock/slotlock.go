package slotlock

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrTimeout is returned when the lock set could not be acquired within
// the caller's deadline. It signals contention, not a durable failure.
var ErrTimeout = errors.New("slotlock: acquire timed out")

// Manager hands out per-slot mutual exclusion. Every caller acquires its
// slot set in ascending id order, which totally orders overlapping
// requests and rules out deadlock between them.
type Manager struct {
	mu    sync.Mutex
	locks map[int64]chan struct{}
}

// NewManager creates an empty lock manager.
func NewManager() *Manager {
	return &Manager{locks: make(map[int64]chan struct{})}
}

func (m *Manager) lockFor(id int64) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = make(chan struct{}, 1)
		m.locks[id] = l
	}
	return l
}

// Acquire takes the locks for the given slot ids, in ascending order,
// waiting at most until ctx is done. On success it returns a release
// function; on timeout it releases everything already held and returns
// ErrTimeout. Duplicate ids are collapsed.
func (m *Manager) Acquire(ctx context.Context, ids []int64) (func(), error) {
	sorted := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			sorted = append(sorted, id)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	held := make([]chan struct{}, 0, len(sorted))
	release := func() {
		// Release in reverse acquisition order.
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}

	for _, id := range sorted {
		l := m.lockFor(id)
		select {
		case l <- struct{}{}:
			held = append(held, l)
		case <-ctx.Done():
			release()
			return nil, ErrTimeout
		}
	}
	return release, nil
}
