// Package slots tracks tenant-wide in-flight dial slots, the optional cap
// layered above the per-broadcast concurrency ceiling. A slot is acquired
// when the dispatcher hands a call to the provider and released when the
// item leaves the in-flight states, whether through a terminal callback or
// a sweeper reclaim.
package slots

import (
	"context"
	"sync"
)

// Slots is the acquire/release contract for the tenant dial cap. A nil
// Slots means the cap is disabled.
type Slots interface {
	Acquire(ctx context.Context, tenantID string) (bool, error)
	// Release frees n slots. Implementations clamp at zero so releasing a
	// slot that was never acquired (cap enabled mid-run) is harmless.
	Release(ctx context.Context, tenantID string, n int) error
}

// MemorySlots is an in-memory Slots for tests.
type MemorySlots struct {
	mu    sync.Mutex
	limit int
	held  map[string]int
}

func NewMemorySlots(limit int) *MemorySlots {
	return &MemorySlots{limit: limit, held: make(map[string]int)}
}

func (s *MemorySlots) Acquire(ctx context.Context, tenantID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held[tenantID] >= s.limit {
		return false, nil
	}
	s.held[tenantID]++
	return true, nil
}

func (s *MemorySlots) Release(ctx context.Context, tenantID string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 {
		return nil
	}
	s.held[tenantID] -= n
	if s.held[tenantID] <= 0 {
		delete(s.held, tenantID)
	}
	return nil
}

// Held reports the tenant's current slot count (test inspection helper).
func (s *MemorySlots) Held(tenantID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held[tenantID]
}
