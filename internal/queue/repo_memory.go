package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and early development.
// It honors the same invariants as the Postgres implementation: dedupe on
// (broadcast_id, phone_number), conditional transitions, insertion-order
// claims.
type MemoryRepo struct {
	mu    sync.Mutex
	items map[string]WorkItem // key: item id
	seq   int

	// Clock is injectable for deterministic staleness tests.
	Clock func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{items: map[string]WorkItem{}, Clock: time.Now}
}

func (r *MemoryRepo) now() time.Time { return r.Clock().UTC() }

// Put inserts or replaces an item unconditionally (test setup helper).
// Zero timestamps are stamped from the repo clock, keeping insertion order
// and staleness meaningful for seeded items.
func (r *MemoryRepo) Put(it WorkItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if it.CreatedAt.IsZero() {
		it.CreatedAt = r.now().Add(time.Duration(r.seq) * time.Nanosecond)
	}
	if it.UpdatedAt.IsZero() {
		it.UpdatedAt = it.CreatedAt
	}
	r.items[it.ID] = it
}

// Get returns an item by id (test inspection helper).
func (r *MemoryRepo) Get(id string) (WorkItem, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	return it, ok
}

func (r *MemoryRepo) Insert(ctx context.Context, items []WorkItem) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, it := range items {
		dup := false
		for _, ex := range r.items {
			if ex.BroadcastID == it.BroadcastID && ex.PhoneNumber == it.PhoneNumber {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		r.seq++
		if it.CreatedAt.IsZero() {
			// preserve insertion order even on equal timestamps
			it.CreatedAt = r.now().Add(time.Duration(r.seq) * time.Nanosecond)
		}
		if it.UpdatedAt.IsZero() {
			it.UpdatedAt = it.CreatedAt
		}
		r.items[it.ID] = it
		added++
	}
	return added, nil
}

func (r *MemoryRepo) ExistingNumbers(ctx context.Context, tenantID, broadcastID string) (map[string]struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]struct{}{}
	for _, it := range r.items {
		if it.TenantID == tenantID && it.BroadcastID == broadcastID {
			out[it.PhoneNumber] = struct{}{}
		}
	}
	return out, nil
}

func (r *MemoryRepo) Count(ctx context.Context, tenantID, broadcastID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, it := range r.items {
		if it.TenantID == tenantID && it.BroadcastID == broadcastID {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) CountByStatus(ctx context.Context, tenantID, broadcastID string) (map[Status]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[Status]int{}
	for _, it := range r.items {
		if it.TenantID == tenantID && it.BroadcastID == broadcastID {
			out[it.Status]++
		}
	}
	return out, nil
}

func (r *MemoryRepo) CountActive(ctx context.Context, tenantID, broadcastID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, it := range r.items {
		if it.TenantID == tenantID && it.BroadcastID == broadcastID && it.Status.Active() {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) ClaimPending(ctx context.Context, tenantID, broadcastID string, limit int) ([]WorkItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []WorkItem
	for _, it := range r.items {
		if it.TenantID == tenantID && it.BroadcastID == broadcastID && it.Status == StatusPending {
			pending = append(pending, it)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}

	now := r.now()
	out := make([]WorkItem, 0, len(pending))
	for _, it := range pending {
		it.Status = StatusCalling
		it.Attempts++
		it.UpdatedAt = now
		r.items[it.ID] = it
		out = append(out, it)
	}
	return out, nil
}

func (r *MemoryRepo) ReleaseClaim(ctx context.Context, tenantID, itemID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[itemID]
	if !ok || it.TenantID != tenantID || it.Status != StatusCalling || it.Attempts == 0 {
		return false, nil
	}
	it.Status = StatusPending
	it.Attempts--
	it.UpdatedAt = r.now()
	r.items[itemID] = it
	return true, nil
}

func (r *MemoryRepo) SetCallID(ctx context.Context, tenantID, itemID, callID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[itemID]
	if !ok || it.TenantID != tenantID {
		return ErrNotFound
	}
	it.LastCallID = callID
	r.items[itemID] = it
	return nil
}

func (r *MemoryRepo) Transition(ctx context.Context, tenantID, itemID string, from, to Status) (bool, error) {
	if !CanTransition(from, to) {
		return false, ErrIllegalTransition
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[itemID]
	if !ok || it.TenantID != tenantID || it.Status != from {
		return false, nil
	}
	it.Status = to
	it.UpdatedAt = r.now()
	r.items[itemID] = it
	return true, nil
}

func (r *MemoryRepo) Resolve(ctx context.Context, tenantID, itemID string, to Status, dtmf string) (bool, error) {
	if !CanTransition(StatusCalling, to) {
		return false, ErrIllegalTransition
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[itemID]
	if !ok || it.TenantID != tenantID {
		return false, nil
	}
	if to == StatusInProgress {
		if it.Status != StatusCalling {
			return false, nil
		}
	} else if !it.Status.Active() {
		return false, nil
	}
	it.Status = to
	if dtmf != "" {
		it.DTMFPressed = dtmf
	}
	it.UpdatedAt = r.now()
	r.items[itemID] = it
	return true, nil
}

func (r *MemoryRepo) FindByCallID(ctx context.Context, callID string) (WorkItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range r.items {
		if it.LastCallID == callID && callID != "" {
			return it, nil
		}
	}
	return WorkItem{}, ErrNotFound
}

func (r *MemoryRepo) SweepStale(ctx context.Context, tenantID, broadcastID string, olderThan time.Time) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	reset, failed := 0, 0
	for id, it := range r.items {
		if it.TenantID != tenantID || it.BroadcastID != broadcastID {
			continue
		}
		if !it.Status.Active() || !it.UpdatedAt.Before(olderThan) {
			continue
		}
		if it.Attempts < it.MaxAttempts {
			it.Status = StatusPending
			reset++
		} else {
			it.Status = StatusFailed
			failed++
		}
		it.UpdatedAt = now
		r.items[id] = it
	}
	return reset, failed, nil
}

func (r *MemoryRepo) RetryFailed(ctx context.Context, tenantID, broadcastID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	n := 0
	for id, it := range r.items {
		if it.TenantID != tenantID || it.BroadcastID != broadcastID || !it.Status.Retryable() {
			continue
		}
		it.Status = StatusPending
		it.Attempts = 0
		it.UpdatedAt = now
		r.items[id] = it
		n++
	}
	return n, nil
}

func (r *MemoryRepo) ClearPending(ctx context.Context, tenantID, broadcastID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, it := range r.items {
		if it.TenantID == tenantID && it.BroadcastID == broadcastID && it.Status == StatusPending {
			delete(r.items, id)
			n++
		}
	}
	return n, nil
}
