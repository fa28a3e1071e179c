package broadcast

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is a simple in-memory repository useful for tests and early
// development. It enforces tenant isolation on reads and the lifecycle
// transition table on writes.
//
// NOTE: not intended for production; the Postgres implementation is the
// real store.
type MemoryRepo struct {
	mu         sync.Mutex
	broadcasts map[string]Broadcast            // key: tenant|id
	settings   map[string]ConcurrencySettings  // key: tenant
	clock      func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		broadcasts: map[string]Broadcast{},
		settings:   map[string]ConcurrencySettings{},
		clock:      time.Now,
	}
}

func key(tenantID, broadcastID string) string { return tenantID + "|" + broadcastID }

// Put inserts or replaces a broadcast (test setup helper).
func (r *MemoryRepo) Put(b Broadcast) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts[key(b.TenantID, b.ID)] = b
}

// PutSettings stores tenant concurrency settings (test setup helper).
func (r *MemoryRepo) PutSettings(s ConcurrencySettings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[s.TenantID] = s
}

func (r *MemoryRepo) Get(ctx context.Context, tenantID, broadcastID string) (Broadcast, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.broadcasts[key(tenantID, broadcastID)]
	if !ok {
		return Broadcast{}, ErrNotFound
	}
	return b, nil
}

func (r *MemoryRepo) ListRunning(ctx context.Context) ([]Broadcast, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Broadcast
	for _, b := range r.broadcasts {
		if b.Status == StatusRunning {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *MemoryRepo) UpdateStatus(ctx context.Context, tenantID, broadcastID string, to Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(tenantID, broadcastID)
	b, ok := r.broadcasts[k]
	if !ok {
		return ErrNotFound
	}
	if !CanTransition(b.Status, to) {
		return ErrIllegalTransition
	}
	b.Status = to
	b.UpdatedAt = r.clock().UTC()
	r.broadcasts[k] = b
	return nil
}

func (r *MemoryRepo) SetTotalItems(ctx context.Context, tenantID, broadcastID string, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(tenantID, broadcastID)
	b, ok := r.broadcasts[k]
	if !ok {
		return ErrNotFound
	}
	b.TotalItems = n
	b.UpdatedAt = r.clock().UTC()
	r.broadcasts[k] = b
	return nil
}

func (r *MemoryRepo) ConcurrencySettings(ctx context.Context, tenantID string) (ConcurrencySettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.settings[tenantID]; ok {
		return s, nil
	}
	return DefaultConcurrencySettings(tenantID), nil
}
