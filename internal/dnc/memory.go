package dnc

import (
	"context"
	"sync"
)

// MemoryRegistry is an in-memory Registry for tests.
type MemoryRegistry struct {
	mu     sync.Mutex
	listed map[string]struct{} // key: tenant|number
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{listed: map[string]struct{}{}}
}

func (r *MemoryRegistry) IsListed(ctx context.Context, tenantID, phoneNumber string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.listed[tenantID+"|"+phoneNumber]
	return ok, nil
}

func (r *MemoryRegistry) Add(ctx context.Context, tenantID, phoneNumber string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listed[tenantID+"|"+phoneNumber] = struct{}{}
	return nil
}
