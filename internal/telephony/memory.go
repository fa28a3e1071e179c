package telephony

import (
	"context"
	"fmt"
	"sync"
)

// MemoryProvider is an in-memory CallInitiator for tests and local runs.
type MemoryProvider struct {
	mu    sync.Mutex
	seq   int
	calls []CreateCallRequest

	// Fail makes every CreateCall return this error when set.
	Fail error
}

func NewMemoryProvider() *MemoryProvider { return &MemoryProvider{} }

func (p *MemoryProvider) Name() string { return "memory" }

func (p *MemoryProvider) HealthCheck(ctx context.Context) error { return nil }

func (p *MemoryProvider) CreateCall(ctx context.Context, req CreateCallRequest) (CreateCallResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Fail != nil {
		return CreateCallResult{}, p.Fail
	}
	p.seq++
	p.calls = append(p.calls, req)
	return CreateCallResult{CallID: fmt.Sprintf("mem-call-%d", p.seq)}, nil
}

// Calls returns a copy of every accepted request in order.
func (p *MemoryProvider) Calls() []CreateCallRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CreateCallRequest, len(p.calls))
	copy(out, p.calls)
	return out
}
