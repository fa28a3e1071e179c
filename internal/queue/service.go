package queue

import (
	"context"
	"errors"
	"time"

	"dialer-platform/internal/broadcast"
	"dialer-platform/internal/dnc"
)

// Service provides queue operations for one tenant's broadcasts: admission
// of new numbers, the operator retry surface, queue clearing, and the
// per-status summary.
//
// Validation failures on individual candidates are never errors; they are
// reported as counts so callers can render partial success.
type Service struct {
	items      Repository
	broadcasts broadcast.Repository
	registry   dnc.Registry
	clock      func() time.Time
}

func NewService(items Repository, broadcasts broadcast.Repository, registry dnc.Registry) *Service {
	return &Service{
		items:      items,
		broadcasts: broadcasts,
		registry:   registry,
		clock:      time.Now,
	}
}

var ErrInvalidArgument = errors.New("queue: invalid argument")

// RetryResult reports the operator bulk-retry outcome.
type RetryResult struct {
	Retried int `json:"retried"`
}

// RetryFailed resets every retryable item in the broadcast (failed, busy,
// no_answer) to pending with a fresh attempt budget. Distinct from the
// sweeper's automatic reclaim: this is the explicit "try the unreached
// cohort again".
func (s *Service) RetryFailed(ctx context.Context, tenantID, broadcastID string) (RetryResult, error) {
	if tenantID == "" || broadcastID == "" {
		return RetryResult{}, ErrInvalidArgument
	}
	n, err := s.items.RetryFailed(ctx, tenantID, broadcastID)
	if err != nil {
		return RetryResult{}, err
	}
	return RetryResult{Retried: n}, nil
}

// ClearResult reports the queue-clear outcome.
type ClearResult struct {
	Removed int `json:"removed"`
}

// ClearPending removes the broadcast's pending items. Terminal items are
// retained for analytics. The cached total is re-healed afterwards.
func (s *Service) ClearPending(ctx context.Context, tenantID, broadcastID string) (ClearResult, error) {
	if tenantID == "" || broadcastID == "" {
		return ClearResult{}, ErrInvalidArgument
	}
	n, err := s.items.ClearPending(ctx, tenantID, broadcastID)
	if err != nil {
		return ClearResult{}, err
	}
	if err := s.healTotal(ctx, tenantID, broadcastID); err != nil {
		return ClearResult{}, err
	}
	return ClearResult{Removed: n}, nil
}

// Summary returns per-status counts for the broadcast.
func (s *Service) Summary(ctx context.Context, tenantID, broadcastID string) (Summary, error) {
	if tenantID == "" || broadcastID == "" {
		return Summary{}, ErrInvalidArgument
	}
	byStatus, err := s.items.CountByStatus(ctx, tenantID, broadcastID)
	if err != nil {
		return Summary{}, err
	}
	total := 0
	for _, n := range byStatus {
		total += n
	}
	return Summary{BroadcastID: broadcastID, Total: total, ByStatus: byStatus}, nil
}

// healTotal overwrites the broadcast's cached item count with the true row
// count, so partial failures can never leave it drifting.
func (s *Service) healTotal(ctx context.Context, tenantID, broadcastID string) error {
	n, err := s.items.Count(ctx, tenantID, broadcastID)
	if err != nil {
		return err
	}
	return s.broadcasts.SetTotalItems(ctx, tenantID, broadcastID, n)
}
