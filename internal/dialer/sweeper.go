package dialer

import (
	"context"
	"log/slog"
	"time"

	"dialer-platform/internal/broadcast"
	"dialer-platform/internal/queue"
	"dialer-platform/internal/slots"
)

// Sweeper reclaims in-flight items whose provider callback never arrived:
// crashed call legs, lost webhooks, dispatcher processes that died between
// claim and dial. Items with attempt budget left go back to pending; items
// at budget are settled as failed.
//
// The sweep never touches the attempts counter. The attempt was consumed at
// claim time and a reclaim does not refund it.
type Sweeper struct {
	broadcasts     broadcast.Repository
	items          queue.Repository
	slots          slots.Slots
	staleThreshold time.Duration
	log            *slog.Logger
	clock          func() time.Time
}

func NewSweeper(broadcasts broadcast.Repository, items queue.Repository, dialSlots slots.Slots, staleThreshold time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{
		broadcasts:     broadcasts,
		items:          items,
		slots:          dialSlots,
		staleThreshold: staleThreshold,
		log:            log,
		clock:          time.Now,
	}
}

type SweepResult struct {
	ResetToPending int `json:"reset_to_pending"`
	MarkedFailed   int `json:"marked_failed"`
}

// Tick sweeps every running broadcast once.
func (s *Sweeper) Tick(ctx context.Context) error {
	running, err := s.broadcasts.ListRunning(ctx)
	if err != nil {
		return err
	}
	for _, bc := range running {
		res, err := s.Sweep(ctx, bc.TenantID, bc.ID)
		if err != nil {
			s.log.Error("sweep failed", "tenant_id", bc.TenantID, "broadcast_id", bc.ID, "error", err)
			continue
		}
		if res.ResetToPending > 0 || res.MarkedFailed > 0 {
			s.log.Info("stale items reclaimed",
				"tenant_id", bc.TenantID,
				"broadcast_id", bc.ID,
				"reset_to_pending", res.ResetToPending,
				"marked_failed", res.MarkedFailed,
			)
		}
	}
	return nil
}

// Sweep reclaims one broadcast's stale in-flight items. Idempotent: a second
// sweep over the same state finds nothing to move.
func (s *Sweeper) Sweep(ctx context.Context, tenantID, broadcastID string) (SweepResult, error) {
	cutoff := s.clock().UTC().Add(-s.staleThreshold)
	reset, failed, err := s.items.SweepStale(ctx, tenantID, broadcastID, cutoff)
	if err != nil {
		return SweepResult{}, err
	}
	// Reclaimed items left the in-flight states without a callback, so the
	// tenant's dial slots must be freed here or the cap would count dead
	// calls until the TTL backstop fires.
	if s.slots != nil && reset+failed > 0 {
		if rerr := s.slots.Release(ctx, tenantID, reset+failed); rerr != nil {
			s.log.Error("dial slot release failed", "tenant_id", tenantID, "error", rerr)
		}
	}
	return SweepResult{ResetToPending: reset, MarkedFailed: failed}, nil
}
