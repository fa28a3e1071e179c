package dialer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dialer-platform/internal/broadcast"
	"dialer-platform/internal/pacing"
	"dialer-platform/internal/queue"
	"dialer-platform/internal/slots"
	"dialer-platform/internal/telephony"
)

// Dispatcher claims pending work items for every running broadcast and hands
// them to the call initiation provider, pacing each broadcast by its hard
// concurrency ceiling, the learner's advisory target, the configured
// calls-per-minute limiter and the optional tenant-wide dial cap.
type Dispatcher struct {
	broadcasts broadcast.Repository
	items      queue.Repository
	stats      pacing.StatsRepository
	recorder   *pacing.Recorder
	provider   telephony.CallInitiator
	log        *slog.Logger

	// slots nil disables the tenant-wide cap.
	slots slots.Slots

	statsWindow int
	clock       func() time.Time

	mu       sync.Mutex
	limiters map[string]limiterEntry
}

// limiterEntry pins a limiter to the calls-per-minute it was built for, so
// a config change rebuilds it instead of being ignored.
type limiterEntry struct {
	cpm int
	lim *rate.Limiter
}

type DispatcherOpts struct {
	Slots       slots.Slots
	StatsWindow int
}

func NewDispatcher(
	broadcasts broadcast.Repository,
	items queue.Repository,
	stats pacing.StatsRepository,
	recorder *pacing.Recorder,
	provider telephony.CallInitiator,
	log *slog.Logger,
	opts DispatcherOpts,
) *Dispatcher {
	if opts.StatsWindow <= 0 {
		opts.StatsWindow = 12
	}
	return &Dispatcher{
		broadcasts:  broadcasts,
		items:       items,
		stats:       stats,
		recorder:    recorder,
		provider:    provider,
		log:         log,
		slots:       opts.Slots,
		statsWindow: opts.StatsWindow,
		clock:       time.Now,
	}
}

// Tick runs one dispatch cycle over every running broadcast. A failure in
// one broadcast never blocks the others.
func (d *Dispatcher) Tick(ctx context.Context) error {
	running, err := d.broadcasts.ListRunning(ctx)
	if err != nil {
		return err
	}
	for _, bc := range running {
		if err := d.dispatchBroadcast(ctx, bc); err != nil {
			d.log.Error("broadcast dispatch failed",
				"tenant_id", bc.TenantID,
				"broadcast_id", bc.ID,
				"error", err,
			)
		}
	}
	d.pruneLimiters(running)
	return nil
}

func (d *Dispatcher) dispatchBroadcast(ctx context.Context, bc broadcast.Broadcast) error {
	if !bc.Config.BypassCallingHours {
		within, err := bc.Config.WithinCallingHours(d.clock())
		if err != nil {
			return err
		}
		if !within {
			return nil
		}
	}

	settings, err := d.broadcasts.ConcurrencySettings(ctx, bc.TenantID)
	if err != nil {
		return err
	}
	// Live count, never cached: a crashed dispatcher must not leave a
	// phantom reservation behind.
	active, err := d.items.CountActive(ctx, bc.TenantID, bc.ID)
	if err != nil {
		return err
	}
	history, err := d.stats.Recent(ctx, bc.TenantID, bc.ID, d.statsWindow)
	if err != nil {
		return err
	}

	learned := pacing.LearnFromHistory(history, settings, bc.Config.CallsPerMinute)
	plan := pacing.ComputeDialingRate(active, settings, learned, bc.Config.CallsPerMinute)
	if plan.RecommendedRate <= 0 {
		return nil
	}

	// The minute limiter spreads the planned rate across ticks so a burst
	// after idle time cannot exceed calls-per-minute.
	limiter := d.limiter(bc.ID, bc.Config.CallsPerMinute)
	take := 0
	for take < plan.RecommendedRate && limiter.Allow() {
		take++
	}
	if take == 0 {
		return nil
	}

	claimed, err := d.items.ClaimPending(ctx, bc.TenantID, bc.ID, take)
	if err != nil {
		return err
	}

	for _, item := range claimed {
		d.initiate(ctx, bc, item)
	}
	return nil
}

// initiate drives one claimed item through the tenant cap and the provider.
// Every path out of here leaves the item in a legal state: dispatched with a
// call id, reverted to pending, or failed with its budget exhausted.
func (d *Dispatcher) initiate(ctx context.Context, bc broadcast.Broadcast, item queue.WorkItem) {
	holdsSlot := false
	if d.slots != nil {
		ok, err := d.slots.Acquire(ctx, bc.TenantID)
		if err != nil {
			d.log.Error("dial slot acquire failed", "tenant_id", bc.TenantID, "error", err)
			d.revert(ctx, item)
			return
		}
		if !ok {
			// Tenant at capacity: put the item back without consuming an
			// attempt and let a later tick pick it up.
			d.revert(ctx, item)
			return
		}
		holdsSlot = true
	}

	result, err := d.provider.CreateCall(ctx, telephony.CreateCallRequest{
		TenantID:    bc.TenantID,
		BroadcastID: bc.ID,
		WorkItemID:  item.ID,
		PhoneNumber: item.PhoneNumber,
		CallerID:    bc.CallerID,
		AgentID:     bc.AgentID,
	})
	if err != nil {
		if holdsSlot {
			if rerr := d.slots.Release(ctx, bc.TenantID, 1); rerr != nil {
				d.log.Error("dial slot release failed", "tenant_id", bc.TenantID, "error", rerr)
			}
		}
		d.failInitiation(ctx, item, err)
		return
	}

	if err := d.items.SetCallID(ctx, bc.TenantID, item.ID, result.CallID); err != nil {
		d.log.Error("record call id failed", "item_id", item.ID, "call_id", result.CallID, "error", err)
	}
	d.recorder.ObserveDial(bc.TenantID, bc.ID)
	d.log.Info("call dispatched",
		"tenant_id", bc.TenantID,
		"broadcast_id", bc.ID,
		"item_id", item.ID,
		"call_id", result.CallID,
		"attempt", item.Attempts,
	)
}

// revert undoes a claim whose call never reached the provider: back to
// pending with the attempt refunded.
func (d *Dispatcher) revert(ctx context.Context, item queue.WorkItem) {
	if _, err := d.items.ReleaseClaim(ctx, item.TenantID, item.ID); err != nil {
		d.log.Error("claim release failed", "item_id", item.ID, "error", err)
	}
}

// failInitiation settles a claim the provider rejected synchronously. The
// attempt stays consumed: pending again if budget remains, failed otherwise.
func (d *Dispatcher) failInitiation(ctx context.Context, item queue.WorkItem, cause error) {
	to := queue.StatusPending
	if item.Attempts >= item.MaxAttempts {
		to = queue.StatusFailed
	}
	if _, err := d.items.Transition(ctx, item.TenantID, item.ID, queue.StatusCalling, to); err != nil {
		d.log.Error("initiation failure transition failed", "item_id", item.ID, "to", to, "error", err)
		return
	}
	d.log.Warn("call initiation rejected",
		"tenant_id", item.TenantID,
		"item_id", item.ID,
		"attempt", item.Attempts,
		"settled_as", to,
		"error", cause,
	)
}

func (d *Dispatcher) limiter(broadcastID string, callsPerMinute int) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.limiters == nil {
		d.limiters = make(map[string]limiterEntry)
	}
	e, ok := d.limiters[broadcastID]
	if !ok || e.cpm != callsPerMinute {
		var l *rate.Limiter
		if callsPerMinute <= 0 {
			l = rate.NewLimiter(rate.Inf, 0)
		} else {
			l = rate.NewLimiter(rate.Limit(float64(callsPerMinute)/60.0), callsPerMinute)
		}
		e = limiterEntry{cpm: callsPerMinute, lim: l}
		d.limiters[broadcastID] = e
	}
	return e.lim
}

// pruneLimiters drops limiter state for broadcasts no longer running, so
// the cache cannot grow unbounded over many campaigns.
func (d *Dispatcher) pruneLimiters(running []broadcast.Broadcast) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.limiters) == 0 {
		return
	}
	keep := make(map[string]struct{}, len(running))
	for _, bc := range running {
		keep[bc.ID] = struct{}{}
	}
	for id := range d.limiters {
		if _, ok := keep[id]; !ok {
			delete(d.limiters, id)
		}
	}
}
