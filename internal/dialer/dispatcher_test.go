package dialer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"dialer-platform/internal/broadcast"
	"dialer-platform/internal/pacing"
	"dialer-platform/internal/queue"
	"dialer-platform/internal/slots"
	"dialer-platform/internal/telephony"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	broadcasts *broadcast.MemoryRepo
	items      *queue.MemoryRepo
	stats      *pacing.MemoryStatsRepo
	provider   *telephony.MemoryProvider
	dispatcher *Dispatcher
}

func newFixture(t *testing.T, maxConcurrent int) *fixture {
	t.Helper()
	f := &fixture{
		broadcasts: broadcast.NewMemoryRepo(),
		items:      queue.NewMemoryRepo(),
		stats:      pacing.NewMemoryStatsRepo(),
		provider:   telephony.NewMemoryProvider(),
	}
	f.broadcasts.Put(broadcast.Broadcast{
		ID:       "b1",
		TenantID: "t1",
		Name:     "launch wave",
		Status:   broadcast.StatusRunning,
		CallerID: "+14155550000",
		AgentID:  "agent-1",
		Config: broadcast.Config{
			CallsPerMinute:     60,
			MaxAttempts:        3,
			BypassCallingHours: true,
		},
	})
	f.broadcasts.PutSettings(broadcast.ConcurrencySettings{
		TenantID:              "t1",
		MaxConcurrentCalls:    maxConcurrent,
		TargetAbandonmentRate: 3,
		TargetUtilization:     80,
	})
	recorder := pacing.NewRecorder(f.stats)
	f.dispatcher = NewDispatcher(f.broadcasts, f.items, f.stats, recorder, f.provider, discardLogger(), DispatcherOpts{})
	return f
}

func seedPending(f *fixture, n int) {
	for i := 0; i < n; i++ {
		f.items.Put(queue.WorkItem{
			ID:          "w" + string(rune('1'+i)),
			TenantID:    "t1",
			BroadcastID: "b1",
			PhoneNumber: "+1415555010" + string(rune('0'+i)),
			Status:      queue.StatusPending,
			MaxAttempts: 3,
		})
	}
}

func TestDispatcherRespectsConcurrencyCeiling(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	seedPending(f, 5)

	if err := f.dispatcher.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := len(f.provider.Calls()); got != 2 {
		t.Fatalf("placed %d calls, want 2", got)
	}
	active, _ := f.items.CountActive(ctx, "t1", "b1")
	if active != 2 {
		t.Fatalf("active = %d, want 2", active)
	}

	// With both slots occupied, the next tick must claim nothing.
	if err := f.dispatcher.Tick(ctx); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if got := len(f.provider.Calls()); got != 2 {
		t.Fatalf("second tick placed calls, total %d", got)
	}
}

func TestDispatcherDialsInInsertionOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	seedPending(f, 5)

	if err := f.dispatcher.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	calls := f.provider.Calls()
	if len(calls) != 3 {
		t.Fatalf("placed %d calls, want 3", len(calls))
	}
	for i, want := range []string{"w1", "w2", "w3"} {
		if calls[i].WorkItemID != want {
			t.Fatalf("call %d for item %s, want %s", i, calls[i].WorkItemID, want)
		}
	}
	// Each dispatched item carries a call id for webhook correlation.
	for _, id := range []string{"w1", "w2", "w3"} {
		it, _ := f.items.Get(id)
		if it.LastCallID == "" {
			t.Fatalf("item %s missing call id", id)
		}
		if it.Attempts != 1 {
			t.Fatalf("item %s attempts = %d, want 1", id, it.Attempts)
		}
	}
}

func TestDispatcherSkipsOutsideCallingHours(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	seedPending(f, 2)

	bc, _ := f.broadcasts.Get(ctx, "t1", "b1")
	bc.Config.BypassCallingHours = false
	bc.Config.CallingHoursStart = "09:00"
	bc.Config.CallingHoursEnd = "17:00"
	bc.Config.Timezone = "UTC"
	f.broadcasts.Put(bc)

	f.dispatcher.clock = func() time.Time {
		return time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	}
	if err := f.dispatcher.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := len(f.provider.Calls()); got != 0 {
		t.Fatalf("placed %d calls outside calling hours", got)
	}

	f.dispatcher.clock = func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}
	if err := f.dispatcher.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := len(f.provider.Calls()); got != 2 {
		t.Fatalf("placed %d calls inside calling hours, want 2", got)
	}
}

func TestDispatcherSettlesRejectedInitiation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	f.provider.Fail = errors.New("trunk down")

	// Budget remaining: the consumed attempt stands, item returns to pending.
	f.items.Put(queue.WorkItem{
		ID: "w1", TenantID: "t1", BroadcastID: "b1",
		PhoneNumber: "+14155550101", Status: queue.StatusPending, MaxAttempts: 3,
	})
	// Final attempt: rejection exhausts the budget.
	f.items.Put(queue.WorkItem{
		ID: "w2", TenantID: "t1", BroadcastID: "b1",
		PhoneNumber: "+14155550102", Status: queue.StatusPending, Attempts: 2, MaxAttempts: 3,
	})

	if err := f.dispatcher.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	w1, _ := f.items.Get("w1")
	if w1.Status != queue.StatusPending || w1.Attempts != 1 {
		t.Fatalf("w1 = %s attempts=%d, want pending attempts=1", w1.Status, w1.Attempts)
	}
	w2, _ := f.items.Get("w2")
	if w2.Status != queue.StatusFailed || w2.Attempts != 3 {
		t.Fatalf("w2 = %s attempts=%d, want failed attempts=3", w2.Status, w2.Attempts)
	}
}

func TestDispatcherTenantDialCap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	seedPending(f, 3)
	dialSlots := slots.NewMemorySlots(1)
	f.dispatcher.slots = dialSlots

	if err := f.dispatcher.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := len(f.provider.Calls()); got != 1 {
		t.Fatalf("placed %d calls, want 1 at the tenant cap", got)
	}
	if held := dialSlots.Held("t1"); held != 1 {
		t.Fatalf("held %d slots, want 1", held)
	}
	// Items rejected at the cap go back to pending with the attempt
	// refunded, ready for a later tick.
	for _, id := range []string{"w2", "w3"} {
		it, _ := f.items.Get(id)
		if it.Status != queue.StatusPending || it.Attempts != 0 {
			t.Fatalf("item %s = %s attempts=%d, want pending attempts=0", id, it.Status, it.Attempts)
		}
	}

	// Freeing the slot opens the cap for the next tick.
	if err := dialSlots.Release(ctx, "t1", 1); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := f.dispatcher.Tick(ctx); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if got := len(f.provider.Calls()); got != 2 {
		t.Fatalf("placed %d calls after release, want 2", got)
	}
}

func TestDispatcherReleasesSlotOnRejectedInitiation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 5)
	seedPending(f, 1)
	f.provider.Fail = errors.New("trunk down")
	dialSlots := slots.NewMemorySlots(2)
	f.dispatcher.slots = dialSlots

	if err := f.dispatcher.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if held := dialSlots.Held("t1"); held != 0 {
		t.Fatalf("held %d slots after synchronous rejection, want 0", held)
	}
}

func TestDispatcherLimiterTracksConfigAndPrunes(t *testing.T) {
	f := newFixture(t, 2)

	first := f.dispatcher.limiter("b1", 60)
	if again := f.dispatcher.limiter("b1", 60); again != first {
		t.Fatal("limiter rebuilt without a config change")
	}
	// A calls-per-minute edit must take effect on the next tick, not stay
	// frozen at the first value seen.
	if rebuilt := f.dispatcher.limiter("b1", 120); rebuilt == first {
		t.Fatal("limiter kept stale calls-per-minute after config change")
	}

	f.dispatcher.pruneLimiters(nil)
	if n := len(f.dispatcher.limiters); n != 0 {
		t.Fatalf("limiter cache kept %d entries for stopped broadcasts", n)
	}
}

func TestDispatcherShrinksUnderAbandonment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10)
	seedPending(f, 9)

	// History: steady 5 concurrent, abandonment 5% against a 3% target.
	// The learner must shrink to 4 even though utilization is low.
	base := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		f.stats.Append(ctx, pacing.HistoricalStat{
			TenantID: "t1", BroadcastID: "b1",
			Timestamp:       base.Add(time.Duration(i) * time.Minute),
			AnswerRate:      40,
			AbandonmentRate: 5,
			ConcurrentCalls: 5,
		})
	}

	if err := f.dispatcher.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := len(f.provider.Calls()); got != 4 {
		t.Fatalf("placed %d calls, want shrunk advisory of 4", got)
	}
}
