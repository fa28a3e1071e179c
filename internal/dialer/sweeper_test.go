package dialer

import (
	"context"
	"testing"
	"time"

	"dialer-platform/internal/broadcast"
	"dialer-platform/internal/queue"
	"dialer-platform/internal/slots"
)

func TestSweeperReclaimsStaleItems(t *testing.T) {
	ctx := context.Background()
	broadcasts := broadcast.NewMemoryRepo()
	broadcasts.Put(broadcast.Broadcast{
		ID: "b1", TenantID: "t1", Status: broadcast.StatusRunning,
	})

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	items := queue.NewMemoryRepo()
	items.Clock = func() time.Time { return now.Add(-10 * time.Minute) }

	// Stale with budget left: goes back to pending, attempt stands.
	items.Put(queue.WorkItem{
		ID: "w1", TenantID: "t1", BroadcastID: "b1",
		PhoneNumber: "+14155550101", Status: queue.StatusCalling,
		Attempts: 1, MaxAttempts: 3,
	})
	// Stale at budget: settles as failed.
	items.Put(queue.WorkItem{
		ID: "w2", TenantID: "t1", BroadcastID: "b1",
		PhoneNumber: "+14155550102", Status: queue.StatusInProgress,
		Attempts: 3, MaxAttempts: 3,
	})

	// Fresh in-flight item: untouched.
	items.Clock = func() time.Time { return now.Add(-time.Minute) }
	items.Put(queue.WorkItem{
		ID: "w3", TenantID: "t1", BroadcastID: "b1",
		PhoneNumber: "+14155550103", Status: queue.StatusCalling,
		Attempts: 1, MaxAttempts: 3,
	})
	items.Clock = func() time.Time { return now }

	s := NewSweeper(broadcasts, items, nil, 5*time.Minute, discardLogger())
	s.clock = func() time.Time { return now }

	res, err := s.Sweep(ctx, "t1", "b1")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.ResetToPending != 1 || res.MarkedFailed != 1 {
		t.Fatalf("sweep = %+v, want 1 reset / 1 failed", res)
	}

	w1, _ := items.Get("w1")
	if w1.Status != queue.StatusPending || w1.Attempts != 1 {
		t.Fatalf("w1 = %s attempts=%d, want pending attempts=1", w1.Status, w1.Attempts)
	}
	w2, _ := items.Get("w2")
	if w2.Status != queue.StatusFailed || w2.Attempts != 3 {
		t.Fatalf("w2 = %s attempts=%d, want failed attempts=3", w2.Status, w2.Attempts)
	}
	w3, _ := items.Get("w3")
	if w3.Status != queue.StatusCalling {
		t.Fatalf("fresh item swept to %s", w3.Status)
	}

	// Idempotent: nothing left to reclaim.
	res, err = s.Sweep(ctx, "t1", "b1")
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if res.ResetToPending != 0 || res.MarkedFailed != 0 {
		t.Fatalf("second sweep moved items: %+v", res)
	}
}

func TestSweeperReleasesDialSlots(t *testing.T) {
	ctx := context.Background()
	broadcasts := broadcast.NewMemoryRepo()
	broadcasts.Put(broadcast.Broadcast{ID: "b1", TenantID: "t1", Status: broadcast.StatusRunning})

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	items := queue.NewMemoryRepo()
	items.Clock = func() time.Time { return now.Add(-10 * time.Minute) }
	items.Put(queue.WorkItem{
		ID: "w1", TenantID: "t1", BroadcastID: "b1",
		PhoneNumber: "+14155550101", Status: queue.StatusCalling,
		Attempts: 1, MaxAttempts: 3,
	})
	items.Put(queue.WorkItem{
		ID: "w2", TenantID: "t1", BroadcastID: "b1",
		PhoneNumber: "+14155550102", Status: queue.StatusInProgress,
		Attempts: 3, MaxAttempts: 3,
	})
	items.Clock = func() time.Time { return now }

	// Both items hold a dial slot from their dispatch.
	dialSlots := slots.NewMemorySlots(5)
	for i := 0; i < 2; i++ {
		if ok, err := dialSlots.Acquire(ctx, "t1"); err != nil || !ok {
			t.Fatalf("seed slot: ok=%v err=%v", ok, err)
		}
	}

	s := NewSweeper(broadcasts, items, dialSlots, 5*time.Minute, discardLogger())
	s.clock = func() time.Time { return now }

	res, err := s.Sweep(ctx, "t1", "b1")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.ResetToPending != 1 || res.MarkedFailed != 1 {
		t.Fatalf("sweep = %+v, want 1 reset / 1 failed", res)
	}
	// The dead calls' slots are freed with the reclaim, not left to the
	// key's TTL.
	if held := dialSlots.Held("t1"); held != 0 {
		t.Fatalf("held = %d slots after reclaim, want 0", held)
	}

	// A sweep that moves nothing releases nothing.
	if ok, _ := dialSlots.Acquire(ctx, "t1"); !ok {
		t.Fatal("seed slot")
	}
	if _, err := s.Sweep(ctx, "t1", "b1"); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if held := dialSlots.Held("t1"); held != 1 {
		t.Fatalf("held = %d after empty sweep, want 1", held)
	}
}

func TestSweeperTickCoversRunningBroadcasts(t *testing.T) {
	ctx := context.Background()
	broadcasts := broadcast.NewMemoryRepo()
	broadcasts.Put(broadcast.Broadcast{ID: "b1", TenantID: "t1", Status: broadcast.StatusRunning})
	broadcasts.Put(broadcast.Broadcast{ID: "b2", TenantID: "t1", Status: broadcast.StatusStopped})

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	items := queue.NewMemoryRepo()
	items.Clock = func() time.Time { return now.Add(-time.Hour) }
	items.Put(queue.WorkItem{
		ID: "w1", TenantID: "t1", BroadcastID: "b1",
		PhoneNumber: "+14155550101", Status: queue.StatusCalling,
		Attempts: 1, MaxAttempts: 3,
	})
	// Stopped broadcast: its in-flight items still resolve via webhook, the
	// periodic tick does not touch them.
	items.Put(queue.WorkItem{
		ID: "w2", TenantID: "t1", BroadcastID: "b2",
		PhoneNumber: "+14155550102", Status: queue.StatusCalling,
		Attempts: 1, MaxAttempts: 3,
	})
	items.Clock = func() time.Time { return now }

	s := NewSweeper(broadcasts, items, nil, 5*time.Minute, discardLogger())
	s.clock = func() time.Time { return now }

	if err := s.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	w1, _ := items.Get("w1")
	if w1.Status != queue.StatusPending {
		t.Fatalf("w1 = %s, want pending", w1.Status)
	}
	w2, _ := items.Get("w2")
	if w2.Status != queue.StatusCalling {
		t.Fatalf("w2 = %s, want calling untouched", w2.Status)
	}
}
