package queue

import (
	"context"
	"testing"
	"time"
)

func TestClaimPending_InsertionOrderAndAttemptIncrement(t *testing.T) {
	r := NewMemoryRepo()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	r.Clock = func() time.Time { return base }

	r.Put(WorkItem{ID: "w1", TenantID: "t1", BroadcastID: "b1", PhoneNumber: "+15550000001", Status: StatusPending, MaxAttempts: 3, CreatedAt: base.Add(1 * time.Second)})
	r.Put(WorkItem{ID: "w2", TenantID: "t1", BroadcastID: "b1", PhoneNumber: "+15550000002", Status: StatusPending, MaxAttempts: 3, CreatedAt: base.Add(2 * time.Second)})
	r.Put(WorkItem{ID: "w3", TenantID: "t1", BroadcastID: "b1", PhoneNumber: "+15550000003", Status: StatusPending, MaxAttempts: 3, CreatedAt: base.Add(3 * time.Second)})

	claimed, err := r.ClaimPending(context.Background(), "t1", "b1", 2)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("expected 2 claims, got %d", len(claimed))
	}
	if claimed[0].ID != "w1" || claimed[1].ID != "w2" {
		t.Fatalf("expected insertion order, got %s,%s", claimed[0].ID, claimed[1].ID)
	}
	for _, c := range claimed {
		if c.Status != StatusCalling || c.Attempts != 1 {
			t.Fatalf("expected calling/attempts=1, got %s/%d", c.Status, c.Attempts)
		}
	}

	// Claimed rows are no longer claimable.
	again, err := r.ClaimPending(context.Background(), "t1", "b1", 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(again) != 1 || again[0].ID != "w3" {
		t.Fatalf("expected only w3 claimable, got %v", again)
	}
}

func TestTransition_IsConditional(t *testing.T) {
	r := NewMemoryRepo()
	r.Put(WorkItem{ID: "w1", TenantID: "t1", BroadcastID: "b1", PhoneNumber: "+15550000001", Status: StatusCompleted})

	// CAS on the wrong expected status must not move the row.
	ok, err := r.Transition(context.Background(), "t1", "w1", StatusFailed, StatusPending)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ok {
		t.Fatalf("expected transition to fail on status mismatch")
	}

	// Illegal moves are rejected outright.
	if _, err := r.Transition(context.Background(), "t1", "w1", StatusCompleted, StatusPending); err != ErrIllegalTransition {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestReleaseClaim_RefundsAttempt(t *testing.T) {
	r := NewMemoryRepo()
	r.Put(WorkItem{ID: "w1", TenantID: "t1", BroadcastID: "b1", PhoneNumber: "+15550000001", Status: StatusCalling, Attempts: 1, MaxAttempts: 3})

	ok, err := r.ReleaseClaim(context.Background(), "t1", "w1")
	if err != nil || !ok {
		t.Fatalf("release failed: ok=%v err=%v", ok, err)
	}
	it, _ := r.Get("w1")
	if it.Status != StatusPending || it.Attempts != 0 {
		t.Fatalf("expected pending/attempts=0, got %s/%d", it.Status, it.Attempts)
	}

	// Releasing a non-claimed row is a no-op.
	ok, _ = r.ReleaseClaim(context.Background(), "t1", "w1")
	if ok {
		t.Fatalf("expected no-op release")
	}
}

func TestSweepStale_ResetsOrFailsByAttemptBudget(t *testing.T) {
	r := NewMemoryRepo()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	r.Clock = func() time.Time { return now }

	stale := now.Add(-6 * time.Minute)
	fresh := now.Add(-1 * time.Minute)

	r.Put(WorkItem{ID: "w1", TenantID: "t1", BroadcastID: "b1", PhoneNumber: "+15550000001", Status: StatusCalling, Attempts: 0, MaxAttempts: 3, UpdatedAt: stale})
	r.Put(WorkItem{ID: "w2", TenantID: "t1", BroadcastID: "b1", PhoneNumber: "+15550000002", Status: StatusCalling, Attempts: 3, MaxAttempts: 3, UpdatedAt: stale})
	r.Put(WorkItem{ID: "w3", TenantID: "t1", BroadcastID: "b1", PhoneNumber: "+15550000003", Status: StatusCalling, Attempts: 1, MaxAttempts: 3, UpdatedAt: fresh})
	r.Put(WorkItem{ID: "w4", TenantID: "t1", BroadcastID: "b1", PhoneNumber: "+15550000004", Status: StatusCompleted, Attempts: 1, MaxAttempts: 3, UpdatedAt: stale})

	cutoff := now.Add(-5 * time.Minute)
	reset, failed, err := r.SweepStale(context.Background(), "t1", "b1", cutoff)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if reset != 1 || failed != 1 {
		t.Fatalf("expected reset=1 failed=1, got %d/%d", reset, failed)
	}

	w1, _ := r.Get("w1")
	if w1.Status != StatusPending || w1.Attempts != 0 {
		t.Fatalf("expected w1 pending with attempts unchanged, got %s/%d", w1.Status, w1.Attempts)
	}
	w2, _ := r.Get("w2")
	if w2.Status != StatusFailed {
		t.Fatalf("expected w2 failed, got %s", w2.Status)
	}
	w3, _ := r.Get("w3")
	if w3.Status != StatusCalling {
		t.Fatalf("fresh item must not be swept, got %s", w3.Status)
	}
	w4, _ := r.Get("w4")
	if w4.Status != StatusCompleted {
		t.Fatalf("terminal item must not be swept, got %s", w4.Status)
	}

	// Idempotence: an immediate second sweep does nothing.
	reset, failed, err = r.SweepStale(context.Background(), "t1", "b1", cutoff)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if reset != 0 || failed != 0 {
		t.Fatalf("expected second sweep to be a no-op, got %d/%d", reset, failed)
	}
}

func TestResolve_CapturesDTMFAndGuardsInFlight(t *testing.T) {
	r := NewMemoryRepo()
	r.Put(WorkItem{ID: "w1", TenantID: "t1", BroadcastID: "b1", PhoneNumber: "+15550000001", Status: StatusCalling, Attempts: 1, MaxAttempts: 3, LastCallID: "CA1"})

	ok, err := r.Resolve(context.Background(), "t1", "w1", StatusCompleted, "5")
	if err != nil || !ok {
		t.Fatalf("resolve failed: ok=%v err=%v", ok, err)
	}
	it, _ := r.Get("w1")
	if it.Status != StatusCompleted || it.DTMFPressed != "5" {
		t.Fatalf("unexpected item %+v", it)
	}

	// A late duplicate callback must not resurrect the item.
	ok, err = r.Resolve(context.Background(), "t1", "w1", StatusNoAnswer, "")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ok {
		t.Fatalf("expected resolve to refuse non-in-flight item")
	}
}

func TestFindByCallID(t *testing.T) {
	r := NewMemoryRepo()
	r.Put(WorkItem{ID: "w1", TenantID: "t1", BroadcastID: "b1", PhoneNumber: "+15550000001", Status: StatusCalling, LastCallID: "CA1"})

	it, err := r.FindByCallID(context.Background(), "CA1")
	if err != nil || it.ID != "w1" {
		t.Fatalf("expected w1, got %+v err=%v", it, err)
	}
	if _, err := r.FindByCallID(context.Background(), "CA-unknown"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
