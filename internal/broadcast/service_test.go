package broadcast

import (
	"context"
	"testing"
)

func TestService_StartBlockedByPreflight(t *testing.T) {
	repo := NewMemoryRepo()
	repo.Put(Broadcast{ID: "b1", TenantID: "t1", Status: StatusDraft})

	svc := NewService(repo, func(ctx context.Context, tenantID, broadcastID string) (bool, []string, error) {
		return false, []string{"Audio not generated"}, nil
	})

	res, err := svc.Start(context.Background(), "t1", "b1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Started {
		t.Fatalf("expected start refused")
	}
	if len(res.BlockingReasons) != 1 || res.BlockingReasons[0] != "Audio not generated" {
		t.Fatalf("unexpected reasons: %v", res.BlockingReasons)
	}

	b, _ := repo.Get(context.Background(), "t1", "b1")
	if b.Status != StatusDraft {
		t.Fatalf("expected broadcast to remain draft, got %s", b.Status)
	}
}

func TestService_StartRunsWhenReady(t *testing.T) {
	repo := NewMemoryRepo()
	repo.Put(Broadcast{ID: "b1", TenantID: "t1", Status: StatusDraft})

	svc := NewService(repo, func(ctx context.Context, tenantID, broadcastID string) (bool, []string, error) {
		return true, nil, nil
	})

	res, err := svc.Start(context.Background(), "t1", "b1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !res.Started {
		t.Fatalf("expected started")
	}

	b, _ := repo.Get(context.Background(), "t1", "b1")
	if b.Status != StatusRunning {
		t.Fatalf("expected running, got %s", b.Status)
	}
}

func TestService_StopFromRunning(t *testing.T) {
	repo := NewMemoryRepo()
	repo.Put(Broadcast{ID: "b1", TenantID: "t1", Status: StatusRunning})

	svc := NewService(repo, nil)
	if err := svc.Stop(context.Background(), "t1", "b1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	// Stopped broadcasts cannot start again.
	if err := repo.UpdateStatus(context.Background(), "t1", "b1", StatusRunning); err != ErrIllegalTransition {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
}
