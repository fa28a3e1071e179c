package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"dialer-platform/internal/auth"
	"dialer-platform/internal/broadcast"
	"dialer-platform/internal/dnc"
	"dialer-platform/internal/pacing"
	"dialer-platform/internal/queue"
	"dialer-platform/internal/readiness"
)

func testIdentity(userID, tenantID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), userID, tenantID, role))
		c.Next()
	}
}

func newTestRouter(t *testing.T) (*gin.Engine, *queue.MemoryRepo, *broadcast.MemoryRepo) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	broadcasts := broadcast.NewMemoryRepo()
	broadcasts.Put(broadcast.Broadcast{
		ID:         "b1",
		TenantID:   "t1",
		Name:       "launch wave",
		Status:     broadcast.StatusDraft,
		AudioReady: true,
		Config:     broadcast.Config{MaxAttempts: 3, BypassCallingHours: true},
	})

	items := queue.NewMemoryRepo()
	stats := pacing.NewMemoryStatsRepo()
	registry := dnc.NewMemoryRegistry()
	numbers := readiness.NewMemoryNumberInventory()
	numbers.Set("t1", 2, 0)
	alerts := readiness.NewMemoryAlertSource()

	checker := readiness.NewChecker(broadcasts, items, numbers, alerts)
	h := Handlers{
		Queue:         queue.NewService(items, broadcasts, registry),
		Broadcasts:    broadcast.NewService(broadcasts, checker.Preflight),
		BroadcastRepo: broadcasts,
		ItemRepo:      items,
		Stats:         stats,
		StatsWindow:   12,
		Readiness:     checker,
	}

	r := gin.New()
	v1 := r.Group("/v1", testIdentity("u1", "t1", "operator"))
	v1.POST("/broadcasts/:broadcast_id/queue", h.Enqueue)
	v1.GET("/broadcasts/:broadcast_id/queue/summary", h.QueueSummary)
	v1.POST("/broadcasts/:broadcast_id/queue/retry", h.RetryFailed)
	v1.DELETE("/broadcasts/:broadcast_id/queue", h.ClearPending)
	v1.POST("/broadcasts/:broadcast_id/start", h.StartBroadcast)
	v1.POST("/broadcasts/:broadcast_id/stop", h.StopBroadcast)
	v1.GET("/broadcasts/:broadcast_id/readiness", h.ReadinessReport)
	v1.GET("/broadcasts/:broadcast_id/pacing", h.PacingSnapshot)
	return r, items, broadcasts
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestEnqueueEndpoint(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/broadcasts/b1/queue", enqueueRequest{
		Candidates: []queue.Candidate{
			{PhoneNumber: "+1 (415) 555-0101", LeadID: "l1"},
			{PhoneNumber: "4155550101", LeadID: "l2"},
			{PhoneNumber: "bogus", LeadID: "l3"},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var res queue.EnqueueResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Added != 1 || res.Skipped != 2 {
		t.Fatalf("result = %+v, want added=1 skipped=2", res)
	}
}

func TestEnqueueUnknownBroadcast(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/v1/broadcasts/nope/queue", enqueueRequest{
		Candidates: []queue.Candidate{{PhoneNumber: "+14155550101"}},
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestStartStopEndpoints(t *testing.T) {
	r, items, broadcasts := newTestRouter(t)
	items.Put(queue.WorkItem{
		ID: "w1", TenantID: "t1", BroadcastID: "b1",
		PhoneNumber: "+14155550101", Status: queue.StatusPending, MaxAttempts: 3,
	})

	w := doJSON(t, r, http.MethodPost, "/v1/broadcasts/b1/start", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("start status = %d, body %s", w.Code, w.Body.String())
	}
	var started broadcast.StartResult
	if err := json.Unmarshal(w.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !started.Started {
		t.Fatalf("start blocked: %+v", started)
	}
	bc, _ := broadcasts.Get(context.Background(), "t1", "b1")
	if bc.Status != broadcast.StatusRunning {
		t.Fatalf("broadcast status = %s, want running", bc.Status)
	}

	w = doJSON(t, r, http.MethodPost, "/v1/broadcasts/b1/stop", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stop status = %d, body %s", w.Code, w.Body.String())
	}
	bc, _ = broadcasts.Get(context.Background(), "t1", "b1")
	if bc.Status != broadcast.StatusStopped {
		t.Fatalf("broadcast status = %s, want stopped", bc.Status)
	}

	// Stopped is terminal: a second stop conflicts.
	w = doJSON(t, r, http.MethodPost, "/v1/broadcasts/b1/stop", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("re-stop status = %d, want 409", w.Code)
	}
}

func TestStartBlockedReturnsReasons(t *testing.T) {
	r, _, _ := newTestRouter(t)

	// Empty queue: preflight refuses without erroring.
	w := doJSON(t, r, http.MethodPost, "/v1/broadcasts/b1/start", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var res broadcast.StartResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Started {
		t.Fatal("start succeeded with an empty queue")
	}
	if len(res.BlockingReasons) == 0 {
		t.Fatal("blocked start carried no reasons")
	}
}

func TestQueueSummaryEndpoint(t *testing.T) {
	r, items, _ := newTestRouter(t)
	items.Put(queue.WorkItem{
		ID: "w1", TenantID: "t1", BroadcastID: "b1",
		PhoneNumber: "+14155550101", Status: queue.StatusPending, MaxAttempts: 3,
	})
	items.Put(queue.WorkItem{
		ID: "w2", TenantID: "t1", BroadcastID: "b1",
		PhoneNumber: "+14155550102", Status: queue.StatusFailed, Attempts: 3, MaxAttempts: 3,
	})

	w := doJSON(t, r, http.MethodGet, "/v1/broadcasts/b1/queue/summary", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var s queue.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.Total != 2 || s.ByStatus[queue.StatusPending] != 1 || s.ByStatus[queue.StatusFailed] != 1 {
		t.Fatalf("summary = %+v", s)
	}
}

func TestRetryAndClearEndpoints(t *testing.T) {
	r, items, _ := newTestRouter(t)
	items.Put(queue.WorkItem{
		ID: "w1", TenantID: "t1", BroadcastID: "b1",
		PhoneNumber: "+14155550101", Status: queue.StatusFailed, Attempts: 3, MaxAttempts: 3,
	})

	w := doJSON(t, r, http.MethodPost, "/v1/broadcasts/b1/queue/retry", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("retry status = %d", w.Code)
	}
	it, _ := items.Get("w1")
	if it.Status != queue.StatusPending || it.Attempts != 0 {
		t.Fatalf("retried item = %s attempts=%d, want pending attempts=0", it.Status, it.Attempts)
	}

	w = doJSON(t, r, http.MethodDelete, "/v1/broadcasts/b1/queue", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("clear status = %d", w.Code)
	}
	if _, ok := items.Get("w1"); ok {
		t.Fatal("pending item survived the clear")
	}
}

func TestPacingSnapshotEndpoint(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/v1/broadcasts/b1/pacing", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var body struct {
		DialingRate pacing.DialingRate `json:"dialing_rate"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.DialingRate.CurrentConcurrency != 0 {
		t.Fatalf("current concurrency = %d, want 0", body.DialingRate.CurrentConcurrency)
	}
}
