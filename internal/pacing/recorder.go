package pacing

import (
	"context"
	"sync"
	"time"
)

type observation struct {
	tenantID  string
	dialed    int
	answered  int
	abandoned int
}

// Recorder accumulates per-broadcast call outcomes in memory and flushes
// them as HistoricalStat rows. The dispatcher and webhook handler feed it,
// a periodic loop drains it.
type Recorder struct {
	mu    sync.Mutex
	stats StatsRepository
	byBC  map[string]*observation
	clock func() time.Time
}

func NewRecorder(stats StatsRepository) *Recorder {
	return &Recorder{
		stats: stats,
		byBC:  make(map[string]*observation),
		clock: time.Now,
	}
}

func (r *Recorder) obs(tenantID, broadcastID string) *observation {
	o, ok := r.byBC[broadcastID]
	if !ok {
		o = &observation{tenantID: tenantID}
		r.byBC[broadcastID] = o
	}
	return o
}

// ObserveDial records a call initiation for the broadcast.
func (r *Recorder) ObserveDial(tenantID, broadcastID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs(tenantID, broadcastID).dialed++
}

// ObserveAnswer records a call that reached a human or machine answer.
func (r *Recorder) ObserveAnswer(tenantID, broadcastID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs(tenantID, broadcastID).answered++
}

// ObserveAbandon records an answered call dropped before an agent or audio
// could engage it.
func (r *Recorder) ObserveAbandon(tenantID, broadcastID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs(tenantID, broadcastID).abandoned++
}

// Flush converts every broadcast's accumulated counters into one
// HistoricalStat row and resets the counters. concurrent reports the live
// in-flight count per broadcast at flush time; broadcasts with no dials in
// the window are skipped. On error the counters not yet written are merged
// back, so a failed flush loses nothing and the next one carries them.
func (r *Recorder) Flush(ctx context.Context, concurrent func(ctx context.Context, tenantID, broadcastID string) (int, error)) error {
	r.mu.Lock()
	pending := r.byBC
	r.byBC = make(map[string]*observation)
	now := r.clock().UTC()
	r.mu.Unlock()

	for broadcastID, o := range pending {
		if o.dialed == 0 {
			delete(pending, broadcastID)
			continue
		}
		inFlight := 0
		if concurrent != nil {
			n, err := concurrent(ctx, o.tenantID, broadcastID)
			if err != nil {
				r.requeue(pending)
				return err
			}
			inFlight = n
		}
		stat := HistoricalStat{
			TenantID:        o.tenantID,
			BroadcastID:     broadcastID,
			Timestamp:       now,
			AnswerRate:      float64(o.answered) / float64(o.dialed) * 100,
			ConcurrentCalls: inFlight,
		}
		if o.answered > 0 {
			stat.AbandonmentRate = float64(o.abandoned) / float64(o.answered) * 100
		}
		if err := r.stats.Append(ctx, stat); err != nil {
			r.requeue(pending)
			return err
		}
		delete(pending, broadcastID)
	}
	return nil
}

// requeue folds unwritten observations back into the live counters, summing
// with anything recorded since the flush swapped them out.
func (r *Recorder) requeue(pending map[string]*observation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for broadcastID, o := range pending {
		live, ok := r.byBC[broadcastID]
		if !ok {
			r.byBC[broadcastID] = o
			continue
		}
		live.dialed += o.dialed
		live.answered += o.answered
		live.abandoned += o.abandoned
	}
}
