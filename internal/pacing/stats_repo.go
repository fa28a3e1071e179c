package pacing

import (
	"context"
	"database/sql"
	"sync"
)

// StatsRepository is the append-only contract for historical dialing stats.
type StatsRepository interface {
	Append(ctx context.Context, s HistoricalStat) error
	// Recent returns up to n most recent stats for the broadcast, newest last.
	Recent(ctx context.Context, tenantID, broadcastID string, n int) ([]HistoricalStat, error)
}

// PostgresStatsRepo implements StatsRepository.
//
// Assumed table: dialing_stats, INSERT-only, indexed on
// (tenant_id, broadcast_id, timestamp).
type PostgresStatsRepo struct {
	db *sql.DB
}

func NewPostgresStatsRepo(db *sql.DB) *PostgresStatsRepo { return &PostgresStatsRepo{db: db} }

func (r *PostgresStatsRepo) Append(ctx context.Context, s HistoricalStat) error {
	const q = `
INSERT INTO dialing_stats (tenant_id, broadcast_id, timestamp, answer_rate, abandonment_rate, concurrent_calls)
VALUES ($1,$2,$3,$4,$5,$6)
`
	_, err := r.db.ExecContext(ctx, q,
		s.TenantID,
		s.BroadcastID,
		s.Timestamp,
		s.AnswerRate,
		s.AbandonmentRate,
		s.ConcurrentCalls,
	)
	return err
}

func (r *PostgresStatsRepo) Recent(ctx context.Context, tenantID, broadcastID string, n int) ([]HistoricalStat, error) {
	if n <= 0 {
		return nil, nil
	}
	const q = `
SELECT tenant_id, broadcast_id, timestamp, answer_rate, abandonment_rate, concurrent_calls
FROM dialing_stats
WHERE tenant_id = $1 AND broadcast_id = $2
ORDER BY timestamp DESC
LIMIT $3
`
	rows, err := r.db.QueryContext(ctx, q, tenantID, broadcastID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var desc []HistoricalStat
	for rows.Next() {
		var s HistoricalStat
		if err := rows.Scan(&s.TenantID, &s.BroadcastID, &s.Timestamp, &s.AnswerRate, &s.AbandonmentRate, &s.ConcurrentCalls); err != nil {
			return nil, err
		}
		desc = append(desc, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// newest last for the learner
	out := make([]HistoricalStat, len(desc))
	for i, s := range desc {
		out[len(desc)-1-i] = s
	}
	return out, nil
}

// MemoryStatsRepo is an in-memory StatsRepository for tests.
type MemoryStatsRepo struct {
	mu    sync.Mutex
	stats []HistoricalStat
}

func NewMemoryStatsRepo() *MemoryStatsRepo { return &MemoryStatsRepo{} }

func (r *MemoryStatsRepo) Append(ctx context.Context, s HistoricalStat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = append(r.stats, s)
	return nil
}

func (r *MemoryStatsRepo) Recent(ctx context.Context, tenantID, broadcastID string, n int) ([]HistoricalStat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []HistoricalStat
	for _, s := range r.stats {
		if s.TenantID == tenantID && s.BroadcastID == broadcastID {
			all = append(all, s)
		}
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	out := make([]HistoricalStat, len(all))
	copy(out, all)
	return out, nil
}
