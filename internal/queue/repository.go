package queue

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"dialer-platform/pkg/utils"
)

var (
	ErrNotFound          = errors.New("queue: work item not found")
	ErrIllegalTransition = errors.New("queue: illegal status transition")
)

// Repository is the persistence contract for work items.
//
// The only concurrency-control primitive the engine relies on is the
// conditional update ("move this row only if its status still matches"),
// so every state-changing method here is safe to run from multiple
// dispatcher/sweeper processes at once.
type Repository interface {
	// Insert adds items, skipping any (broadcast_id, phone_number) pair that
	// already exists in any status. Returns the number actually inserted.
	Insert(ctx context.Context, items []WorkItem) (int, error)
	ExistingNumbers(ctx context.Context, tenantID, broadcastID string) (map[string]struct{}, error)

	Count(ctx context.Context, tenantID, broadcastID string) (int, error)
	CountByStatus(ctx context.Context, tenantID, broadcastID string) (map[Status]int, error)
	// CountActive counts calling + in_progress rows: the live in-flight
	// number the concurrency estimator works from. Always recomputed from
	// the table, never cached.
	CountActive(ctx context.Context, tenantID, broadcastID string) (int, error)

	// ClaimPending atomically moves up to limit pending items to calling in
	// insertion order, incrementing attempts in the same update. Two racing
	// dispatchers can never claim the same row.
	ClaimPending(ctx context.Context, tenantID, broadcastID string, limit int) ([]WorkItem, error)
	// ReleaseClaim undoes a claim whose call never reached the provider
	// (tenant dial-cap rejection): calling→pending with the attempt refunded.
	ReleaseClaim(ctx context.Context, tenantID, itemID string) (bool, error)
	// SetCallID records the provider call id on a freshly dispatched item.
	SetCallID(ctx context.Context, tenantID, itemID, callID string) error

	// Transition is the bare compare-and-swap: from→to only if the row still
	// holds from and the move is legal per the transition table.
	Transition(ctx context.Context, tenantID, itemID string, from, to Status) (bool, error)
	// Resolve applies a provider outcome (with optional DTMF digit) to an
	// in-flight item. Returns false when the item was not in-flight anymore.
	Resolve(ctx context.Context, tenantID, itemID string, to Status, dtmf string) (bool, error)
	FindByCallID(ctx context.Context, callID string) (WorkItem, error)

	// SweepStale reclaims in-flight items not updated since olderThan:
	// attempts < max → pending, else failed.
	SweepStale(ctx context.Context, tenantID, broadcastID string, olderThan time.Time) (resetToPending, markedFailed int, err error)
	// RetryFailed resets the retryable cohort (failed, busy, no_answer) to
	// pending with attempts=0.
	RetryFailed(ctx context.Context, tenantID, broadcastID string) (int, error)
	// ClearPending deletes pending rows only; terminal rows are retained for
	// analytics.
	ClearPending(ctx context.Context, tenantID, broadcastID string) (int, error)
}

// PostgresRepo implements Repository.
//
// Assumed table: work_items with
// UNIQUE (broadcast_id, phone_number)
// INDEX (tenant_id, broadcast_id, status)
// INDEX (last_call_id)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const itemColumns = `
id, tenant_id, broadcast_id, lead_id, phone_number, status, attempts, max_attempts,
dtmf_pressed, last_call_id, created_at, updated_at
`

func scanItem(row interface{ Scan(...any) error }) (WorkItem, error) {
	var it WorkItem
	err := row.Scan(
		&it.ID,
		&it.TenantID,
		&it.BroadcastID,
		&it.LeadID,
		&it.PhoneNumber,
		&it.Status,
		&it.Attempts,
		&it.MaxAttempts,
		&it.DTMFPressed,
		&it.LastCallID,
		&it.CreatedAt,
		&it.UpdatedAt,
	)
	return it, err
}

func (r *PostgresRepo) Insert(ctx context.Context, items []WorkItem) (int, error) {
	const q = `
INSERT INTO work_items (
  id, tenant_id, broadcast_id, lead_id, phone_number, status, attempts, max_attempts,
  dtmf_pressed, last_call_id, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
ON CONFLICT (broadcast_id, phone_number) DO NOTHING
`
	added := 0
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		for _, it := range items {
			res, err := tx.ExecContext(ctx, q,
				it.ID,
				it.TenantID,
				it.BroadcastID,
				it.LeadID,
				it.PhoneNumber,
				it.Status,
				it.Attempts,
				it.MaxAttempts,
				it.DTMFPressed,
				it.LastCallID,
				it.CreatedAt,
				it.UpdatedAt,
			)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			added += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

func (r *PostgresRepo) ExistingNumbers(ctx context.Context, tenantID, broadcastID string) (map[string]struct{}, error) {
	const q = `
SELECT phone_number
FROM work_items
WHERE tenant_id = $1 AND broadcast_id = $2
`
	rows, err := r.db.QueryContext(ctx, q, tenantID, broadcastID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]struct{}{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out[p] = struct{}{}
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Count(ctx context.Context, tenantID, broadcastID string) (int, error) {
	const q = `
SELECT COUNT(*) FROM work_items WHERE tenant_id = $1 AND broadcast_id = $2
`
	var n int
	if err := r.db.QueryRowContext(ctx, q, tenantID, broadcastID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *PostgresRepo) CountByStatus(ctx context.Context, tenantID, broadcastID string) (map[Status]int, error) {
	const q = `
SELECT status, COUNT(*)
FROM work_items
WHERE tenant_id = $1 AND broadcast_id = $2
GROUP BY status
`
	rows, err := r.db.QueryContext(ctx, q, tenantID, broadcastID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[Status]int{}
	for rows.Next() {
		var s Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[s] = n
	}
	return out, rows.Err()
}

func (r *PostgresRepo) CountActive(ctx context.Context, tenantID, broadcastID string) (int, error) {
	const q = `
SELECT COUNT(*)
FROM work_items
WHERE tenant_id = $1 AND broadcast_id = $2 AND status IN ('calling','in_progress')
`
	var n int
	if err := r.db.QueryRowContext(ctx, q, tenantID, broadcastID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *PostgresRepo) ClaimPending(ctx context.Context, tenantID, broadcastID string, limit int) ([]WorkItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	// The inner select takes row locks (skipping ones another dispatcher
	// holds) and the outer update re-checks status, so a claim only ever
	// succeeds on a row that was still pending at update time.
	const q = `
UPDATE work_items
SET status = 'calling', attempts = attempts + 1, updated_at = NOW()
WHERE id IN (
  SELECT id FROM work_items
  WHERE tenant_id = $1 AND broadcast_id = $2 AND status = 'pending'
  ORDER BY created_at, id
  LIMIT $3
  FOR UPDATE SKIP LOCKED
) AND status = 'pending'
RETURNING ` + itemColumns + `
`
	rows, err := r.db.QueryContext(ctx, q, tenantID, broadcastID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WorkItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) ReleaseClaim(ctx context.Context, tenantID, itemID string) (bool, error) {
	const q = `
UPDATE work_items
SET status = 'pending', attempts = attempts - 1, updated_at = NOW()
WHERE tenant_id = $1 AND id = $2 AND status = 'calling' AND attempts > 0
`
	res, err := r.db.ExecContext(ctx, q, tenantID, itemID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresRepo) SetCallID(ctx context.Context, tenantID, itemID, callID string) error {
	const q = `
UPDATE work_items
SET last_call_id = $1
WHERE tenant_id = $2 AND id = $3
`
	_, err := r.db.ExecContext(ctx, q, callID, tenantID, itemID)
	return err
}

func (r *PostgresRepo) Transition(ctx context.Context, tenantID, itemID string, from, to Status) (bool, error) {
	if !CanTransition(from, to) {
		return false, ErrIllegalTransition
	}
	const q = `
UPDATE work_items
SET status = $1, updated_at = NOW()
WHERE tenant_id = $2 AND id = $3 AND status = $4
`
	res, err := r.db.ExecContext(ctx, q, to, tenantID, itemID, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresRepo) Resolve(ctx context.Context, tenantID, itemID string, to Status, dtmf string) (bool, error) {
	if !CanTransition(StatusCalling, to) {
		return false, ErrIllegalTransition
	}

	// in_progress may only be entered from calling; outcomes may land from
	// either in-flight state.
	fromClause := `status IN ('calling','in_progress')`
	if to == StatusInProgress {
		fromClause = `status = 'calling'`
	}

	q := `
UPDATE work_items
SET status = $1,
    dtmf_pressed = CASE WHEN $2 <> '' THEN $2 ELSE dtmf_pressed END,
    updated_at = NOW()
WHERE tenant_id = $3 AND id = $4 AND ` + fromClause + `
`
	res, err := r.db.ExecContext(ctx, q, to, dtmf, tenantID, itemID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresRepo) FindByCallID(ctx context.Context, callID string) (WorkItem, error) {
	const q = `
SELECT ` + itemColumns + `
FROM work_items
WHERE last_call_id = $1
LIMIT 1
`
	it, err := scanItem(r.db.QueryRowContext(ctx, q, callID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return WorkItem{}, ErrNotFound
		}
		return WorkItem{}, err
	}
	return it, nil
}

func (r *PostgresRepo) SweepStale(ctx context.Context, tenantID, broadcastID string, olderThan time.Time) (int, int, error) {
	// Both updates re-check the stale predicate at update time, so a webhook
	// landing mid-sweep wins and the sweep is idempotent.
	const resetQ = `
UPDATE work_items
SET status = 'pending', updated_at = NOW()
WHERE tenant_id = $1 AND broadcast_id = $2
  AND status IN ('calling','in_progress')
  AND updated_at < $3
  AND attempts < max_attempts
`
	const failQ = `
UPDATE work_items
SET status = 'failed', updated_at = NOW()
WHERE tenant_id = $1 AND broadcast_id = $2
  AND status IN ('calling','in_progress')
  AND updated_at < $3
  AND attempts >= max_attempts
`
	var reset, failed int64
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, resetQ, tenantID, broadcastID, olderThan)
		if err != nil {
			return err
		}
		if reset, err = res.RowsAffected(); err != nil {
			return err
		}
		res, err = tx.ExecContext(ctx, failQ, tenantID, broadcastID, olderThan)
		if err != nil {
			return err
		}
		if failed, err = res.RowsAffected(); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return int(reset), int(failed), nil
}

func (r *PostgresRepo) RetryFailed(ctx context.Context, tenantID, broadcastID string) (int, error) {
	// Deliberately resets the attempt budget: this is the operator's
	// "try the unreached cohort again". busy and no_answer ride along with
	// failed; they are the other statuses with a legal path back to pending.
	const q = `
UPDATE work_items
SET status = 'pending', attempts = 0, updated_at = NOW()
WHERE tenant_id = $1 AND broadcast_id = $2 AND status IN ('failed', 'busy', 'no_answer')
`
	res, err := r.db.ExecContext(ctx, q, tenantID, broadcastID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *PostgresRepo) ClearPending(ctx context.Context, tenantID, broadcastID string) (int, error) {
	const q = `
DELETE FROM work_items
WHERE tenant_id = $1 AND broadcast_id = $2 AND status = 'pending'
`
	res, err := r.db.ExecContext(ctx, q, tenantID, broadcastID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
