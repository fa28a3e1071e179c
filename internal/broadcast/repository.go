package broadcast

import (
	"context"
	"database/sql"
	"errors"
)

var (
	ErrNotFound          = errors.New("broadcast: not found")
	ErrIllegalTransition = errors.New("broadcast: illegal status transition")
)

// Repository abstracts broadcast persistence.
//
// IMPORTANT: every read/write must enforce tenant filtering.
type Repository interface {
	Get(ctx context.Context, tenantID, broadcastID string) (Broadcast, error)
	// ListRunning returns running broadcasts across all tenants for the
	// dispatcher loop.
	ListRunning(ctx context.Context) ([]Broadcast, error)
	// UpdateStatus performs a conditional status transition. It returns
	// ErrIllegalTransition when the stored status does not admit the move.
	UpdateStatus(ctx context.Context, tenantID, broadcastID string, to Status) error
	// SetTotalItems overwrites the cached queue size with the true count.
	SetTotalItems(ctx context.Context, tenantID, broadcastID string, n int) error

	ConcurrencySettings(ctx context.Context, tenantID string) (ConcurrencySettings, error)
}

// PostgresRepo implements Repository over database/sql.
//
// Assumed tables: broadcasts (config columns inline), tenant_concurrency_settings.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const broadcastColumns = `
id, tenant_id, name, status, caller_id, agent_id, audio_ready, ivr_enabled, total_items,
calls_per_minute, max_attempts, calling_hours_start, calling_hours_end, timezone, bypass_calling_hours,
created_at, updated_at
`

func scanBroadcast(row interface{ Scan(...any) error }) (Broadcast, error) {
	var b Broadcast
	err := row.Scan(
		&b.ID,
		&b.TenantID,
		&b.Name,
		&b.Status,
		&b.CallerID,
		&b.AgentID,
		&b.AudioReady,
		&b.IVREnabled,
		&b.TotalItems,
		&b.Config.CallsPerMinute,
		&b.Config.MaxAttempts,
		&b.Config.CallingHoursStart,
		&b.Config.CallingHoursEnd,
		&b.Config.Timezone,
		&b.Config.BypassCallingHours,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	return b, err
}

func (r *PostgresRepo) Get(ctx context.Context, tenantID, broadcastID string) (Broadcast, error) {
	const q = `
SELECT ` + broadcastColumns + `
FROM broadcasts
WHERE tenant_id = $1 AND id = $2
`
	b, err := scanBroadcast(r.db.QueryRowContext(ctx, q, tenantID, broadcastID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Broadcast{}, ErrNotFound
		}
		return Broadcast{}, err
	}
	return b, nil
}

func (r *PostgresRepo) ListRunning(ctx context.Context) ([]Broadcast, error) {
	const q = `
SELECT ` + broadcastColumns + `
FROM broadcasts
WHERE status = $1
ORDER BY created_at
`
	rows, err := r.db.QueryContext(ctx, q, StatusRunning)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Broadcast
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, tenantID, broadcastID string, to Status) error {
	cur, err := r.Get(ctx, tenantID, broadcastID)
	if err != nil {
		return err
	}
	if !CanTransition(cur.Status, to) {
		return ErrIllegalTransition
	}

	// Conditional update: only succeeds if the status is still what we read,
	// so a racing writer cannot force an illegal move.
	const q = `
UPDATE broadcasts
SET status = $1, updated_at = NOW()
WHERE tenant_id = $2 AND id = $3 AND status = $4
`
	res, err := r.db.ExecContext(ctx, q, to, tenantID, broadcastID, cur.Status)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrIllegalTransition
	}
	return nil
}

func (r *PostgresRepo) SetTotalItems(ctx context.Context, tenantID, broadcastID string, n int) error {
	const q = `
UPDATE broadcasts
SET total_items = $1, updated_at = NOW()
WHERE tenant_id = $2 AND id = $3
`
	res, err := r.db.ExecContext(ctx, q, n, tenantID, broadcastID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) ConcurrencySettings(ctx context.Context, tenantID string) (ConcurrencySettings, error) {
	const q = `
SELECT tenant_id, max_concurrent_calls, target_abandonment_rate, target_utilization, updated_at
FROM tenant_concurrency_settings
WHERE tenant_id = $1
`
	var s ConcurrencySettings
	err := r.db.QueryRowContext(ctx, q, tenantID).Scan(
		&s.TenantID,
		&s.MaxConcurrentCalls,
		&s.TargetAbandonmentRate,
		&s.TargetUtilization,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DefaultConcurrencySettings(tenantID), nil
		}
		return ConcurrencySettings{}, err
	}
	return s, nil
}
