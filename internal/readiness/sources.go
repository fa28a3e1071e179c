package readiness

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

// PostgresNumberInventory reads the tenant's caller id pool.
//
// Assumed table: phone_numbers (tenant_id, number, quarantined bool).
type PostgresNumberInventory struct {
	db *sql.DB
}

func NewPostgresNumberInventory(db *sql.DB) *PostgresNumberInventory {
	return &PostgresNumberInventory{db: db}
}

func (r *PostgresNumberInventory) CountNumbers(ctx context.Context, tenantID string) (int, int, error) {
	const q = `
SELECT
  COUNT(*) FILTER (WHERE NOT quarantined),
  COUNT(*) FILTER (WHERE quarantined)
FROM phone_numbers
WHERE tenant_id = $1
`
	var eligible, quarantined int
	if err := r.db.QueryRowContext(ctx, q, tenantID).Scan(&eligible, &quarantined); err != nil {
		return 0, 0, err
	}
	return eligible, quarantined, nil
}

// PostgresAlertSource counts recent error-severity alerts.
//
// Assumed table: system_alerts (tenant_id, severity, created_at).
type PostgresAlertSource struct {
	db     *sql.DB
	window time.Duration
}

func NewPostgresAlertSource(db *sql.DB, window time.Duration) *PostgresAlertSource {
	if window <= 0 {
		window = time.Hour
	}
	return &PostgresAlertSource{db: db, window: window}
}

func (r *PostgresAlertSource) RecentErrorCount(ctx context.Context, tenantID string) (int, error) {
	const q = `
SELECT COUNT(*)
FROM system_alerts
WHERE tenant_id = $1 AND severity = 'error' AND created_at > NOW() - $2::interval
`
	var n int
	if err := r.db.QueryRowContext(ctx, q, tenantID, r.window.String()).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// MemoryNumberInventory is an in-memory NumberInventory for tests.
type MemoryNumberInventory struct {
	mu          sync.Mutex
	eligible    map[string]int
	quarantined map[string]int
	Err         error
}

func NewMemoryNumberInventory() *MemoryNumberInventory {
	return &MemoryNumberInventory{
		eligible:    make(map[string]int),
		quarantined: make(map[string]int),
	}
}

func (r *MemoryNumberInventory) Set(tenantID string, eligible, quarantined int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eligible[tenantID] = eligible
	r.quarantined[tenantID] = quarantined
}

func (r *MemoryNumberInventory) CountNumbers(ctx context.Context, tenantID string) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, 0, r.Err
	}
	return r.eligible[tenantID], r.quarantined[tenantID], nil
}

// MemoryAlertSource is an in-memory AlertSource for tests.
type MemoryAlertSource struct {
	mu     sync.Mutex
	counts map[string]int
	Err    error
}

func NewMemoryAlertSource() *MemoryAlertSource {
	return &MemoryAlertSource{counts: make(map[string]int)}
}

func (r *MemoryAlertSource) Set(tenantID string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[tenantID] = n
}

func (r *MemoryAlertSource) RecentErrorCount(ctx context.Context, tenantID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return 0, r.Err
	}
	return r.counts[tenantID], nil
}
