package broadcast

import (
	"fmt"
	"time"
)

// Broadcast is one outbound-calling campaign/run.
//
// Multi-tenant invariant: TenantID is required on every row and enforced in
// every query.
//
// TotalItems is a cached count of queue rows for UI display. It is
// self-healed to the true row count by the admission filter after every
// enqueue, so partial insert failures cannot leave it drifting.
type Broadcast struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	Name     string `json:"name" db:"name"`

	Status Status `json:"status" db:"status"`

	// CallerID is the outbound E.164 number presented to callees.
	CallerID string `json:"caller_id" db:"caller_id"`
	// AgentID identifies the voice agent/IVR script handling answered calls.
	AgentID string `json:"agent_id" db:"agent_id"`

	// AudioReady is set once the broadcast's voice audio has been generated.
	AudioReady bool `json:"audio_ready" db:"audio_ready"`
	// IVREnabled indicates the broadcast plays an IVR menu (DTMF capture).
	IVREnabled bool `json:"ivr_enabled" db:"ivr_enabled"`

	TotalItems int `json:"total_items" db:"total_items"`

	Config Config `json:"config"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
)

// CanTransition is the broadcast lifecycle transition table.
// Stopping never cancels in-flight calls; those resolve via provider
// callbacks or the sweeper.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusDraft:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusPaused || to == StatusStopped || to == StatusCompleted
	case StatusPaused:
		return to == StatusRunning || to == StatusStopped
	default:
		return false
	}
}

// Config is the per-broadcast dialing configuration. It is copied into
// work items where immutability matters (max attempts) and read-only to the
// engine during a run.
type Config struct {
	CallsPerMinute int `json:"calls_per_minute" db:"calls_per_minute"`
	MaxAttempts    int `json:"max_attempts" db:"max_attempts"`

	// Calling hours, "HH:MM" local to Timezone. Zero values disable the window.
	CallingHoursStart  string `json:"calling_hours_start" db:"calling_hours_start"`
	CallingHoursEnd    string `json:"calling_hours_end" db:"calling_hours_end"`
	Timezone           string `json:"timezone" db:"timezone"`
	BypassCallingHours bool   `json:"bypass_calling_hours" db:"bypass_calling_hours"`
}

// WithinCallingHours reports whether now falls inside the configured local
// calling window. Overnight windows (start > end) span midnight.
func (c Config) WithinCallingHours(now time.Time) (bool, error) {
	if c.BypassCallingHours {
		return true, nil
	}
	if c.CallingHoursStart == "" || c.CallingHoursEnd == "" {
		return true, nil
	}

	loc := time.UTC
	if c.Timezone != "" {
		l, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return false, fmt.Errorf("broadcast: bad timezone %q: %w", c.Timezone, err)
		}
		loc = l
	}

	start, err := parseClock(c.CallingHoursStart)
	if err != nil {
		return false, err
	}
	end, err := parseClock(c.CallingHoursEnd)
	if err != nil {
		return false, err
	}

	local := now.In(loc)
	cur := local.Hour()*60 + local.Minute()

	if start == end {
		return true, nil
	}
	if start < end {
		return cur >= start && cur < end, nil
	}
	// overnight window, e.g. 20:00-08:00
	return cur >= start || cur < end, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("broadcast: bad clock value %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ConcurrencySettings caps and targets for a tenant's dialing.
// Mutated only by configuration, never by the engine.
type ConcurrencySettings struct {
	TenantID string `json:"tenant_id" db:"tenant_id"`

	// MaxConcurrentCalls is the hard in-flight ceiling the dispatcher enforces.
	MaxConcurrentCalls int `json:"max_concurrent_calls" db:"max_concurrent_calls"`

	// TargetAbandonmentRate is the regulatory ceiling in percent (e.g. 3).
	TargetAbandonmentRate float64 `json:"target_abandonment_rate" db:"target_abandonment_rate"`
	// TargetUtilization is the efficiency goal in percent (e.g. 80).
	TargetUtilization float64 `json:"target_utilization" db:"target_utilization"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultConcurrencySettings applies when a tenant has no stored settings.
func DefaultConcurrencySettings(tenantID string) ConcurrencySettings {
	return ConcurrencySettings{
		TenantID:              tenantID,
		MaxConcurrentCalls:    10,
		TargetAbandonmentRate: 3,
		TargetUtilization:     80,
	}
}
