package queue

import "time"

// WorkItem is one phone number's unit of dial work within a broadcast.
//
// Multi-tenant invariant: TenantID is required on every row.
// Uniqueness invariant: (broadcast_id, phone_number) is unique. Enqueue
// deduplicates, so a lead is never dialed twice within the same run.
//
// Attempts increments exactly once per dispatch, atomically with the
// pending→calling claim, and never exceeds MaxAttempts.
type WorkItem struct {
	ID          string `json:"id" db:"id"`
	TenantID    string `json:"tenant_id" db:"tenant_id"`
	BroadcastID string `json:"broadcast_id" db:"broadcast_id"`

	// LeadID links to a CRM lead; empty for raw-number broadcasts.
	LeadID string `json:"lead_id,omitempty" db:"lead_id"`

	// PhoneNumber is E.164, normalized by the admission filter.
	PhoneNumber string `json:"phone_number" db:"phone_number"`

	Status Status `json:"status" db:"status"`

	Attempts int `json:"attempts" db:"attempts"`
	// MaxAttempts is copied from the broadcast config at enqueue time and
	// immutable per item.
	MaxAttempts int `json:"max_attempts" db:"max_attempts"`

	// DTMFPressed is the IVR digit captured by the provider callback, if any.
	DTMFPressed string `json:"dtmf_pressed,omitempty" db:"dtmf_pressed"`

	// LastCallID is the provider call id from the most recent initiation,
	// used to correlate status callbacks back to this item.
	LastCallID string `json:"last_call_id,omitempty" db:"last_call_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	// UpdatedAt refreshes on every status transition; the sweeper uses it to
	// detect items stuck mid-call.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusPending     Status = "pending"
	StatusCalling     Status = "calling"
	StatusInProgress  Status = "in_progress"
	StatusAnswered    Status = "answered"
	StatusCompleted   Status = "completed"
	StatusTransferred Status = "transferred"
	StatusCallback    Status = "callback"
	StatusBusy        Status = "busy"
	StatusNoAnswer    Status = "no_answer"
	StatusDNC         Status = "dnc"
	StatusFailed      Status = "failed"
)

// Valid reports whether s is a member of the closed status set.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCalling, StatusInProgress, StatusAnswered,
		StatusCompleted, StatusTransferred, StatusCallback, StatusBusy,
		StatusNoAnswer, StatusDNC, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether s is a final outcome. Terminal items never
// re-enter pending automatically; only the explicit operator retry surface
// resets failed (and the redialable busy/no_answer) items.
func (s Status) Terminal() bool {
	switch s {
	case StatusAnswered, StatusCompleted, StatusTransferred, StatusCallback, StatusDNC, StatusFailed:
		return true
	default:
		return false
	}
}

// Active reports whether s counts toward the in-flight concurrency ceiling.
func (s Status) Active() bool {
	return s == StatusCalling || s == StatusInProgress
}

// Retryable reports whether the operator retry surface may put the item
// back in the pending pool. Mirrors the statuses with a legal transition
// back to pending in the state machine.
func (s Status) Retryable() bool {
	return s == StatusFailed || s == StatusBusy || s == StatusNoAnswer
}

// outcomes a claimed (in-flight) item may resolve to via provider callback.
var callOutcomes = []Status{
	StatusAnswered, StatusCompleted, StatusTransferred, StatusCallback,
	StatusBusy, StatusNoAnswer, StatusDNC, StatusFailed,
}

// transitions is the enforced state machine. Anything not listed is illegal
// and rejected by the repositories.
var transitions = map[Status][]Status{
	StatusPending:    {StatusCalling},
	StatusCalling:    append([]Status{StatusInProgress, StatusPending}, callOutcomes...),
	StatusInProgress: append([]Status{StatusPending}, callOutcomes...),
	// busy/no_answer are redialable but only through the explicit operator
	// retry surface, never by the dispatcher.
	StatusBusy:     {StatusPending},
	StatusNoAnswer: {StatusPending},
	StatusFailed:   {StatusPending},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Summary is a per-status breakdown of a broadcast's queue.
type Summary struct {
	BroadcastID string         `json:"broadcast_id"`
	Total       int            `json:"total"`
	ByStatus    map[Status]int `json:"by_status"`
}
