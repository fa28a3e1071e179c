package pacing

import "time"

// HistoricalStat is one completed dialing interval's aggregate metrics.
// The series is append-only: rows are never mutated, only appended and
// windowed (most recent N) by the learner.
type HistoricalStat struct {
	TenantID    string `json:"tenant_id" db:"tenant_id"`
	BroadcastID string `json:"broadcast_id" db:"broadcast_id"`

	Timestamp time.Time `json:"timestamp" db:"timestamp"`

	// AnswerRate and AbandonmentRate are percentages over the interval.
	AnswerRate      float64 `json:"answer_rate" db:"answer_rate"`
	AbandonmentRate float64 `json:"abandonment_rate" db:"abandonment_rate"`

	// ConcurrentCalls is the in-flight count sampled at interval close.
	ConcurrentCalls int `json:"concurrent_calls" db:"concurrent_calls"`
}
