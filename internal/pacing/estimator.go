package pacing

import (
	"math"

	"dialer-platform/internal/broadcast"
)

// DialingRate is the concurrency estimator's per-tick output.
type DialingRate struct {
	CurrentConcurrency int `json:"current_concurrency"`
	// UtilizationRate is percent of the hard ceiling in use, clamped [0,100].
	UtilizationRate int `json:"utilization_rate"`
	// Headroom is how many new calls this tick may start without exceeding
	// either the learner's advisory concurrency or the hard ceiling.
	Headroom int `json:"headroom"`
	// RecommendedRate is how many calls the dispatcher should start this
	// cycle: the configured calls/minute capped by headroom.
	RecommendedRate int `json:"recommended_rate"`
}

// ComputeDialingRate derives safe pacing from the live in-flight count, the
// tenant's concurrency settings and the learner's advisory output.
//
// Pure function, no I/O: safe to call on every dispatch tick and trivially
// deterministic under test. activeCalls must come from a live table count,
// never a cached counter.
func ComputeDialingRate(activeCalls int, settings broadcast.ConcurrencySettings, learned Recommendation, callsPerMinute int) DialingRate {
	maxConc := settings.MaxConcurrentCalls
	if maxConc <= 0 {
		maxConc = 1
	}
	if activeCalls < 0 {
		activeCalls = 0
	}

	utilization := int(math.Round(float64(activeCalls) / float64(maxConc) * 100))
	if utilization < 0 {
		utilization = 0
	}
	if utilization > 100 {
		utilization = 100
	}

	allowed := learned.RecommendedConcurrency
	if allowed <= 0 || allowed > maxConc {
		allowed = maxConc
	}

	headroom := allowed - activeCalls
	if headroom < 0 {
		headroom = 0
	}
	// The hard ceiling always wins over the advisory value.
	if activeCalls+headroom > maxConc {
		headroom = maxConc - activeCalls
		if headroom < 0 {
			headroom = 0
		}
	}

	rate := callsPerMinute
	if rate <= 0 || rate > headroom {
		rate = headroom
	}

	return DialingRate{
		CurrentConcurrency: activeCalls,
		UtilizationRate:    utilization,
		Headroom:           headroom,
		RecommendedRate:    rate,
	}
}
