package pacing

import (
	"math"

	"dialer-platform/internal/broadcast"
)

// Recommendation is the predictive pacing learner's advisory output.
// It never bypasses the hard ceiling: the dispatcher alone enforces
// MaxConcurrentCalls.
type Recommendation struct {
	AvgAnswerRate          float64 `json:"avg_answer_rate"`
	AvgAbandonmentRate     float64 `json:"avg_abandonment_rate"`
	RecommendedConcurrency int     `json:"recommended_concurrency"`
}

const (
	// abandonment over target shrinks concurrency multiplicatively
	shrinkFactor = 0.8
	// under-utilization grows concurrency incrementally
	growthFactor = 1.1
)

// LearnFromHistory aggregates the given stats window into a pacing
// recommendation.
//
// Policy, in priority order:
//  1. avg abandonment above the regulatory target → shrink, regardless of
//     utilization. The regulatory ceiling dominates the efficiency goal.
//  2. abandonment in bounds but utilization below target → grow toward the
//     ceiling.
//  3. otherwise hold.
//
// Cold start: with no history the recommendation seeds from
// seedConcurrency (derived from the broadcast's calls-per-minute) so
// dialing never stalls at zero.
func LearnFromHistory(stats []HistoricalStat, settings broadcast.ConcurrencySettings, seedConcurrency int) Recommendation {
	maxConc := settings.MaxConcurrentCalls
	if maxConc <= 0 {
		maxConc = 1
	}

	if len(stats) == 0 {
		seed := seedConcurrency
		if seed <= 0 {
			seed = 1
		}
		if seed > maxConc {
			seed = maxConc
		}
		return Recommendation{RecommendedConcurrency: seed}
	}

	var answerSum, abandonSum float64
	var concSum int
	for _, s := range stats {
		answerSum += s.AnswerRate
		abandonSum += s.AbandonmentRate
		concSum += s.ConcurrentCalls
	}
	n := float64(len(stats))
	avgAnswer := answerSum / n
	avgAbandon := abandonSum / n
	avgConc := float64(concSum) / n
	if avgConc < 1 {
		avgConc = 1
	}

	rec := Recommendation{
		AvgAnswerRate:      avgAnswer,
		AvgAbandonmentRate: avgAbandon,
	}

	utilization := avgConc / float64(maxConc) * 100

	switch {
	case avgAbandon > settings.TargetAbandonmentRate:
		rec.RecommendedConcurrency = int(math.Floor(avgConc * shrinkFactor))
	case utilization < settings.TargetUtilization:
		grown := int(math.Ceil(avgConc * growthFactor))
		if grown <= int(avgConc) {
			grown = int(avgConc) + 1
		}
		rec.RecommendedConcurrency = grown
	default:
		rec.RecommendedConcurrency = int(math.Round(avgConc))
	}

	if rec.RecommendedConcurrency < 1 {
		rec.RecommendedConcurrency = 1
	}
	if rec.RecommendedConcurrency > maxConc {
		rec.RecommendedConcurrency = maxConc
	}
	return rec
}
