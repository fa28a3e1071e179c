// Package readiness gates the broadcast start transition behind a fixed
// battery of checks. It runs once per start/resume attempt, never inside the
// dispatch loop.
package readiness

import (
	"context"
	"fmt"
	"time"

	"dialer-platform/internal/broadcast"
	"dialer-platform/internal/queue"
)

type Outcome string

const (
	OutcomePass    Outcome = "pass"
	OutcomeWarning Outcome = "warning"
	OutcomeFail    Outcome = "fail"
)

// Check is one evaluated preflight item. Only a failed critical check
// blocks the start; warnings surface in the report without blocking.
type Check struct {
	Name     string  `json:"name"`
	Outcome  Outcome `json:"outcome"`
	Critical bool    `json:"critical"`
	Reason   string  `json:"reason,omitempty"`
}

type Report struct {
	IsReady          bool     `json:"is_ready"`
	CriticalFailures int      `json:"critical_failures"`
	Warnings         int      `json:"warnings"`
	BlockingReasons  []string `json:"blocking_reasons"`
	Checks           []Check  `json:"checks"`
}

// NumberInventory reports the tenant's dialable caller id pool. Quarantined
// numbers (spam-flagged, carrier-blocked) are not eligible.
type NumberInventory interface {
	CountNumbers(ctx context.Context, tenantID string) (eligible, quarantined int, err error)
}

// AlertSource reports recent system alert counts, the catastrophic-error
// signal for the preflight.
type AlertSource interface {
	RecentErrorCount(ctx context.Context, tenantID string) (int, error)
}

// errorAlertThreshold is the recent alert count above which starting a new
// broadcast is blocked outright.
const errorAlertThreshold = 50

type Checker struct {
	broadcasts broadcast.Repository
	items      queue.Repository
	numbers    NumberInventory
	alerts     AlertSource
	clock      func() time.Time
}

func NewChecker(broadcasts broadcast.Repository, items queue.Repository, numbers NumberInventory, alerts AlertSource) *Checker {
	return &Checker{
		broadcasts: broadcasts,
		items:      items,
		numbers:    numbers,
		alerts:     alerts,
		clock:      time.Now,
	}
}

// CheckReadiness evaluates the full battery for one broadcast. Data-source
// errors fail the affected check as critical rather than aborting the
// report: a preflight that cannot see its inputs must not green-light a
// start.
func (c *Checker) CheckReadiness(ctx context.Context, tenantID, broadcastID string) (Report, error) {
	bc, err := c.broadcasts.Get(ctx, tenantID, broadcastID)
	if err != nil {
		return Report{}, err
	}

	checks := []Check{
		c.checkAudio(bc),
		c.checkQueue(ctx, bc),
		c.checkNumbers(ctx, bc),
		c.checkCallingHours(bc),
		c.checkAlerts(ctx, bc),
	}

	report := Report{IsReady: true, Checks: checks, BlockingReasons: []string{}}
	for _, ch := range checks {
		switch ch.Outcome {
		case OutcomeWarning:
			report.Warnings++
		case OutcomeFail:
			if ch.Critical {
				report.CriticalFailures++
				report.BlockingReasons = append(report.BlockingReasons, ch.Reason)
			} else {
				report.Warnings++
			}
		}
	}
	report.IsReady = report.CriticalFailures == 0
	return report, nil
}

func (c *Checker) checkAudio(bc broadcast.Broadcast) Check {
	ch := Check{Name: "audio", Critical: true, Outcome: OutcomePass}
	if !bc.AudioReady {
		ch.Outcome = OutcomeFail
		ch.Reason = "Audio not generated"
	}
	return ch
}

func (c *Checker) checkQueue(ctx context.Context, bc broadcast.Broadcast) Check {
	ch := Check{Name: "queue", Critical: true, Outcome: OutcomePass}
	counts, err := c.items.CountByStatus(ctx, bc.TenantID, bc.ID)
	if err != nil {
		ch.Outcome = OutcomeFail
		ch.Reason = fmt.Sprintf("Queue unreadable: %v", err)
		return ch
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	switch {
	case total == 0:
		ch.Outcome = OutcomeFail
		ch.Reason = "Queue is empty"
	case counts[queue.StatusPending] == 0:
		// Everything already dialed: resumable but nothing will happen
		// until a retry repopulates pending.
		ch.Outcome = OutcomeWarning
		ch.Reason = "No pending items remain"
	}
	return ch
}

func (c *Checker) checkNumbers(ctx context.Context, bc broadcast.Broadcast) Check {
	ch := Check{Name: "phone_numbers", Critical: true, Outcome: OutcomePass}
	eligible, quarantined, err := c.numbers.CountNumbers(ctx, bc.TenantID)
	if err != nil {
		ch.Outcome = OutcomeFail
		ch.Reason = fmt.Sprintf("Number inventory unreadable: %v", err)
		return ch
	}
	switch {
	case eligible == 0:
		ch.Outcome = OutcomeFail
		ch.Reason = "No eligible phone numbers available"
	case quarantined > 0:
		ch.Outcome = OutcomeWarning
		ch.Reason = fmt.Sprintf("%d phone numbers quarantined", quarantined)
	}
	return ch
}

func (c *Checker) checkCallingHours(bc broadcast.Broadcast) Check {
	ch := Check{Name: "calling_hours", Critical: false, Outcome: OutcomePass}
	within, err := bc.Config.WithinCallingHours(c.clock())
	if err != nil {
		ch.Outcome = OutcomeWarning
		ch.Reason = fmt.Sprintf("Calling hours unparseable: %v", err)
		return ch
	}
	if !within {
		// Non-critical: the dispatcher holds claims until the window opens.
		ch.Outcome = OutcomeWarning
		ch.Reason = "Outside configured calling hours"
	}
	return ch
}

func (c *Checker) checkAlerts(ctx context.Context, bc broadcast.Broadcast) Check {
	ch := Check{Name: "system_alerts", Critical: true, Outcome: OutcomePass}
	n, err := c.alerts.RecentErrorCount(ctx, bc.TenantID)
	if err != nil {
		ch.Outcome = OutcomeFail
		ch.Reason = fmt.Sprintf("Alert source unreadable: %v", err)
		return ch
	}
	switch {
	case n > errorAlertThreshold:
		ch.Outcome = OutcomeFail
		ch.Reason = fmt.Sprintf("Recent error rate too high (%d alerts)", n)
	case n > errorAlertThreshold/2:
		ch.Outcome = OutcomeWarning
		ch.Reason = fmt.Sprintf("Elevated error rate (%d alerts)", n)
	}
	return ch
}

// Preflight adapts the checker to the broadcast service's start gate.
func (c *Checker) Preflight(ctx context.Context, tenantID, broadcastID string) (bool, []string, error) {
	report, err := c.CheckReadiness(ctx, tenantID, broadcastID)
	if err != nil {
		return false, nil, err
	}
	return report.IsReady, report.BlockingReasons, nil
}
