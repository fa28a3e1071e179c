package broadcast

import (
	"context"
	"errors"
)

// PreflightFunc evaluates readiness for a broadcast. It is injected as a
// function to keep this package free of a dependency on internal/readiness.
type PreflightFunc func(ctx context.Context, tenantID, broadcastID string) (ready bool, blockingReasons []string, err error)

// Service drives the broadcast lifecycle. The readiness preflight gates
// every transition into running; stopping/pausing never touches in-flight
// calls (those resolve via provider callbacks or the sweeper).
type Service struct {
	repo      Repository
	preflight PreflightFunc
}

func NewService(repo Repository, preflight PreflightFunc) *Service {
	return &Service{repo: repo, preflight: preflight}
}

var ErrInvalidArgument = errors.New("broadcast: invalid argument")

// StartResult reports the outcome of a start request. BlockingReasons is
// populated when the preflight refused the start.
type StartResult struct {
	Started         bool     `json:"started"`
	BlockingReasons []string `json:"blocking_reasons,omitempty"`
}

// Start runs the readiness preflight and, if it passes, moves the broadcast
// into running. A preflight refusal is reported in the result, not as an
// error, so callers can render the blocking reasons.
func (s *Service) Start(ctx context.Context, tenantID, broadcastID string) (StartResult, error) {
	if tenantID == "" || broadcastID == "" {
		return StartResult{}, ErrInvalidArgument
	}
	if s.preflight != nil {
		ready, reasons, err := s.preflight(ctx, tenantID, broadcastID)
		if err != nil {
			return StartResult{}, err
		}
		if !ready {
			return StartResult{Started: false, BlockingReasons: reasons}, nil
		}
	}
	if err := s.repo.UpdateStatus(ctx, tenantID, broadcastID, StatusRunning); err != nil {
		return StartResult{}, err
	}
	return StartResult{Started: true}, nil
}

// Stop halts dispatching for the broadcast. New claims cease on the next
// dispatcher tick; in-flight provider calls are left to resolve naturally.
func (s *Service) Stop(ctx context.Context, tenantID, broadcastID string) error {
	if tenantID == "" || broadcastID == "" {
		return ErrInvalidArgument
	}
	return s.repo.UpdateStatus(ctx, tenantID, broadcastID, StatusStopped)
}

// Pause temporarily halts dispatching; Start resumes (re-running preflight).
func (s *Service) Pause(ctx context.Context, tenantID, broadcastID string) error {
	if tenantID == "" || broadcastID == "" {
		return ErrInvalidArgument
	}
	return s.repo.UpdateStatus(ctx, tenantID, broadcastID, StatusPaused)
}
