package queue

import (
	"context"

	"dialer-platform/pkg/phone"

	"github.com/google/uuid"
)

// defaultMaxAttempts applies when the broadcast config carries no budget.
const defaultMaxAttempts = 3

// Candidate is one phone number or lead offered for enqueue.
type Candidate struct {
	PhoneNumber string `json:"phone_number"`
	LeadID      string `json:"lead_id,omitempty"`
}

// EnqueueResult reports the admission outcome. A batch where nothing
// survives filtering is still a success with Added=0 and a descriptive
// Reason; callers branch on Added, never on an error.
type EnqueueResult struct {
	Added       int    `json:"added"`
	Skipped     int    `json:"skipped"`
	DNCFiltered int    `json:"dnc_filtered"`
	Reason      string `json:"reason,omitempty"`
}

// Enqueue is the admission filter: it normalizes candidates to E.164, drops
// unparsable ones (counted as skipped), excludes do-not-call matches
// (counted separately), skips numbers already present in the broadcast in
// any status, and inserts the rest as pending with the broadcast's attempt
// budget.
func (s *Service) Enqueue(ctx context.Context, tenantID, broadcastID string, candidates []Candidate) (EnqueueResult, error) {
	if tenantID == "" || broadcastID == "" {
		return EnqueueResult{}, ErrInvalidArgument
	}

	b, err := s.broadcasts.Get(ctx, tenantID, broadcastID)
	if err != nil {
		return EnqueueResult{}, err
	}

	existing, err := s.items.ExistingNumbers(ctx, tenantID, broadcastID)
	if err != nil {
		return EnqueueResult{}, err
	}

	maxAttempts := b.Config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	res := EnqueueResult{}
	now := s.clock().UTC()

	seen := map[string]struct{}{} // dedupe within the batch itself
	var toInsert []WorkItem

	for _, c := range candidates {
		normalized, err := phone.NormalizeE164(c.PhoneNumber)
		if err != nil {
			res.Skipped++
			continue
		}
		if _, dup := seen[normalized]; dup {
			res.Skipped++
			continue
		}
		seen[normalized] = struct{}{}

		if _, dup := existing[normalized]; dup {
			res.Skipped++
			continue
		}

		listed, err := s.registry.IsListed(ctx, tenantID, normalized)
		if err != nil {
			return EnqueueResult{}, err
		}
		if listed {
			res.DNCFiltered++
			continue
		}

		toInsert = append(toInsert, WorkItem{
			ID:          uuid.NewString(),
			TenantID:    tenantID,
			BroadcastID: broadcastID,
			LeadID:      c.LeadID,
			PhoneNumber: normalized,
			Status:      StatusPending,
			Attempts:    0,
			MaxAttempts: maxAttempts,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	if len(toInsert) > 0 {
		added, err := s.items.Insert(ctx, toInsert)
		if err != nil {
			return EnqueueResult{}, err
		}
		// Insert dedupes again under the unique constraint, so a race with
		// another enqueue shows up as skipped, not as an error.
		res.Added = added
		res.Skipped += len(toInsert) - added
	}

	if err := s.healTotal(ctx, tenantID, broadcastID); err != nil {
		return EnqueueResult{}, err
	}

	if res.Added == 0 {
		res.Reason = zeroAddedReason(res)
	}
	return res, nil
}

func zeroAddedReason(res EnqueueResult) string {
	switch {
	case res.DNCFiltered > 0 && res.Skipped == 0:
		return "all numbers are on the do-not-call list"
	case res.Skipped > 0 && res.DNCFiltered == 0:
		return "all numbers were invalid or already queued"
	case res.Skipped > 0 && res.DNCFiltered > 0:
		return "all numbers were invalid, already queued, or on the do-not-call list"
	default:
		return "no numbers provided"
	}
}
