package telephony

import (
	"context"
	"errors"
)

var ErrProviderUnavailable = errors.New("telephony: provider unavailable")

// CreateCallRequest carries everything the provider needs to originate one
// outbound call for a work item.
type CreateCallRequest struct {
	TenantID    string
	BroadcastID string
	WorkItemID  string
	PhoneNumber string
	CallerID    string
	AgentID     string
}

// CreateCallResult is the provider's acknowledgment of an accepted call.
type CreateCallResult struct {
	// CallID is the provider-assigned id later echoed on status webhooks.
	CallID string
}

// CallInitiator abstracts the upstream telephony provider. The dispatcher
// only ever needs to place calls and probe liveness; everything about call
// progress arrives asynchronously over the status webhook.
type CallInitiator interface {
	Name() string
	HealthCheck(ctx context.Context) error
	CreateCall(ctx context.Context, req CreateCallRequest) (CreateCallResult, error)
}
