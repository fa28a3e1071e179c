package dnc

import "context"

// Registry is the tenant-scoped do-not-call list.
//
// The admission filter consults it synchronously on every candidate, and the
// status webhook appends numbers when a callee opts out mid-call.
type Registry interface {
	IsListed(ctx context.Context, tenantID, phoneNumber string) (bool, error)
	Add(ctx context.Context, tenantID, phoneNumber string) error
}
