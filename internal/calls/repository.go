package calls

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("calls: not found")
	ErrAlreadyExists = errors.New("calls: already exists")
)

// Repository abstracts call record persistence. The billing core treats it
// as transactional storage, not a specific database.
type Repository interface {
	Find(ctx context.Context, callID string) (CallRecord, bool, error)
	Create(ctx context.Context, rec CallRecord) error
	Update(ctx context.Context, rec CallRecord) error

	// ListActiveByCustomer returns the customer's calls still in flight.
	ListActiveByCustomer(ctx context.Context, customerID string) ([]CallRecord, error)

	// ListPendingBilling returns completed, unbilled records eligible for a
	// batch sweep: billing_status pending, calculated or error,
	// retry_count <= maxRetries. Calculated records are settlements that
	// crashed between cost computation and the money movement.
	ListPendingBilling(ctx context.Context, maxRetries, limit int) ([]CallRecord, error)
}
