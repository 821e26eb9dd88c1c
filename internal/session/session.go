package session

import (
	"context"
	"time"

	"voip-billing-platform/internal/rates"

	"github.com/shopspring/decimal"
)

// Session is the ephemeral per-call state for real-time billing.
//
// It is a cache, not a system of record: the CallRecord stays
// authoritative. The session only avoids re-resolving the rate on every
// tick and holds cross-check timestamps. Losing a session is recoverable
// (finalize falls back to a one-shot computation); an expired-but-present
// session is an anomaly the batch processor escalates.
type Session struct {
	CallID     string `json:"call_id"`
	CustomerID string `json:"customer_id"`

	Destination string `json:"destination"`

	RateID         string                `json:"rate_id"`
	RatePerMin     decimal.Decimal       `json:"rate_per_min"`
	MinimumSeconds int                   `json:"minimum_seconds"`
	Policy         rates.IncrementPolicy `json:"policy"`

	// ReservedCost is the initial-increment cost checked at call start.
	ReservedCost decimal.Decimal `json:"reserved_cost"`

	// AccruedCost is the last cost computed by a periodic tick.
	AccruedCost decimal.Decimal `json:"accrued_cost"`

	// BillableSeconds is the increment-rounded duration as of the last tick.
	BillableSeconds int `json:"billable_seconds"`

	StartedAt       time.Time `json:"started_at"`
	LastEvaluatedAt time.Time `json:"last_evaluated_at"`

	// CheckCount counts periodic evaluations.
	CheckCount int `json:"check_count"`

	// ExpiresAt marks the end of the session TTL. A session alive past this
	// point without finalization is a stuck call.
	ExpiresAt time.Time `json:"expires_at"`
}

// Store is scoped, expiring shared state keyed by call id.
//
// Contract notes:
// - Put overwrites and re-arms the TTL.
// - Get returns expired-but-retained sessions; callers check ExpiresAt.
// - ListExpired returns sessions whose TTL elapsed without a Delete, so
//   the batch processor can escalate instead of silently losing them.
type Store interface {
	Put(ctx context.Context, s Session, ttl time.Duration) error
	Get(ctx context.Context, callID string) (Session, bool, error)
	Delete(ctx context.Context, callID string) error
	ListExpired(ctx context.Context, now time.Time) ([]Session, error)
}
