package calls

import (
	"time"

	"github.com/shopspring/decimal"
)

// CallRecord is the durable record of a call and its billing outcome.
//
// It is created when a call starts (or discovered via CDR import) and
// mutated only by the billing engine and the termination coordinator. It
// is never deleted, only superseded in status.
//
// Money invariant: Cost is set at most once, on a successful billing
// attempt. Re-billing a record whose Cost is non-nil is a no-op success.
type CallRecord struct {
	CallID     string `json:"call_id" db:"call_id"`
	CustomerID string `json:"customer_id" db:"customer_id"`

	// Destination is the dialed number in digits (E.164 without "+").
	Destination string `json:"destination" db:"destination"`

	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	Status CallStatus `json:"status" db:"status"`

	// DurationSeconds is the actual connected duration.
	DurationSeconds int `json:"duration_seconds" db:"duration_seconds"`

	// BillableSeconds is the increment-rounded duration actually charged.
	BillableSeconds int `json:"billable_seconds" db:"billable_seconds"`

	// Cost is nil until billing succeeds.
	Cost *decimal.Decimal `json:"cost,omitempty" db:"cost"`

	BillingStatus BillingStatus `json:"billing_status" db:"billing_status"`

	// RetryCount counts failed billing attempts (batch path).
	RetryCount int `json:"retry_count" db:"retry_count"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Billed reports whether this record already carries a final cost.
func (c CallRecord) Billed() bool { return c.Cost != nil }

// Active reports whether the call is still in flight.
func (c CallRecord) Active() bool {
	switch c.Status {
	case CallStatusInitiated, CallStatusRinging, CallStatusAnswered, CallStatusInProgress:
		return true
	default:
		return false
	}
}

// Elapsed is the call duration observed at now: ended calls use their true
// end time, in-flight calls use now.
func (c CallRecord) Elapsed(now time.Time) time.Duration {
	end := now
	if c.EndedAt != nil {
		end = *c.EndedAt
	}
	if end.Before(c.StartedAt) {
		return 0
	}
	return end.Sub(c.StartedAt)
}

type CallStatus string

const (
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusAnswered   CallStatus = "answered"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusBusy       CallStatus = "busy"
	CallStatusNoAnswer   CallStatus = "no_answer"
	CallStatusCancelled  CallStatus = "cancelled"
	CallStatusTerminated CallStatus = "terminated"
)

type BillingStatus string

const (
	BillingStatusPending           BillingStatus = "pending"
	BillingStatusCalculated        BillingStatus = "calculated"
	BillingStatusPaid              BillingStatus = "paid"
	BillingStatusUnpaid            BillingStatus = "unpaid"
	BillingStatusTerminated        BillingStatus = "terminated"
	BillingStatusError             BillingStatus = "error"
	BillingStatusNoBillingRequired BillingStatus = "no_billing_required"
	BillingStatusPermanentlyFailed BillingStatus = "permanently_failed"
)
