package calls

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func record(id, customer string, status CallStatus, billing BillingStatus, startedAt time.Time) CallRecord {
	return CallRecord{
		CallID:        id,
		CustomerID:    customer,
		Destination:   "14155550100",
		StartedAt:     startedAt,
		Status:        status,
		BillingStatus: billing,
		CreatedAt:     startedAt,
		UpdatedAt:     startedAt,
	}
}

func TestCreateAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	now := time.Now().UTC()

	if err := repo.Create(ctx, record("call-1", "cust-1", CallStatusInProgress, BillingStatusPending, now)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, record("call-1", "cust-1", CallStatusInProgress, BillingStatusPending, now)); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate create: %v", err)
	}

	rec, ok, err := repo.Find(ctx, "call-1")
	if err != nil || !ok {
		t.Fatalf("find: ok=%v err=%v", ok, err)
	}
	if rec.CustomerID != "cust-1" {
		t.Fatalf("customer: %q", rec.CustomerID)
	}

	if _, ok, _ := repo.Find(ctx, "missing"); ok {
		t.Fatalf("found a record that was never created")
	}
}

func TestUpdateRequiresExisting(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	now := time.Now().UTC()

	rec := record("call-1", "cust-1", CallStatusInProgress, BillingStatusPending, now)
	if err := repo.Update(ctx, rec); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update of missing record: %v", err)
	}

	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	rec.Status = CallStatusCompleted
	if err := repo.Update(ctx, rec); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _, _ := repo.Find(ctx, "call-1")
	if got.Status != CallStatusCompleted {
		t.Fatalf("status after update: %q", got.Status)
	}
}

func TestListActiveByCustomer(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	base := time.Now().UTC()

	seed := []CallRecord{
		record("call-2", "cust-1", CallStatusInProgress, BillingStatusPending, base.Add(time.Minute)),
		record("call-1", "cust-1", CallStatusRinging, BillingStatusPending, base),
		record("call-3", "cust-1", CallStatusCompleted, BillingStatusPaid, base),
		record("call-4", "cust-2", CallStatusInProgress, BillingStatusPending, base),
	}
	for _, rec := range seed {
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("create %s: %v", rec.CallID, err)
		}
	}

	active, err := repo.ListActiveByCustomer(ctx, "cust-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("active count: %d", len(active))
	}
	// Ordered by start time.
	if active[0].CallID != "call-1" || active[1].CallID != "call-2" {
		t.Fatalf("order: %s, %s", active[0].CallID, active[1].CallID)
	}
}

func TestListPendingBilling(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	base := time.Now().UTC()

	cost := decimal.RequireFromString("0.06")
	billed := record("billed", "cust-1", CallStatusCompleted, BillingStatusPaid, base)
	billed.Cost = &cost

	retriedOut := record("exhausted", "cust-1", CallStatusCompleted, BillingStatusError, base)
	retriedOut.RetryCount = 4

	seed := []CallRecord{
		record("pending-late", "cust-1", CallStatusCompleted, BillingStatusPending, base.Add(time.Minute)),
		record("pending-early", "cust-1", CallStatusCompleted, BillingStatusPending, base),
		record("errored", "cust-1", CallStatusCompleted, BillingStatusError, base.Add(2*time.Minute)),
		// Settlement crashed between cost computation and the debit.
		record("calculated", "cust-1", CallStatusCompleted, BillingStatusCalculated, base.Add(3*time.Minute)),
		record("in-flight", "cust-1", CallStatusInProgress, BillingStatusPending, base),
		record("dead", "cust-1", CallStatusCompleted, BillingStatusPermanentlyFailed, base),
		billed,
		retriedOut,
	}
	for _, rec := range seed {
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("create %s: %v", rec.CallID, err)
		}
	}

	out, err := repo.ListPendingBilling(ctx, 3, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("pending count: %d", len(out))
	}
	if out[0].CallID != "pending-early" || out[1].CallID != "pending-late" || out[2].CallID != "errored" || out[3].CallID != "calculated" {
		t.Fatalf("order: %s, %s, %s, %s", out[0].CallID, out[1].CallID, out[2].CallID, out[3].CallID)
	}

	limited, err := repo.ListPendingBilling(ctx, 3, 1)
	if err != nil {
		t.Fatalf("limited list: %v", err)
	}
	if len(limited) != 1 || limited[0].CallID != "pending-early" {
		t.Fatalf("limit honored oldest-first: %+v", limited)
	}
}

func TestElapsed(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := CallRecord{StartedAt: start}

	if got := rec.Elapsed(start.Add(65 * time.Second)); got != 65*time.Second {
		t.Fatalf("in-flight elapsed: %v", got)
	}

	end := start.Add(40 * time.Second)
	rec.EndedAt = &end
	if got := rec.Elapsed(start.Add(time.Hour)); got != 40*time.Second {
		t.Fatalf("ended elapsed: %v", got)
	}

	rec.EndedAt = nil
	if got := rec.Elapsed(start.Add(-time.Second)); got != 0 {
		t.Fatalf("clock skew elapsed: %v", got)
	}
}
