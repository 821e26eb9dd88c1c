package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"voip-billing-platform/internal/alert"
	"voip-billing-platform/internal/billing"
	"voip-billing-platform/internal/calls"
	"voip-billing-platform/internal/ledger"
	"voip-billing-platform/internal/rates"
	"voip-billing-platform/internal/session"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeEmergency struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeEmergency) EmergencyTerminate(ctx context.Context, call calls.CallRecord, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, call.CallID)
	return nil
}

func (f *fakeEmergency) invocations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fixture struct {
	processor  *Processor
	calls      *calls.MemoryRepo
	store      *session.MemoryStore
	ledgerRepo *ledger.MemoryRepo
	terminator *fakeEmergency
	alerts     *alert.MemorySink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	past := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	f := &fixture{
		calls:      calls.NewMemoryRepo(),
		store:      session.NewMemoryStore(),
		ledgerRepo: ledger.NewMemoryRepo(),
		terminator: &fakeEmergency{},
		alerts:     alert.NewMemorySink(),
	}
	f.ledgerRepo.Put(ledger.Account{
		CustomerID: "cust-1",
		Type:       ledger.AccountTypePrepaid,
		Balance:    decimal.RequireFromString("100"),
	})

	resolver := rates.NewResolver(&rates.MemoryRepo{Rates: []rates.Rate{{
		ID: "us-sf", Prefix: "1415",
		RatePerMin:    decimal.RequireFromString("0.06"),
		Increment:     "6/6",
		EffectiveFrom: past,
		Active:        true,
	}}}, nil)

	settings := billing.StaticSource(billing.Settings{SessionTTL: time.Hour, AutoTerminate: true})

	tracker := session.NewTracker(session.TrackerDeps{
		Rates:    resolver,
		Ledger:   ledger.NewService(f.ledgerRepo),
		Calls:    f.calls,
		Store:    f.store,
		Settings: settings,
		Alerts:   f.alerts,
	})

	f.processor = NewProcessor(ProcessorDeps{
		Calls:      f.calls,
		Store:      f.store,
		Finalizer:  tracker,
		Terminator: f.terminator,
		Settings:   settings,
		Alerts:     f.alerts,
	})
	return f
}

func (f *fixture) completedCall(t *testing.T, callID, destination string, duration time.Duration) calls.CallRecord {
	t.Helper()
	now := time.Now().UTC()
	start := now.Add(-duration - time.Minute)
	end := start.Add(duration)
	rec := calls.CallRecord{
		CallID:        callID,
		CustomerID:    "cust-1",
		Destination:   destination,
		StartedAt:     start,
		EndedAt:       &end,
		Status:        calls.CallStatusCompleted,
		BillingStatus: calls.BillingStatusPending,
		CreatedAt:     start,
		UpdatedAt:     now,
	}
	require.NoError(t, f.calls.Create(context.Background(), rec))
	return rec
}

func TestSweepBillsPendingRecords(t *testing.T) {
	f := newFixture(t)
	f.completedCall(t, "call-1", "14155550100", 65*time.Second)
	f.completedCall(t, "call-2", "14155550101", 30*time.Second)

	stats, err := f.processor.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, stats.Billed)

	for _, id := range []string{"call-1", "call-2"} {
		got, _, _ := f.calls.Find(context.Background(), id)
		require.NotNil(t, got.Cost, "%s must be billed", id)
		require.Equal(t, calls.BillingStatusPaid, got.BillingStatus)
	}
}

func TestSweepZeroDurationShortCircuit(t *testing.T) {
	f := newFixture(t)
	f.completedCall(t, "call-1", "14155550100", 0)

	stats, err := f.processor.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Billed)

	got, _, _ := f.calls.Find(context.Background(), "call-1")
	require.NotNil(t, got.Cost)
	require.True(t, got.Cost.IsZero())
	require.Equal(t, calls.BillingStatusNoBillingRequired, got.BillingStatus)
}

func TestSweepIdempotent(t *testing.T) {
	f := newFixture(t)
	f.completedCall(t, "call-1", "14155550100", 65*time.Second)

	_, err := f.processor.Sweep(context.Background())
	require.NoError(t, err)
	stats, err := f.processor.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, stats.Billed, "second sweep must find nothing to bill")
}

// A record left in the calculated stage (settlement crashed after the
// cost computation, before the money moved) is swept like any pending one.
func TestSweepPicksUpCalculatedRecords(t *testing.T) {
	f := newFixture(t)
	rec := f.completedCall(t, "call-1", "14155550100", 65*time.Second)
	rec.BillingStatus = calls.BillingStatusCalculated
	require.NoError(t, f.calls.Update(context.Background(), rec))

	stats, err := f.processor.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Billed)

	got, _, _ := f.calls.Find(context.Background(), "call-1")
	require.NotNil(t, got.Cost)
	require.Equal(t, calls.BillingStatusPaid, got.BillingStatus)
}

// A rate-table gap is a configuration problem; it fails the record right
// away instead of burning retries.
func TestSweepNoRateFoundFailsPermanently(t *testing.T) {
	f := newFixture(t)
	f.completedCall(t, "call-1", "990000000", 65*time.Second)

	stats, err := f.processor.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.PermanentlyFailed)

	got, _, _ := f.calls.Find(context.Background(), "call-1")
	require.Equal(t, calls.BillingStatusPermanentlyFailed, got.BillingStatus)
	require.Nil(t, got.Cost)

	var critical []string
	for _, e := range f.alerts.Events() {
		if e.Severity == alert.SeverityCritical {
			critical = append(critical, e.Reason)
		}
	}
	require.Contains(t, critical, "no_rate_found")

	// Excluded from later sweeps.
	stats, err = f.processor.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, stats.PermanentlyFailed)
	require.Equal(t, 0, stats.Retried)
}

// Transient failures are retried up to the maximum, then escalate to
// permanently_failed with an alert.
func TestSweepRetriesThenFailsPermanently(t *testing.T) {
	f := newFixture(t)
	rec := f.completedCall(t, "call-1", "14155550100", 65*time.Second)
	rec.CustomerID = "ghost" // account lookup fails every time
	require.NoError(t, f.calls.Update(context.Background(), rec))

	for i := 1; i <= 3; i++ {
		stats, err := f.processor.Sweep(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, stats.Retried, "sweep %d", i)

		got, _, _ := f.calls.Find(context.Background(), "call-1")
		require.Equal(t, i, got.RetryCount)
		require.Equal(t, calls.BillingStatusError, got.BillingStatus)
	}

	stats, err := f.processor.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.PermanentlyFailed)

	got, _, _ := f.calls.Find(context.Background(), "call-1")
	require.Equal(t, calls.BillingStatusPermanentlyFailed, got.BillingStatus)

	stats, err = f.processor.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, stats.Retried, "permanently failed records leave the retry loop")
}

func TestSweepEscalatesStuckSessions(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()

	// Active call whose session outlived its TTL: stuck, escalate.
	rec := calls.CallRecord{
		CallID:        "stuck",
		CustomerID:    "cust-1",
		Destination:   "14155550100",
		StartedAt:     now.Add(-2 * time.Hour),
		Status:        calls.CallStatusInProgress,
		BillingStatus: calls.BillingStatusPending,
	}
	require.NoError(t, f.calls.Create(context.Background(), rec))
	require.NoError(t, f.store.Put(context.Background(), session.Session{
		CallID:     "stuck",
		CustomerID: "cust-1",
		ExpiresAt:  now.Add(-time.Minute),
	}, time.Hour))

	stats, err := f.processor.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Escalated)
	require.Equal(t, []string{"stuck"}, f.terminator.invocations())
}

func TestSweepFinalizesLingeringSessionOfEndedCall(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()

	rec := f.completedCall(t, "done", "14155550100", 65*time.Second)
	require.NoError(t, f.store.Put(context.Background(), session.Session{
		CallID:      "done",
		CustomerID:  "cust-1",
		Destination: rec.Destination,
		RatePerMin:  decimal.RequireFromString("0.06"),
		Policy:      rates.IncrementPolicy{Initial: 6, Subsequent: 6},
		ExpiresAt:   now.Add(-time.Minute),
	}, time.Hour))

	stats, err := f.processor.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, stats.Escalated)

	got, _, _ := f.calls.Find(context.Background(), "done")
	require.NotNil(t, got.Cost)

	_, ok, _ := f.store.Get(context.Background(), "done")
	require.False(t, ok, "lingering session must be cleaned up")
	require.Empty(t, f.terminator.invocations())
}

func TestSweepDropsSessionWithoutRecord(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()

	require.NoError(t, f.store.Put(context.Background(), session.Session{
		CallID:    "orphan",
		ExpiresAt: now.Add(-time.Minute),
	}, time.Hour))

	_, err := f.processor.Sweep(context.Background())
	require.NoError(t, err)

	_, ok, _ := f.store.Get(context.Background(), "orphan")
	require.False(t, ok)
	require.Empty(t, f.terminator.invocations())
}
