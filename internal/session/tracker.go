package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"voip-billing-platform/internal/alert"
	"voip-billing-platform/internal/billing"
	"voip-billing-platform/internal/calls"
	"voip-billing-platform/internal/ledger"
	"voip-billing-platform/internal/rates"

	"github.com/shopspring/decimal"
)

// Terminator is the hand-off to the termination coordinator when a tick
// detects insufficient balance. The returned boolean reports whether the
// call was actually terminated; a grace-period top-up may abort the
// termination, in which case ticking continues.
type Terminator interface {
	TerminateForInsufficientBalance(ctx context.Context, call calls.CallRecord, required decimal.Decimal, reason string) (bool, error)
}

// Tracker drives real-time billing per active call.
//
// State machine per call: NotStarted -> Active -> Finalized. Active is
// re-entered on every tick; Finalized is terminal and idempotent. Every
// Active session must leave through Finalize so the CallRecord is billed
// exactly once; there is no bare "forget".
type Tracker struct {
	rates    *rates.Resolver
	ledger   *ledger.Service
	calls    calls.Repository
	store    Store
	settings billing.SettingsSource
	alerts   alert.Sink
	locks    Locker
	log      *slog.Logger

	terminator Terminator

	clock func() time.Time
}

type TrackerDeps struct {
	Rates    *rates.Resolver
	Ledger   *ledger.Service
	Calls    calls.Repository
	Store    Store
	Settings billing.SettingsSource
	Alerts   alert.Sink
	Locker   Locker
	Log      *slog.Logger
}

func NewTracker(d TrackerDeps) *Tracker {
	locks := d.Locker
	if locks == nil {
		locks = NewLocalLocker()
	}
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{
		rates:    d.Rates,
		ledger:   d.Ledger,
		calls:    d.Calls,
		store:    d.Store,
		settings: d.Settings,
		alerts:   d.Alerts,
		locks:    locks,
		log:      log,
		clock:    time.Now,
	}
}

// SetTerminator wires the termination coordinator. Set once at startup;
// the coordinator needs the tracker (to finalize) so construction is
// two-phase.
func (t *Tracker) SetTerminator(term Terminator) { t.terminator = term }

var (
	// ErrInsufficientBalanceAtStart rejects a call before any session is
	// created: an immediate denial, not a system error.
	ErrInsufficientBalanceAtStart = errors.New("session: insufficient balance at call start")

	ErrInvalidCall = errors.New("session: invalid call record")
)

// TickResult tells the tick loop what happened.
type TickResult struct {
	// Stop: the caller must stop ticking this call (terminated, finalized
	// elsewhere, or the session is gone).
	Stop bool

	Cost            decimal.Decimal
	BillableSeconds int
}

// Start begins real-time billing for a call: resolves the rate, reserves
// the initial increment against the customer's available balance, and
// creates the TTL-bounded session.
//
// On insufficient balance no session is created and the call must not
// proceed into real-time billing.
func (t *Tracker) Start(ctx context.Context, call calls.CallRecord) (Session, error) {
	if call.CallID == "" || call.CustomerID == "" || call.Destination == "" {
		return Session{}, ErrInvalidCall
	}

	cfg := t.settings.Current(ctx)

	resolved, err := t.rates.Resolve(ctx, call.Destination)
	if err != nil {
		return Session{}, err
	}

	reservedSec := billing.BillableDuration(resolved.Policy.Initial, resolved.Policy, resolved.MinimumSeconds)
	reserved := billing.Cost(reservedSec, resolved.RatePerMin)

	avail, err := t.ledger.AvailableBalance(ctx, call.CustomerID)
	if err != nil {
		return Session{}, err
	}
	if avail.LessThan(reserved) {
		alert.Emit(ctx, t.alerts, alert.Event{
			Severity:   alert.SeverityWarning,
			CallID:     call.CallID,
			CustomerID: call.CustomerID,
			Reason:     "insufficient_balance_at_start",
			Message:    "call rejected: balance below initial increment reservation",
		})
		return Session{}, ErrInsufficientBalanceAtStart
	}
	if cfg.LowBalanceThreshold.IsPositive() && avail.LessThan(cfg.LowBalanceThreshold) {
		alert.Emit(ctx, t.alerts, alert.Event{
			Severity:   alert.SeverityInfo,
			CallID:     call.CallID,
			CustomerID: call.CustomerID,
			Reason:     "low_balance",
			Message:    "available balance below configured threshold",
		})
	}

	now := t.clock().UTC()
	sess := Session{
		CallID:          call.CallID,
		CustomerID:      call.CustomerID,
		Destination:     call.Destination,
		RateID:          resolved.RateID,
		RatePerMin:      resolved.RatePerMin,
		MinimumSeconds:  resolved.MinimumSeconds,
		Policy:          resolved.Policy,
		ReservedCost:    reserved,
		AccruedCost:     decimal.Zero,
		StartedAt:       call.StartedAt,
		LastEvaluatedAt: now,
		ExpiresAt:       now.Add(cfg.SessionTTL),
	}
	if err := t.store.Put(ctx, sess, cfg.SessionTTL); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Tick re-evaluates one active call: recomputes the accrued cost from
// elapsed time and checks it against the available balance. Insufficient
// balance hands the call to the termination coordinator.
//
// Tick is safe to invoke concurrently for different calls but serializes
// per call id; it must never run concurrently with Finalize for the same
// call.
func (t *Tracker) Tick(ctx context.Context, call calls.CallRecord) (TickResult, error) {
	res, insufficient, err := t.evaluate(ctx, call)
	if err != nil || !insufficient {
		return res, err
	}

	// Delegation happens outside the per-call lock: the coordinator will
	// re-enter via Finalize, which takes the same lock.
	if t.terminator == nil {
		return TickResult{Stop: true}, errors.New("session: terminator not configured")
	}
	terminated, err := t.terminator.TerminateForInsufficientBalance(ctx, call, res.Cost, "insufficient_balance")
	if err != nil {
		// The coordinator could not complete; stop ticking and let the
		// loop's final pass route through Finalize.
		return TickResult{Stop: true, Cost: res.Cost, BillableSeconds: res.BillableSeconds}, err
	}
	if !terminated {
		// Grace re-check found a fresh top-up; the call continues.
		return TickResult{Cost: res.Cost, BillableSeconds: res.BillableSeconds}, nil
	}
	return TickResult{Stop: true, Cost: res.Cost, BillableSeconds: res.BillableSeconds}, nil
}

// evaluate performs the under-lock portion of a tick. The second return
// reports that balance is insufficient and auto-termination should engage.
func (t *Tracker) evaluate(ctx context.Context, call calls.CallRecord) (TickResult, bool, error) {
	release, err := t.locks.Acquire(ctx, call.CallID)
	if err != nil {
		return TickResult{}, false, err
	}
	defer release()

	sess, ok, err := t.store.Get(ctx, call.CallID)
	if err != nil {
		return TickResult{}, false, err
	}
	if !ok {
		// Already finalized or never started; nothing to drive.
		return TickResult{Stop: true}, false, nil
	}

	cfg := t.settings.Current(ctx)
	now := t.clock().UTC()

	elapsedSec := int(now.Sub(call.StartedAt) / time.Second)
	billableSec := billing.BillableDuration(elapsedSec, sess.Policy, sess.MinimumSeconds)
	cost := billing.Cost(billableSec, sess.RatePerMin)

	sufficient, err := t.ledger.HasSufficientBalance(ctx, call.CustomerID, cost)
	if err != nil {
		return TickResult{}, false, err
	}

	if !sufficient {
		if !cfg.AutoTerminate {
			// Policy says observe, don't cut. Keep the session moving and
			// make noise instead.
			alert.Emit(ctx, t.alerts, alert.Event{
				Severity:   alert.SeverityWarning,
				CallID:     call.CallID,
				CustomerID: call.CustomerID,
				Reason:     "insufficient_balance_no_autoterminate",
				Message:    "accrued cost exceeds available balance; auto-termination disabled",
			})
			if err := t.updateSession(ctx, sess, cost, billableSec, now, cfg); err != nil {
				return TickResult{}, false, err
			}
			return TickResult{Cost: cost, BillableSeconds: billableSec}, false, nil
		}
		return TickResult{Cost: cost, BillableSeconds: billableSec}, true, nil
	}

	if err := t.updateSession(ctx, sess, cost, billableSec, now, cfg); err != nil {
		return TickResult{}, false, err
	}
	return TickResult{Cost: cost, BillableSeconds: billableSec}, false, nil
}

func (t *Tracker) updateSession(ctx context.Context, sess Session, cost decimal.Decimal, billableSec int, now time.Time, cfg billing.Settings) error {
	sess.AccruedCost = cost
	sess.BillableSeconds = billableSec
	sess.LastEvaluatedAt = now
	sess.CheckCount++
	sess.ExpiresAt = now.Add(cfg.SessionTTL)
	return t.store.Put(ctx, sess, cfg.SessionTTL)
}

// Finalize computes the final cost from the call's true duration, settles
// it against the ledger, persists the outcome on the CallRecord, and
// discards the session.
//
// Idempotent: a record that already carries a cost is a no-op success.
// Missing session: falls back to a one-shot computation (the batch path
// for CDR-discovered calls uses exactly this).
func (t *Tracker) Finalize(ctx context.Context, call calls.CallRecord) error {
	if call.CallID == "" {
		return ErrInvalidCall
	}

	release, err := t.locks.Acquire(ctx, call.CallID)
	if err != nil {
		return err
	}
	defer release()

	// Re-read the authoritative record; the caller's copy may be stale.
	rec, ok, err := t.calls.Find(ctx, call.CallID)
	if err != nil {
		return err
	}
	if !ok {
		rec = call
	}

	if rec.Billed() {
		// Finalizing twice is a no-op after the first.
		return t.store.Delete(ctx, rec.CallID)
	}

	now := t.clock().UTC()
	if rec.EndedAt == nil {
		end := now
		rec.EndedAt = &end
		if rec.Active() {
			rec.Status = calls.CallStatusCompleted
		}
	}
	durationSec := int(rec.Elapsed(now) / time.Second)

	sess, hasSession, err := t.store.Get(ctx, rec.CallID)
	if err != nil {
		return err
	}

	var rate rates.ResolvedRate
	if hasSession {
		// An end time earlier than the last tick cannot shrink the bill;
		// the final cost never undercuts the last periodic estimate.
		if observed := int(sess.LastEvaluatedAt.Sub(sess.StartedAt) / time.Second); observed > durationSec {
			durationSec = observed
		}
		rate = rates.ResolvedRate{
			RateID:         sess.RateID,
			RatePerMin:     sess.RatePerMin,
			MinimumSeconds: sess.MinimumSeconds,
			Policy:         sess.Policy,
		}
	} else {
		// One-shot fallback: the call never entered (or already left)
		// real-time billing.
		rate, err = t.rates.Resolve(ctx, rec.Destination)
		if err != nil {
			t.markBillingError(ctx, rec, now)
			return err
		}
	}

	if err := t.settle(ctx, &rec, rate, durationSec, now); err != nil {
		return err
	}

	if err := t.calls.Update(ctx, rec); err != nil {
		return err
	}
	return t.store.Delete(ctx, rec.CallID)
}

// settle applies the billing outcome to rec in place.
func (t *Tracker) settle(ctx context.Context, rec *calls.CallRecord, rate rates.ResolvedRate, durationSec int, now time.Time) error {
	rec.DurationSeconds = durationSec
	rec.UpdatedAt = now

	// Zero-duration short-circuit: unanswered or instantly dropped calls
	// cost nothing, regardless of minimum-duration policy.
	if durationSec <= 0 {
		zero := decimal.Zero
		rec.BillableSeconds = 0
		rec.Cost = &zero
		rec.BillingStatus = calls.BillingStatusNoBillingRequired
		return nil
	}

	billableSec, cost := billing.CostFor(durationSec, rate)
	wasTerminated := rec.Status == calls.CallStatusTerminated || rec.BillingStatus == calls.BillingStatusTerminated

	// Stage transition: cost computed, money not yet moved. Persisted so a
	// crash mid-settlement leaves the sweep a retryable record, not an
	// ambiguous pending one.
	rec.BillableSeconds = billableSec
	rec.BillingStatus = calls.BillingStatusCalculated
	if err := t.calls.Update(ctx, *rec); err != nil {
		return err
	}

	acct, err := t.ledger.Account(ctx, rec.CustomerID)
	if err != nil {
		t.markBillingError(ctx, *rec, now)
		return err
	}

	status := calls.BillingStatusUnpaid
	if acct.Type == ledger.AccountTypePrepaid {
		status = calls.BillingStatusPaid
		if cost.IsPositive() {
			// SettleDebit is idempotent per call id: a settlement retried
			// after a transient record-write failure finds the debit already
			// on the ledger and never charges twice.
			debited, err := t.ledger.SettleDebit(ctx, rec.CustomerID, cost, "call charge", rec.CallID, "billing-engine")
			if err != nil {
				t.markBillingError(ctx, *rec, now)
				return err
			}
			if debited.LessThan(cost) {
				// The accrued cost outran the balance (the usual state after
				// an insufficient-balance termination). Whatever was left has
				// been drained; the shortfall stays on the record as unpaid
				// debt. The balance never goes negative either way.
				status = calls.BillingStatusUnpaid
				alert.Emit(ctx, t.alerts, alert.Event{
					Severity:   alert.SeverityWarning,
					CallID:     rec.CallID,
					CustomerID: rec.CustomerID,
					Reason:     "partial_settlement",
					Message:    fmt.Sprintf("debited %s of %s; remainder carried as unpaid", debited, cost),
				})
			}
		}
	}

	// A call cut by the coordinator keeps its terminated billing marker;
	// the debit above still reflects the time actually used.
	if wasTerminated {
		status = calls.BillingStatusTerminated
	}

	rec.BillableSeconds = billableSec
	rec.Cost = &cost
	rec.BillingStatus = status
	return nil
}

// markBillingError leaves the record retryable by the batch sweep. Cost
// stays nil so the idempotence guard will not skip the retry.
func (t *Tracker) markBillingError(ctx context.Context, rec calls.CallRecord, now time.Time) {
	rec.BillingStatus = calls.BillingStatusError
	rec.UpdatedAt = now
	if err := t.calls.Update(ctx, rec); err != nil {
		t.log.Warn("failed to mark billing error", "call_id", rec.CallID, "err", err)
	}
}

// RunLoop drives periodic re-evaluation for one call until the call ends,
// the coordinator stops it, or ctx is canceled. Cancellation always routes
// through Finalize.
func (t *Tracker) RunLoop(ctx context.Context, callID string) {
	cfg := t.settings.Current(ctx)
	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.finalizeOnExit(callID)
			return

		case <-ticker.C:
			rec, ok, err := t.calls.Find(ctx, callID)
			if err != nil {
				t.log.Warn("tick: call lookup failed", "call_id", callID, "err", err)
				continue
			}
			if !ok {
				return
			}
			if !rec.Active() {
				if err := t.Finalize(ctx, rec); err != nil {
					t.log.Warn("finalize after call end failed", "call_id", callID, "err", err)
				}
				return
			}

			res, err := t.Tick(ctx, rec)
			if err != nil {
				t.log.Warn("billing tick failed", "call_id", callID, "err", err)
			}
			if res.Stop {
				return
			}
		}
	}
}

// finalizeOnExit settles a call during shutdown with a detached context.
func (t *Tracker) finalizeOnExit(callID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec, ok, err := t.calls.Find(ctx, callID)
	if err != nil || !ok {
		return
	}
	if err := t.Finalize(ctx, rec); err != nil {
		t.log.Warn("finalize on shutdown failed", "call_id", callID, "err", err)
	}
}
