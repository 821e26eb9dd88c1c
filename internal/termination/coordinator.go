package termination

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"voip-billing-platform/internal/alert"
	"voip-billing-platform/internal/billing"
	"voip-billing-platform/internal/calls"
	"voip-billing-platform/internal/ledger"
	"voip-billing-platform/internal/telephony"

	"github.com/shopspring/decimal"
)

// Finalizer settles billing for a call and discards its session. The
// session tracker implements this.
type Finalizer interface {
	Finalize(ctx context.Context, call calls.CallRecord) error
}

// Coordinator decides when a call must be cut, issues the termination
// command to the telephony control plane, and finalizes billing regardless
// of the command outcome.
//
// Fail-open: a failed termination command is logged as a warning but never
// rolls back the CallRecord state change. The call is administratively
// terminated even if the media leg lingers; reversing this would risk
// unbilled usage.
type Coordinator struct {
	calls    calls.Repository
	ledger   *ledger.Service
	control  telephony.ControlPlane
	sessions Finalizer
	settings billing.SettingsSource
	alerts   alert.Sink
	log      *slog.Logger

	clock func() time.Time
	// sleep is injectable so grace-period tests don't wait in real time.
	sleep func(ctx context.Context, d time.Duration) error
}

type CoordinatorDeps struct {
	Calls    calls.Repository
	Ledger   *ledger.Service
	Control  telephony.ControlPlane
	Sessions Finalizer
	Settings billing.SettingsSource
	Alerts   alert.Sink
	Log      *slog.Logger
}

func NewCoordinator(d CoordinatorDeps) *Coordinator {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		calls:    d.Calls,
		ledger:   d.Ledger,
		control:  d.Control,
		sessions: d.Sessions,
		settings: d.Settings,
		alerts:   d.Alerts,
		log:      log,
		clock:    time.Now,
		sleep:    sleepCtx,
	}
}

var ErrCallNotFound = errors.New("termination: call not found")

// TerminateForInsufficientBalance cuts a call whose accrued cost can no
// longer be covered. Returns false when a grace-period re-check found the
// balance replenished and the call continues uninterrupted.
//
// The grace re-check happens at most once per termination decision; it
// never loops.
func (c *Coordinator) TerminateForInsufficientBalance(ctx context.Context, call calls.CallRecord, required decimal.Decimal, reason string) (bool, error) {
	cfg := c.settings.Current(ctx)

	if cfg.GracePeriod > 0 {
		if err := c.sleep(ctx, cfg.GracePeriod); err != nil {
			return false, err
		}
		sufficient, err := c.ledger.HasSufficientBalance(ctx, call.CustomerID, required)
		if err == nil && sufficient {
			// A concurrent top-up just posted; abort the termination.
			alert.Emit(ctx, c.alerts, alert.Event{
				Severity:   alert.SeverityInfo,
				CallID:     call.CallID,
				CustomerID: call.CustomerID,
				Reason:     "termination_aborted_after_topup",
				Message:    "balance replenished within grace period; call continues",
			})
			return false, nil
		}
		if err != nil {
			c.log.Warn("grace-period balance re-check failed; proceeding with termination",
				"call_id", call.CallID, "err", err)
		}
	}

	if err := c.terminate(ctx, call, reason, false); err != nil {
		return false, err
	}

	alert.Emit(ctx, c.alerts, alert.Event{
		Severity:   alert.SeverityWarning,
		CallID:     call.CallID,
		CustomerID: call.CustomerID,
		Reason:     reason,
		Message:    "call terminated for insufficient balance",
	})
	return true, nil
}

// TerminateAllForCustomer cuts every active call of a customer (account
// suspension, fraud stop, manual ops action). Partial failures do not
// block the remaining calls; each failure is logged individually. Returns
// the number of calls successfully terminated.
func (c *Coordinator) TerminateAllForCustomer(ctx context.Context, customerID, reason string) (int, error) {
	active, err := c.calls.ListActiveByCustomer(ctx, customerID)
	if err != nil {
		return 0, err
	}

	terminated := 0
	for _, call := range active {
		if err := c.terminate(ctx, call, reason, false); err != nil {
			c.log.Warn("failed to terminate call",
				"call_id", call.CallID, "customer_id", customerID, "reason", reason, "err", err)
			continue
		}
		terminated++
	}

	if terminated > 0 {
		alert.Emit(ctx, c.alerts, alert.Event{
			Severity:   alert.SeverityWarning,
			CustomerID: customerID,
			Reason:     reason,
			Message:    "terminated all active calls for customer",
		})
	}
	return terminated, nil
}

// EmergencyTerminate force-drops a call. The CallRecord update is written
// unconditionally, even if the telephony control plane is unreachable.
func (c *Coordinator) EmergencyTerminate(ctx context.Context, call calls.CallRecord, reason string) error {
	if err := c.terminate(ctx, call, reason, true); err != nil {
		return err
	}
	alert.Emit(ctx, c.alerts, alert.Event{
		Severity:   alert.SeverityCritical,
		CallID:     call.CallID,
		CustomerID: call.CustomerID,
		Reason:     reason,
		Message:    "call force-terminated",
	})
	return nil
}

// terminate is the single-call termination sequence:
//  1. mark the record terminated (local state first, so billing can never
//     be skipped by an external failure)
//  2. issue the hangup command, warn on failure, never roll back
//  3. finalize billing so the customer pays for time actually used
func (c *Coordinator) terminate(ctx context.Context, call calls.CallRecord, reason string, force bool) error {
	rec, ok, err := c.calls.Find(ctx, call.CallID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCallNotFound
	}

	now := c.clock().UTC()
	if rec.EndedAt == nil {
		end := now
		rec.EndedAt = &end
	}
	rec.Status = calls.CallStatusTerminated
	rec.BillingStatus = calls.BillingStatusTerminated
	rec.UpdatedAt = now

	if err := c.calls.Update(ctx, rec); err != nil {
		return err
	}

	c.issueHangup(ctx, rec.CallID, reason, force)

	// Regardless of the command outcome the customer is billed for the
	// time actually used and the session is cleaned up.
	if err := c.sessions.Finalize(ctx, rec); err != nil {
		c.log.Error("finalize after termination failed; record left for batch retry",
			"call_id", rec.CallID, "err", err)
		return err
	}
	return nil
}

func (c *Coordinator) issueHangup(ctx context.Context, callID, reason string, force bool) {
	var accepted bool
	var err error
	if force {
		accepted, err = c.control.ForceTerminateCall(ctx, callID)
	} else {
		accepted, err = c.control.TerminateCall(ctx, callID)
	}

	if err != nil || !accepted {
		c.log.Warn("termination command failed; call considered administratively terminated",
			"call_id", callID, "reason", reason, "force", force, "accepted", accepted, "err", err)
		alert.Emit(ctx, c.alerts, alert.Event{
			Severity: alert.SeverityWarning,
			CallID:   callID,
			Reason:   "termination_command_failed",
			Message:  "control plane did not confirm hangup; billing finalized locally",
		})
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
