package batch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"voip-billing-platform/internal/alert"
	"voip-billing-platform/internal/billing"
	"voip-billing-platform/internal/calls"
	"voip-billing-platform/internal/rates"
	"voip-billing-platform/internal/session"
)

// Finalizer performs the one-shot billing computation for a completed
// call. The session tracker implements this; for CDR-discovered calls
// without a live session it falls back to resolve-compute-debit.
type Finalizer interface {
	Finalize(ctx context.Context, call calls.CallRecord) error
}

// EmergencyTerminator escalates stuck calls. The termination coordinator
// implements this.
type EmergencyTerminator interface {
	EmergencyTerminate(ctx context.Context, call calls.CallRecord, reason string) error
}

// Processor reconciles calls billed post-hoc: completed calls that never
// had a real-time session, CDR-derived records, and records whose earlier
// billing attempt failed transiently.
type Processor struct {
	calls      calls.Repository
	store      session.Store
	finalizer  Finalizer
	terminator EmergencyTerminator
	settings   billing.SettingsSource
	alerts     alert.Sink
	log        *slog.Logger

	// BatchLimit caps records per sweep. Zero means the repository default.
	BatchLimit int

	clock func() time.Time
}

type ProcessorDeps struct {
	Calls      calls.Repository
	Store      session.Store
	Finalizer  Finalizer
	Terminator EmergencyTerminator
	Settings   billing.SettingsSource
	Alerts     alert.Sink
	Log        *slog.Logger
}

func NewProcessor(d ProcessorDeps) *Processor {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		calls:      d.Calls,
		store:      d.Store,
		finalizer:  d.Finalizer,
		terminator: d.Terminator,
		settings:   d.Settings,
		alerts:     d.Alerts,
		log:        log,
		clock:      time.Now,
	}
}

// SweepStats summarizes one reconciliation pass.
type SweepStats struct {
	Billed            int
	Skipped           int
	Retried           int
	PermanentlyFailed int
	Escalated         int
}

// Sweep bills pending records and escalates stuck sessions.
//
// Retry policy: a failed attempt increments retry_count; past the
// configured maximum the record is marked permanently_failed and excluded
// from further automatic retries (manual intervention required). A missing
// rate is a configuration gap, not a transient fault, and fails the record
// permanently right away.
func (p *Processor) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	cfg := p.settings.Current(ctx)

	pending, err := p.calls.ListPendingBilling(ctx, cfg.MaxBillingRetries, p.BatchLimit)
	if err != nil {
		return stats, err
	}

	for _, rec := range pending {
		if rec.Billed() {
			// Idempotence guard; a concurrent finalize won the race.
			stats.Skipped++
			continue
		}

		if err := p.finalizer.Finalize(ctx, rec); err != nil {
			p.recordFailure(ctx, rec, err, cfg.MaxBillingRetries, &stats)
			continue
		}
		stats.Billed++
	}

	if err := p.escalateStuckSessions(ctx, &stats); err != nil {
		p.log.Warn("stale session scan failed", "err", err)
	}

	return stats, nil
}

func (p *Processor) recordFailure(ctx context.Context, rec calls.CallRecord, cause error, maxRetries int, stats *SweepStats) {
	fresh, ok, err := p.calls.Find(ctx, rec.CallID)
	if err != nil || !ok {
		p.log.Warn("billing failure bookkeeping: reload failed", "call_id", rec.CallID, "err", err)
		return
	}

	now := p.clock().UTC()

	if errors.Is(cause, rates.ErrNoRateFound) {
		fresh.BillingStatus = calls.BillingStatusPermanentlyFailed
		fresh.UpdatedAt = now
		if err := p.calls.Update(ctx, fresh); err != nil {
			p.log.Warn("failed to mark record permanently failed", "call_id", rec.CallID, "err", err)
			return
		}
		stats.PermanentlyFailed++
		alert.Emit(ctx, p.alerts, alert.Event{
			Severity:   alert.SeverityCritical,
			CallID:     fresh.CallID,
			CustomerID: fresh.CustomerID,
			Reason:     "no_rate_found",
			Message:    "no rate configured for destination; record requires manual review",
		})
		return
	}

	fresh.RetryCount++
	fresh.UpdatedAt = now

	if fresh.RetryCount > maxRetries {
		fresh.BillingStatus = calls.BillingStatusPermanentlyFailed
		stats.PermanentlyFailed++
		alert.Emit(ctx, p.alerts, alert.Event{
			Severity:   alert.SeverityCritical,
			CallID:     fresh.CallID,
			CustomerID: fresh.CustomerID,
			Reason:     "billing_retries_exhausted",
			Message:    "billing failed after maximum retries; record requires manual review",
		})
	} else {
		fresh.BillingStatus = calls.BillingStatusError
		stats.Retried++
		p.log.Warn("billing attempt failed; will retry on a later sweep",
			"call_id", fresh.CallID, "retry_count", fresh.RetryCount, "err", cause)
	}

	if err := p.calls.Update(ctx, fresh); err != nil {
		p.log.Warn("billing failure bookkeeping: update failed", "call_id", rec.CallID, "err", err)
	}
}

// escalateStuckSessions hunts sessions that outlived their TTL without
// finalization (stuck call, control-plane failure). These are candidates
// for emergency termination, never silent expiry; a quietly expired
// session is unbilled usage.
func (p *Processor) escalateStuckSessions(ctx context.Context, stats *SweepStats) error {
	expired, err := p.store.ListExpired(ctx, p.clock().UTC())
	if err != nil {
		return err
	}

	for _, sess := range expired {
		rec, ok, err := p.calls.Find(ctx, sess.CallID)
		if err != nil {
			p.log.Warn("stale session: call lookup failed", "call_id", sess.CallID, "err", err)
			continue
		}
		if !ok {
			// Session without a record; nothing to bill.
			_ = p.store.Delete(ctx, sess.CallID)
			continue
		}

		if rec.Active() {
			if err := p.terminator.EmergencyTerminate(ctx, rec, "session_ttl_expired"); err != nil {
				p.log.Warn("emergency termination for stuck call failed", "call_id", rec.CallID, "err", err)
				continue
			}
			stats.Escalated++
			continue
		}

		// Call already over but its session lingered; finalize cleans both.
		if err := p.finalizer.Finalize(ctx, rec); err != nil {
			p.log.Warn("stale session finalize failed", "call_id", rec.CallID, "err", err)
		}
	}
	return nil
}
