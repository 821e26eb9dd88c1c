package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a structured billing alert handed to an external
// notification/alerting system.
//
// The billing core's obligation is only to emit the event; delivery,
// routing and paging are someone else's problem. Emission is best-effort:
// callers must never block critical billing flows on alert failures.
type Event struct {
	ID       string   `json:"id"`
	Severity Severity `json:"severity"`

	CallID     string `json:"call_id,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`

	// Reason is a stable machine-readable cause, e.g. "insufficient_balance".
	Reason string `json:"reason"`

	// Message is a short human-readable description for ops.
	Message string `json:"message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Sink receives billing alert events.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// Emit fills in defaults and forwards to the sink. A nil sink drops the
// event silently (alerting disabled).
func Emit(ctx context.Context, s Sink, e Event) {
	if s == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	// Best-effort wins over correctness of delivery here.
	_ = s.Emit(ctx, e)
}

// SlogSink writes alert events to the structured log. It stands in for a
// real notification pipeline in dev and doubles as a local trace of every
// emitted event in production.
type SlogSink struct {
	Log *slog.Logger
}

func (s SlogSink) Emit(ctx context.Context, e Event) error {
	l := s.Log
	if l == nil {
		l = slog.Default()
	}
	attrs := []any{
		"alert_id", e.ID,
		"reason", e.Reason,
		"call_id", e.CallID,
		"customer_id", e.CustomerID,
		"message", e.Message,
	}
	switch e.Severity {
	case SeverityCritical:
		l.ErrorContext(ctx, "billing alert", attrs...)
	case SeverityWarning:
		l.WarnContext(ctx, "billing alert", attrs...)
	default:
		l.InfoContext(ctx, "billing alert", attrs...)
	}
	return nil
}

// MemorySink collects events for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Emit(ctx context.Context, e Event) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
