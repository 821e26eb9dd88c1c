package alert

import (
	"context"
	"testing"
)

func TestEmitFillsDefaults(t *testing.T) {
	sink := NewMemorySink()

	Emit(context.Background(), sink, Event{
		CallID: "call-1",
		Reason: "insufficient_balance",
	})

	events := sink.Events()
	if len(events) != 1 {
		t.Fatalf("events: %d", len(events))
	}
	e := events[0]
	if e.ID == "" {
		t.Fatalf("missing id")
	}
	if e.CreatedAt.IsZero() {
		t.Fatalf("missing timestamp")
	}
	if e.Severity != SeverityInfo {
		t.Fatalf("default severity: %q", e.Severity)
	}
	if e.Reason != "insufficient_balance" || e.CallID != "call-1" {
		t.Fatalf("event mangled: %+v", e)
	}
}

func TestEmitKeepsExplicitFields(t *testing.T) {
	sink := NewMemorySink()

	Emit(context.Background(), sink, Event{
		ID:       "fixed-id",
		Severity: SeverityCritical,
		Reason:   "no_rate_found",
	})

	e := sink.Events()[0]
	if e.ID != "fixed-id" || e.Severity != SeverityCritical {
		t.Fatalf("explicit fields overwritten: %+v", e)
	}
}

func TestEmitNilSink(t *testing.T) {
	// Alerting disabled must not panic.
	Emit(context.Background(), nil, Event{Reason: "whatever"})
}
