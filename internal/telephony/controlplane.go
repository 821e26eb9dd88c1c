package telephony

import "context"

// ControlPlane is the narrow command interface the billing engine uses to
// talk to the external telephony control plane (FreePBX/Asterisk-style).
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Adapters translate boundary commands only; termination/billing
//   decisions belong to internal/termination and internal/session.
// - Callers must not assume success: billing is always finalized locally
//   regardless of the returned boolean.
type ControlPlane interface {
	Name() string
	HealthCheck(ctx context.Context) error

	// TerminateCall asks the control plane to hang up a call. The boolean
	// reports whether the control plane accepted the command.
	TerminateCall(ctx context.Context, callID string) (bool, error)

	// ForceTerminateCall is the emergency variant: the control plane should
	// drop the media leg immediately, skipping graceful teardown.
	ForceTerminateCall(ctx context.Context, callID string) (bool, error)
}
