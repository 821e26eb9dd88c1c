package billing

import (
	"context"
	"time"

	"voip-billing-platform/internal/rates"

	"github.com/shopspring/decimal"
)

// Settings are the billing-policy knobs the engine consults at session
// start and on every tick. They are fetched through a SettingsSource each
// time rather than cached indefinitely, so operators can change policy for
// new calls without a restart.
type Settings struct {
	DefaultIncrement rates.IncrementPolicy

	TickInterval time.Duration
	SessionTTL   time.Duration

	// GracePeriod: wait-and-recheck window before terminating a call for
	// insufficient balance. Zero disables the single grace re-check.
	GracePeriod time.Duration

	// LowBalanceThreshold triggers an informational alert; it does not
	// block calls by itself.
	LowBalanceThreshold decimal.Decimal

	AutoTerminate bool

	MaxBillingRetries int
}

func (s Settings) withDefaults() Settings {
	out := s
	if !out.DefaultIncrement.Valid() {
		out.DefaultIncrement = rates.IncrementPolicy{Initial: 60, Subsequent: 60}
	}
	if out.TickInterval <= 0 {
		out.TickInterval = 10 * time.Second
	}
	if out.SessionTTL <= 0 {
		out.SessionTTL = time.Hour
	}
	if out.MaxBillingRetries <= 0 {
		out.MaxBillingRetries = 3
	}
	return out
}

// SettingsSource supplies current billing settings. Implementations may
// read from env-derived config, a settings table, or a cache.
type SettingsSource interface {
	Current(ctx context.Context) Settings
}

// SourceFunc adapts a function to SettingsSource.
type SourceFunc func(ctx context.Context) Settings

func (f SourceFunc) Current(ctx context.Context) Settings {
	return f(ctx).withDefaults()
}

// StaticSource returns the same settings on every read. Useful for tests
// and for deployments where policy only changes with a restart.
func StaticSource(s Settings) SettingsSource {
	s = s.withDefaults()
	return SourceFunc(func(context.Context) Settings { return s })
}
