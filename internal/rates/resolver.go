package rates

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Repository abstracts rate persistence.
// Implementation can be Postgres, cached, etc.
type Repository interface {
	// FindDestinationRate returns the active destination-specific rate with
	// the longest prefix matching destination.
	FindDestinationRate(ctx context.Context, destination string, at time.Time) (Rate, bool, error)

	// FindCountryRate returns the active country-level rate whose dial code
	// is the longest prefix of destination.
	FindCountryRate(ctx context.Context, destination string, at time.Time) (Rate, bool, error)
}

// Resolver picks the applicable rate for a dialed destination.
//
// Resolution order:
//  1. destination-specific rate, longest prefix wins
//  2. country-level rate by dial code
//  3. neither -> ErrNoRateFound (hard error: a rate-table gap that real
//     money depends on; never retried)
//
// If the selected rate carries no usable increment policy, the
// system default from DefaultPolicy is patched in. DefaultPolicy is read
// per call so operators can change it without a restart.
type Resolver struct {
	repo Repository

	// DefaultPolicy supplies the system-wide increment policy.
	DefaultPolicy func(ctx context.Context) IncrementPolicy

	clock func() time.Time
}

var (
	ErrNoRateFound        = errors.New("rates: no rate found for destination")
	ErrInvalidDestination = errors.New("rates: invalid destination")
)

func NewResolver(repo Repository, defaultPolicy func(ctx context.Context) IncrementPolicy) *Resolver {
	return &Resolver{repo: repo, DefaultPolicy: defaultPolicy, clock: time.Now}
}

// Resolve returns the rate, minimum duration and increment policy for a
// destination number.
func (r *Resolver) Resolve(ctx context.Context, destination string) (ResolvedRate, error) {
	dest := NormalizeDestination(destination)
	if dest == "" {
		return ResolvedRate{}, ErrInvalidDestination
	}

	at := r.clock().UTC()

	rate, source, ok, err := r.lookup(ctx, dest, at)
	if err != nil {
		return ResolvedRate{}, err
	}
	if !ok {
		return ResolvedRate{}, ErrNoRateFound
	}

	policy, err := r.policyFor(ctx, rate)
	if err != nil {
		return ResolvedRate{}, err
	}

	return ResolvedRate{
		RateID:         rate.ID,
		RatePerMin:     rate.RatePerMin,
		MinimumSeconds: rate.MinimumSeconds,
		Policy:         policy,
		Source:         source,
	}, nil
}

func (r *Resolver) lookup(ctx context.Context, dest string, at time.Time) (Rate, RateSource, bool, error) {
	rate, ok, err := r.repo.FindDestinationRate(ctx, dest, at)
	if err != nil {
		return Rate{}, "", false, err
	}
	if ok {
		return rate, RateSourcePrefix, true, nil
	}

	rate, ok, err = r.repo.FindCountryRate(ctx, dest, at)
	if err != nil {
		return Rate{}, "", false, err
	}
	if ok {
		return rate, RateSourceCountry, true, nil
	}
	return Rate{}, "", false, nil
}

// policyFor parses the rate's increment string, falling back to the system
// default when the rate carries none.
func (r *Resolver) policyFor(ctx context.Context, rate Rate) (IncrementPolicy, error) {
	if strings.TrimSpace(rate.Increment) == "" {
		return r.defaultPolicy(ctx), nil
	}
	p, err := ParsePolicy(rate.Increment)
	if err != nil {
		// A stored rate with an unparseable increment is a data-integrity
		// problem; surface it instead of silently billing with the default.
		return IncrementPolicy{}, err
	}
	return p, nil
}

func (r *Resolver) defaultPolicy(ctx context.Context) IncrementPolicy {
	if r.DefaultPolicy != nil {
		if p := r.DefaultPolicy(ctx); p.Valid() {
			return p
		}
	}
	return IncrementPolicy{Initial: 60, Subsequent: 60}
}

// NormalizeDestination strips dial formatting and keeps leading digits only.
// A "+" prefix and common separators are dropped; anything non-numeric left
// over invalidates the destination.
func NormalizeDestination(destination string) string {
	s := strings.TrimSpace(destination)
	s = strings.TrimPrefix(s, "+")
	s = strings.TrimPrefix(s, "00")

	var b strings.Builder
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			b.WriteRune(c)
		case c == ' ' || c == '-' || c == '(' || c == ')':
			// formatting noise
		default:
			return ""
		}
	}
	return b.String()
}
