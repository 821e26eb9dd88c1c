package rates

import (
	"context"
	"strings"
	"time"
)

// MemoryRepo is a simple in-memory rate table useful for tests and early
// development. It mirrors the matching rules the Postgres repository
// implements in SQL.
//
// NOTE: This is not intended for production; replace with Postgres implementation.
type MemoryRepo struct {
	Rates []Rate
}

func (r *MemoryRepo) FindDestinationRate(ctx context.Context, destination string, at time.Time) (Rate, bool, error) {
	_ = ctx

	var best Rate
	found := false

	for _, rate := range r.Rates {
		if rate.Prefix == "" {
			continue
		}
		if !eligible(rate, at) {
			continue
		}
		if !strings.HasPrefix(destination, rate.Prefix) {
			continue
		}
		if !found || betterMatch(rate, best, len(rate.Prefix), len(best.Prefix)) {
			best = rate
			found = true
		}
	}
	return best, found, nil
}

func (r *MemoryRepo) FindCountryRate(ctx context.Context, destination string, at time.Time) (Rate, bool, error) {
	_ = ctx

	var best Rate
	found := false

	for _, rate := range r.Rates {
		if rate.CountryCode == "" || rate.Prefix != "" {
			continue
		}
		if !eligible(rate, at) {
			continue
		}
		if !strings.HasPrefix(destination, rate.CountryCode) {
			continue
		}
		if !found || betterMatch(rate, best, len(rate.CountryCode), len(best.CountryCode)) {
			best = rate
			found = true
		}
	}
	return best, found, nil
}

func eligible(rate Rate, at time.Time) bool {
	if !rate.Active {
		return false
	}
	if at.Before(rate.EffectiveFrom) {
		return false
	}
	return true
}

// betterMatch prefers the longer prefix; on a tie, the most recently
// effective rate wins.
func betterMatch(candidate, current Rate, candLen, curLen int) bool {
	if candLen != curLen {
		return candLen > curLen
	}
	return candidate.EffectiveFrom.After(current.EffectiveFrom)
}
