package rates

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testRepo() *MemoryRepo {
	past := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &MemoryRepo{Rates: []Rate{
		{
			ID: "us-generic", Name: "US", CountryCode: "1",
			RatePerMin: decimal.RequireFromString("0.01"),
			Increment:  "60/60", EffectiveFrom: past, Active: true,
		},
		{
			ID: "us-sf", Name: "US San Francisco", Prefix: "1415",
			RatePerMin: decimal.RequireFromString("0.02"),
			Increment:  "6/6", EffectiveFrom: past, Active: true,
		},
		{
			ID: "us-sf-mission", Name: "US SF Mission", Prefix: "14155",
			RatePerMin:     decimal.RequireFromString("0.03"),
			MinimumSeconds: 30, EffectiveFrom: past, Active: true,
		},
		{
			ID: "uk-inactive", Name: "UK", CountryCode: "44",
			RatePerMin: decimal.RequireFromString("0.05"),
			EffectiveFrom: past, Active: false,
		},
	}}
}

func testResolver(repo Repository) *Resolver {
	r := NewResolver(repo, func(context.Context) IncrementPolicy {
		return IncrementPolicy{Initial: 60, Subsequent: 60}
	})
	r.clock = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	return r
}

func TestResolveLongestPrefixWins(t *testing.T) {
	r := testResolver(testRepo())

	got, err := r.Resolve(context.Background(), "+1 (415) 555-0100")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.RateID != "us-sf-mission" {
		t.Fatalf("expected most specific prefix, got %q", got.RateID)
	}
	if got.Source != RateSourcePrefix {
		t.Fatalf("expected prefix source, got %q", got.Source)
	}
	if got.MinimumSeconds != 30 {
		t.Fatalf("minimum seconds: got %d", got.MinimumSeconds)
	}
	// Rate carries no increment string; the system default applies.
	if got.Policy != (IncrementPolicy{Initial: 60, Subsequent: 60}) {
		t.Fatalf("expected default policy, got %+v", got.Policy)
	}
}

func TestResolvePrefixPolicyFromRate(t *testing.T) {
	r := testResolver(testRepo())

	got, err := r.Resolve(context.Background(), "14159990000")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.RateID != "us-sf" {
		t.Fatalf("got %q", got.RateID)
	}
	if got.Policy != (IncrementPolicy{Initial: 6, Subsequent: 6}) {
		t.Fatalf("expected 6/6 from the rate row, got %+v", got.Policy)
	}
}

func TestResolveCountryFallback(t *testing.T) {
	r := testResolver(testRepo())

	got, err := r.Resolve(context.Background(), "12125550100")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.RateID != "us-generic" || got.Source != RateSourceCountry {
		t.Fatalf("expected country fallback, got %+v", got)
	}
}

func TestResolveNoRateFound(t *testing.T) {
	r := testResolver(testRepo())

	// UK rate exists but is inactive; nothing else matches 44.
	if _, err := r.Resolve(context.Background(), "442071234567"); !errors.Is(err, ErrNoRateFound) {
		t.Fatalf("expected ErrNoRateFound, got %v", err)
	}
}

func TestResolveNotYetEffective(t *testing.T) {
	repo := testRepo()
	repo.Rates = append(repo.Rates, Rate{
		ID: "de-future", CountryCode: "49",
		RatePerMin:    decimal.RequireFromString("0.02"),
		EffectiveFrom: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		Active:        true,
	})
	r := testResolver(repo)

	if _, err := r.Resolve(context.Background(), "4915112345678"); !errors.Is(err, ErrNoRateFound) {
		t.Fatalf("expected ErrNoRateFound for not-yet-effective rate, got %v", err)
	}
}

func TestResolveUnparseableIncrementSurfaces(t *testing.T) {
	repo := testRepo()
	repo.Rates = append(repo.Rates, Rate{
		ID: "broken", Prefix: "33",
		RatePerMin:    decimal.RequireFromString("0.02"),
		Increment:     "garbage",
		EffectiveFrom: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Active:        true,
	})
	r := testResolver(repo)

	if _, err := r.Resolve(context.Background(), "33123456789"); !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
}

func TestResolveInvalidDestination(t *testing.T) {
	r := testResolver(testRepo())

	for _, dest := range []string{"", "   ", "+", "abc", "1415x"} {
		if _, err := r.Resolve(context.Background(), dest); !errors.Is(err, ErrInvalidDestination) {
			t.Fatalf("destination %q: expected ErrInvalidDestination, got %v", dest, err)
		}
	}
}

func TestNormalizeDestination(t *testing.T) {
	cases := map[string]string{
		"+14155550100":      "14155550100",
		"0014155550100":     "14155550100",
		"+1 (415) 555-0100": "14155550100",
		"14155550100":       "14155550100",
	}
	for in, want := range cases {
		if got := NormalizeDestination(in); got != want {
			t.Fatalf("normalize %q: got %q want %q", in, got, want)
		}
	}
}
