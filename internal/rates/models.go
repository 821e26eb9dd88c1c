package rates

import (
	"time"

	"github.com/shopspring/decimal"
)

// Rate is a carrier-style termination rate row.
//
// A rate is either destination-specific (Prefix set, matched by longest
// prefix) or country-level (CountryCode set, matched by dial-code prefix).
// Destination-specific rates always win over country-level ones.
//
// Money invariant: RatePerMin is stored as NUMERIC and must never be
// handled as a float.
type Rate struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`

	// Prefix is a destination prefix in digits (e.g. "14155"). Empty for
	// country-level rates.
	Prefix string `json:"prefix,omitempty" db:"prefix"`

	// CountryCode is a dial code in digits (e.g. "1", "44"). Empty for
	// destination-specific rates.
	CountryCode string `json:"country_code,omitempty" db:"country_code"`

	RatePerMin decimal.Decimal `json:"rate_per_min" db:"rate_per_min"`

	// MinimumSeconds enforces a minimum charged duration.
	MinimumSeconds int `json:"minimum_seconds" db:"minimum_seconds"`

	// Increment is an "initial/subsequent" policy string (e.g. "6/6").
	// Empty means the system default applies.
	Increment string `json:"increment,omitempty" db:"increment"`

	EffectiveFrom time.Time `json:"effective_from" db:"effective_from"`
	Active        bool      `json:"active" db:"active"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RateSource records which lookup produced a resolved rate.
type RateSource string

const (
	RateSourcePrefix  RateSource = "prefix"
	RateSourceCountry RateSource = "country"
)

// ResolvedRate is the resolver output consumed by the billing engine.
type ResolvedRate struct {
	RateID         string
	RatePerMin     decimal.Decimal
	MinimumSeconds int
	Policy         IncrementPolicy
	Source         RateSource
}
