package billing

import (
	"fmt"

	"voip-billing-platform/internal/rates"

	"github.com/shopspring/decimal"
)

// Pure increment math. No persistence, no clocks, no provider calls.
//
// Charging rule:
//   duration = max(actual, minimum)
//   duration <= 0            -> 0
//   duration <= initial      -> initial (a call that barely connects still
//                               incurs the initial increment)
//   otherwise                -> initial + ceil((duration-initial)/subsequent) * subsequent
//
// Rounding is always up to the next subsequent boundary, never down, so the
// billable duration is never below the actual duration.

// CostScale is the decimal precision for call costs. Sub-cent accuracy
// accumulates correctly across many short calls; two decimals would not.
const CostScale = 4

// BillableDuration converts an actual call duration into chargeable seconds.
//
// A malformed policy here is a data-integrity bug (the parser is the
// enforcement point), so it fails loudly rather than mis-billing quietly.
func BillableDuration(actualSec int, policy rates.IncrementPolicy, minimumSec int) int {
	if !policy.Valid() {
		panic(fmt.Sprintf("billing: malformed increment policy %+v", policy))
	}

	d := actualSec
	if minimumSec > d {
		d = minimumSec
	}
	if d <= 0 {
		return 0
	}
	if d <= policy.Initial {
		return policy.Initial
	}

	extra := d - policy.Initial
	blocks := extra / policy.Subsequent
	if extra%policy.Subsequent != 0 {
		blocks++
	}
	return policy.Initial + blocks*policy.Subsequent
}

// Cost prices a billable duration at a per-minute rate, rounded to
// CostScale decimal places.
//
// decimal.Round is half-away-from-zero; for the non-negative amounts this
// engine produces that is exactly half-up.
func Cost(billableSec int, ratePerMin decimal.Decimal) decimal.Decimal {
	if billableSec <= 0 {
		return decimal.Zero
	}
	minutes := decimal.NewFromInt(int64(billableSec)).Div(decimal.NewFromInt(60))
	return minutes.Mul(ratePerMin).Round(CostScale)
}

// CostFor is the two stages composed: duration flooring, increment
// rounding, then pricing.
func CostFor(actualSec int, rate rates.ResolvedRate) (billableSec int, cost decimal.Decimal) {
	billableSec = BillableDuration(actualSec, rate.Policy, rate.MinimumSeconds)
	return billableSec, Cost(billableSec, rate.RatePerMin)
}
