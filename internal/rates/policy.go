package rates

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// IncrementPolicy is a billing increment pair: the call is charged an
// Initial block first, then rounded up in Subsequent blocks.
//
// Invariant: Initial >= 1 and Subsequent >= 1. A policy violating this
// must never reach the calculator; the parser is the enforcement point.
type IncrementPolicy struct {
	Initial    int
	Subsequent int
}

func (p IncrementPolicy) Valid() bool {
	return p.Initial >= 1 && p.Subsequent >= 1
}

func (p IncrementPolicy) String() string {
	return fmt.Sprintf("%d/%d", p.Initial, p.Subsequent)
}

var ErrInvalidPolicy = errors.New("rates: invalid increment policy")

// catalog is the fixed set of named increment policies offered to rate
// administrators. Custom "N/M" strings outside this set are also accepted.
var catalog = map[string]IncrementPolicy{
	"1/1":   {Initial: 1, Subsequent: 1},
	"6/6":   {Initial: 6, Subsequent: 6},
	"30/30": {Initial: 30, Subsequent: 30},
	"60/60": {Initial: 60, Subsequent: 60},
	"1/60":  {Initial: 1, Subsequent: 60},
	"6/60":  {Initial: 6, Subsequent: 60},
	"30/60": {Initial: 30, Subsequent: 60},
}

// ParsePolicy parses an "initial/subsequent" string. Named catalog entries
// hit a fast path; anything else is parsed as a custom pair.
func ParsePolicy(s string) (IncrementPolicy, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return IncrementPolicy{}, fmt.Errorf("%w: empty", ErrInvalidPolicy)
	}
	if p, ok := catalog[s]; ok {
		return p, nil
	}

	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return IncrementPolicy{}, fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
	initial, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return IncrementPolicy{}, fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
	subsequent, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return IncrementPolicy{}, fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}

	p := IncrementPolicy{Initial: initial, Subsequent: subsequent}
	if !p.Valid() {
		return IncrementPolicy{}, fmt.Errorf("%w: %q (both parts must be >= 1)", ErrInvalidPolicy, s)
	}
	return p, nil
}

// PolicyNames returns the named catalog entries, for admin surfaces.
func PolicyNames() []string {
	out := make([]string, 0, len(catalog))
	for name := range catalog {
		out = append(out, name)
	}
	return out
}
