package utils

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestPoolDefaults(t *testing.T) {
	c := PostgresPoolConfig{}.withDefaults()
	if c.MaxOpenConns <= 0 || c.MaxIdleConns <= 0 {
		t.Fatalf("pool sizes not defaulted: %+v", c)
	}
	if c.PingTimeout <= 0 {
		t.Fatalf("ping timeout not defaulted: %+v", c)
	}

	// Explicit values survive.
	c = PostgresPoolConfig{MaxOpenConns: 7, PingTimeout: time.Second}.withDefaults()
	if c.MaxOpenConns != 7 || c.PingTimeout != time.Second {
		t.Fatalf("explicit values overwritten: %+v", c)
	}
}

func TestRetryableTxError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&pgconn.PgError{Code: "40001"}, true},
		{&pgconn.PgError{Code: "40P01"}, true},
		{fmt.Errorf("apply: %w", &pgconn.PgError{Code: "40P01"}), true},
		{&pgconn.PgError{Code: "23505"}, false},
		{errors.New("not a pg error"), false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := retryableTxError(tc.err); got != tc.want {
			t.Fatalf("retryableTxError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
