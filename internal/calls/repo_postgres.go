package calls

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"
)

// PostgresRepo stores call records in Postgres.
//
// Assumed schema (table call_records):
//   call_id PK, customer_id, destination, started_at, ended_at NULL,
//   status, duration_seconds, billable_seconds, cost NUMERIC(14,4) NULL,
//   billing_status, retry_count, created_at, updated_at
// with an index on (billing_status, retry_count) for sweep queries.
type PostgresRepo struct {
	DB *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{DB: db} }

const callColumns = `
call_id, customer_id, destination, started_at, ended_at, status,
duration_seconds, billable_seconds, cost, billing_status, retry_count,
created_at, updated_at`

func (r *PostgresRepo) Find(ctx context.Context, callID string) (CallRecord, bool, error) {
	q := `SELECT ` + callColumns + ` FROM call_records WHERE call_id = $1`
	rec, err := scanCall(r.DB.QueryRowContext(ctx, q, callID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, false, nil
		}
		return CallRecord{}, false, err
	}
	return rec, true, nil
}

func (r *PostgresRepo) Create(ctx context.Context, rec CallRecord) error {
	const q = `
INSERT INTO call_records (
  call_id, customer_id, destination, started_at, ended_at, status,
  duration_seconds, billable_seconds, cost, billing_status, retry_count,
  created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
`
	_, err := r.DB.ExecContext(ctx, q,
		rec.CallID,
		rec.CustomerID,
		rec.Destination,
		rec.StartedAt,
		rec.EndedAt,
		rec.Status,
		rec.DurationSeconds,
		rec.BillableSeconds,
		nullCost(rec.Cost),
		rec.BillingStatus,
		rec.RetryCount,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	return err
}

func (r *PostgresRepo) Update(ctx context.Context, rec CallRecord) error {
	const q = `
UPDATE call_records
SET ended_at = $2, status = $3, duration_seconds = $4, billable_seconds = $5,
    cost = $6, billing_status = $7, retry_count = $8, updated_at = $9
WHERE call_id = $1
`
	res, err := r.DB.ExecContext(ctx, q,
		rec.CallID,
		rec.EndedAt,
		rec.Status,
		rec.DurationSeconds,
		rec.BillableSeconds,
		nullCost(rec.Cost),
		rec.BillingStatus,
		rec.RetryCount,
		rec.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) ListActiveByCustomer(ctx context.Context, customerID string) ([]CallRecord, error) {
	q := `
SELECT ` + callColumns + `
FROM call_records
WHERE customer_id = $1
  AND status IN ('initiated','ringing','answered','in_progress')
ORDER BY started_at
`
	return r.queryMany(ctx, q, customerID)
}

func (r *PostgresRepo) ListPendingBilling(ctx context.Context, maxRetries, limit int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	q := `
SELECT ` + callColumns + `
FROM call_records
WHERE status NOT IN ('initiated','ringing','answered','in_progress')
  AND cost IS NULL
  AND billing_status IN ('pending','calculated','error')
  AND retry_count <= $1
ORDER BY started_at
LIMIT $2
`
	return r.queryMany(ctx, q, maxRetries, limit)
}

func (r *PostgresRepo) queryMany(ctx context.Context, q string, args ...any) ([]CallRecord, error) {
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(s rowScanner) (CallRecord, error) {
	var rec CallRecord
	var ended sql.NullTime
	var cost decimal.NullDecimal

	if err := s.Scan(
		&rec.CallID,
		&rec.CustomerID,
		&rec.Destination,
		&rec.StartedAt,
		&ended,
		&rec.Status,
		&rec.DurationSeconds,
		&rec.BillableSeconds,
		&cost,
		&rec.BillingStatus,
		&rec.RetryCount,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return CallRecord{}, err
	}
	if ended.Valid {
		t := ended.Time
		rec.EndedAt = &t
	}
	if cost.Valid {
		d := cost.Decimal
		rec.Cost = &d
	}
	return rec, nil
}

func nullCost(c *decimal.Decimal) decimal.NullDecimal {
	if c == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *c, Valid: true}
}
