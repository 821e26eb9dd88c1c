package rates

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepo reads the rate table from Postgres.
//
// Assumed schema (table rates):
//   id, name, prefix, country_code, rate_per_min NUMERIC(12,6),
//   minimum_seconds INT, increment TEXT, effective_from TIMESTAMPTZ,
//   active BOOL, created_at, updated_at
// with an index on (prefix) for the reverse-LIKE match.
type PostgresRepo struct {
	DB *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{DB: db} }

func (r *PostgresRepo) FindDestinationRate(ctx context.Context, destination string, at time.Time) (Rate, bool, error) {
	// Longest matching prefix wins; effective_from breaks ties.
	const q = `
SELECT id, name, prefix, country_code, rate_per_min, minimum_seconds, increment,
       effective_from, active, created_at, updated_at
FROM rates
WHERE prefix <> ''
  AND $1 LIKE prefix || '%'
  AND active = TRUE
  AND effective_from <= $2
ORDER BY length(prefix) DESC, effective_from DESC
LIMIT 1
`
	return r.queryOne(ctx, q, destination, at)
}

func (r *PostgresRepo) FindCountryRate(ctx context.Context, destination string, at time.Time) (Rate, bool, error) {
	const q = `
SELECT id, name, prefix, country_code, rate_per_min, minimum_seconds, increment,
       effective_from, active, created_at, updated_at
FROM rates
WHERE country_code <> ''
  AND (prefix IS NULL OR prefix = '')
  AND $1 LIKE country_code || '%'
  AND active = TRUE
  AND effective_from <= $2
ORDER BY length(country_code) DESC, effective_from DESC
LIMIT 1
`
	return r.queryOne(ctx, q, destination, at)
}

func (r *PostgresRepo) queryOne(ctx context.Context, q string, destination string, at time.Time) (Rate, bool, error) {
	var rate Rate
	err := r.DB.QueryRowContext(ctx, q, destination, at).Scan(
		&rate.ID,
		&rate.Name,
		&rate.Prefix,
		&rate.CountryCode,
		&rate.RatePerMin,
		&rate.MinimumSeconds,
		&rate.Increment,
		&rate.EffectiveFrom,
		&rate.Active,
		&rate.CreatedAt,
		&rate.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Rate{}, false, nil
		}
		return Rate{}, false, err
	}
	return rate, true, nil
}
