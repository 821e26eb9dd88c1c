package ledger

import (
	"context"
	"database/sql"
	"errors"

	"voip-billing-platform/pkg/utils"
)

// PostgresRepo stores accounts and balance transactions in Postgres.
//
// Assumed schema:
// - billing_accounts (customer_id PK, type, balance NUMERIC(14,4),
//   credit_limit NUMERIC(14,4), updated_at)
// - balance_transactions (id PK, customer_id, type, amount, balance_before,
//   balance_after, reason, external_ref, actor, created_at) INSERT-only
type PostgresRepo struct {
	DB *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{DB: db} }

func (r *PostgresRepo) GetAccount(ctx context.Context, customerID string) (Account, bool, error) {
	const q = `
SELECT customer_id, type, balance, credit_limit, updated_at
FROM billing_accounts
WHERE customer_id = $1
`
	var a Account
	err := r.DB.QueryRowContext(ctx, q, customerID).Scan(
		&a.CustomerID,
		&a.Type,
		&a.Balance,
		&a.CreditLimit,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, false, nil
		}
		return Account{}, false, err
	}
	return a, true, nil
}

// Apply locks the account row, runs mutate, and persists the updated
// balance together with the audit transaction. Everything rolls back on
// mutate error or write failure. Deadlock aborts are retried; mutate must
// be a pure function of the locked account.
func (r *PostgresRepo) Apply(ctx context.Context, customerID string, mutate func(Account) (Account, BalanceTransaction, error)) error {
	return utils.WithRetryTx(ctx, r.DB, &sql.TxOptions{}, 3, func(ctx context.Context, tx *sql.Tx) error {
		a, err := lockAccount(ctx, tx, customerID)
		if err != nil {
			return err
		}

		updated, btx, err := mutate(a)
		if err != nil {
			return err
		}

		if err := updateAccount(ctx, tx, updated); err != nil {
			return err
		}
		return insertTransaction(ctx, tx, btx)
	})
}

// ApplyOnce is Apply with a debit dedupe check inside the same transaction
// and row lock: an existing debit for ref short-circuits without mutating.
func (r *PostgresRepo) ApplyOnce(ctx context.Context, customerID, ref string, mutate func(Account) (Account, BalanceTransaction, error)) (BalanceTransaction, bool, error) {
	var out BalanceTransaction
	var applied bool
	err := utils.WithRetryTx(ctx, r.DB, &sql.TxOptions{}, 3, func(ctx context.Context, tx *sql.Tx) error {
		out, applied = BalanceTransaction{}, false

		a, err := lockAccount(ctx, tx, customerID)
		if err != nil {
			return err
		}

		existing, found, err := findDebitByRef(ctx, tx, customerID, ref)
		if err != nil {
			return err
		}
		if found {
			out = existing
			return nil
		}

		updated, btx, err := mutate(a)
		if err != nil {
			return err
		}
		if err := updateAccount(ctx, tx, updated); err != nil {
			return err
		}
		if err := insertTransaction(ctx, tx, btx); err != nil {
			return err
		}
		out, applied = btx, true
		return nil
	})
	if err != nil {
		return BalanceTransaction{}, false, err
	}
	return out, applied, nil
}

func (r *PostgresRepo) ListTransactions(ctx context.Context, customerID string, limit int) ([]BalanceTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT id, customer_id, type, amount, balance_before, balance_after,
       reason, external_ref, actor, created_at
FROM balance_transactions
WHERE customer_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	rows, err := r.DB.QueryContext(ctx, q, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BalanceTransaction
	for rows.Next() {
		var t BalanceTransaction
		if err := rows.Scan(
			&t.ID,
			&t.CustomerID,
			&t.Type,
			&t.Amount,
			&t.BalanceBefore,
			&t.BalanceAfter,
			&t.Reason,
			&t.ExternalRef,
			&t.Actor,
			&t.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func lockAccount(ctx context.Context, tx *sql.Tx, customerID string) (Account, error) {
	// Row lock serializes concurrent money operations per customer.
	const q = `
SELECT customer_id, type, balance, credit_limit, updated_at
FROM billing_accounts
WHERE customer_id = $1
FOR UPDATE
`
	var a Account
	if err := tx.QueryRowContext(ctx, q, customerID).Scan(
		&a.CustomerID,
		&a.Type,
		&a.Balance,
		&a.CreditLimit,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func findDebitByRef(ctx context.Context, tx *sql.Tx, customerID, ref string) (BalanceTransaction, bool, error) {
	const q = `
SELECT id, customer_id, type, amount, balance_before, balance_after,
       reason, external_ref, actor, created_at
FROM balance_transactions
WHERE customer_id = $1 AND external_ref = $2 AND type = 'debit'
LIMIT 1
`
	var t BalanceTransaction
	err := tx.QueryRowContext(ctx, q, customerID, ref).Scan(
		&t.ID,
		&t.CustomerID,
		&t.Type,
		&t.Amount,
		&t.BalanceBefore,
		&t.BalanceAfter,
		&t.Reason,
		&t.ExternalRef,
		&t.Actor,
		&t.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return BalanceTransaction{}, false, nil
	}
	if err != nil {
		return BalanceTransaction{}, false, err
	}
	return t, true, nil
}

func updateAccount(ctx context.Context, tx *sql.Tx, a Account) error {
	const q = `
UPDATE billing_accounts
SET balance = $2, updated_at = $3
WHERE customer_id = $1
`
	_, err := tx.ExecContext(ctx, q, a.CustomerID, a.Balance, a.UpdatedAt)
	return err
}

func insertTransaction(ctx context.Context, tx *sql.Tx, t BalanceTransaction) error {
	const q = `
INSERT INTO balance_transactions (
  id, customer_id, type, amount, balance_before, balance_after,
  reason, external_ref, actor, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
`
	_, err := tx.ExecContext(ctx, q,
		t.ID,
		t.CustomerID,
		t.Type,
		t.Amount,
		t.BalanceBefore,
		t.BalanceAfter,
		t.Reason,
		t.ExternalRef,
		t.Actor,
		t.CreatedAt,
	)
	return err
}
