package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Repository abstracts account storage.
//
// Apply is the atomicity contract: implementations must run mutate under a
// per-customer lock (row lock, mutex) and persist the returned account and
// transaction together, or not at all. Two concurrent debits for the same
// customer must serialize so neither observes a stale balance.
type Repository interface {
	GetAccount(ctx context.Context, customerID string) (Account, bool, error)
	Apply(ctx context.Context, customerID string, mutate func(Account) (Account, BalanceTransaction, error)) error

	// ApplyOnce is Apply guarded by an idempotency reference: when a debit
	// transaction carrying ref already exists for the customer, mutate is
	// skipped and the existing transaction is returned with applied=false.
	// The existence check runs under the same per-customer lock as mutate.
	ApplyOnce(ctx context.Context, customerID, ref string, mutate func(Account) (Account, BalanceTransaction, error)) (BalanceTransaction, bool, error)

	ListTransactions(ctx context.Context, customerID string, limit int) ([]BalanceTransaction, error)
}

// Service is the authoritative balance ledger.
//
// Money invariants:
// - No balance updates without an audit transaction.
// - Transactions are append-only (immutable).
// - A failed debit leaves balance and audit trail unchanged.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var (
	ErrAccountNotFound   = errors.New("ledger: account not found")
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrInvalidArgument   = errors.New("ledger: invalid argument")
)

// AvailableBalance returns the spendable amount for a customer.
func (s *Service) AvailableBalance(ctx context.Context, customerID string) (decimal.Decimal, error) {
	a, err := s.account(ctx, customerID)
	if err != nil {
		return decimal.Zero, err
	}
	return a.AvailableBalance(), nil
}

// HasSufficientBalance reports whether the customer can cover amount.
func (s *Service) HasSufficientBalance(ctx context.Context, customerID string, amount decimal.Decimal) (bool, error) {
	a, err := s.account(ctx, customerID)
	if err != nil {
		return false, err
	}
	return a.AvailableBalance().GreaterThanOrEqual(amount), nil
}

// Debit atomically decreases the customer's balance and records an audit
// transaction. Returns ErrInsufficientFunds when the available balance
// cannot cover amount; prepaid balances never go below zero.
func (s *Service) Debit(ctx context.Context, customerID string, amount decimal.Decimal, reason, externalRef, actor string) error {
	if err := validateMutation(customerID, amount, reason); err != nil {
		return err
	}

	now := s.clock().UTC()
	txID := uuid.NewString()

	return s.repo.Apply(ctx, customerID, func(a Account) (Account, BalanceTransaction, error) {
		// Check-and-set under the repository's per-customer lock.
		if a.AvailableBalance().LessThan(amount) {
			return Account{}, BalanceTransaction{}, ErrInsufficientFunds
		}

		before := a.Balance
		a.Balance = a.Balance.Sub(amount)
		a.UpdatedAt = now

		tx := BalanceTransaction{
			ID:            txID,
			CustomerID:    customerID,
			Type:          TransactionTypeDebit,
			Amount:        amount,
			BalanceBefore: before,
			BalanceAfter:  a.Balance,
			Reason:        reason,
			ExternalRef:   externalRef,
			Actor:         actor,
			CreatedAt:     now,
		}
		return a, tx, nil
	})
}

// errNothingToDebit signals a no-op clamped debit; not exported, callers
// of SettleDebit observe it as a zero settled amount.
var errNothingToDebit = errors.New("ledger: nothing to debit")

// SettleDebit charges up to amount against the customer's available
// balance, at most once per externalRef: a debit already recorded for the
// reference is returned as the settled amount instead of charging again.
// The balance drains to zero (prepaid) or to the credit floor (postpaid),
// never below; the shortfall is the caller's to track. Call settlements
// route through here so retrying a transient write failure after a
// successful debit can never take money twice.
func (s *Service) SettleDebit(ctx context.Context, customerID string, amount decimal.Decimal, reason, externalRef, actor string) (decimal.Decimal, error) {
	if err := validateMutation(customerID, amount, reason); err != nil {
		return decimal.Zero, err
	}
	if externalRef == "" {
		return decimal.Zero, ErrInvalidArgument
	}

	now := s.clock().UTC()
	txID := uuid.NewString()

	tx, _, err := s.repo.ApplyOnce(ctx, customerID, externalRef, func(a Account) (Account, BalanceTransaction, error) {
		take := amount
		if avail := a.AvailableBalance(); avail.LessThan(take) {
			take = avail
		}
		if !take.IsPositive() {
			return Account{}, BalanceTransaction{}, errNothingToDebit
		}

		before := a.Balance
		a.Balance = a.Balance.Sub(take)
		a.UpdatedAt = now

		return a, BalanceTransaction{
			ID:            txID,
			CustomerID:    customerID,
			Type:          TransactionTypeDebit,
			Amount:        take,
			BalanceBefore: before,
			BalanceAfter:  a.Balance,
			Reason:        reason,
			ExternalRef:   externalRef,
			Actor:         actor,
			CreatedAt:     now,
		}, nil
	})
	if errors.Is(err, errNothingToDebit) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return tx.Amount, nil
}

// Credit atomically increases the customer's balance and records an audit
// transaction. Credits always succeed for existing accounts.
func (s *Service) Credit(ctx context.Context, customerID string, amount decimal.Decimal, reason, externalRef, actor string) error {
	if err := validateMutation(customerID, amount, reason); err != nil {
		return err
	}

	now := s.clock().UTC()
	txID := uuid.NewString()

	return s.repo.Apply(ctx, customerID, func(a Account) (Account, BalanceTransaction, error) {
		before := a.Balance
		a.Balance = a.Balance.Add(amount)
		a.UpdatedAt = now

		tx := BalanceTransaction{
			ID:            txID,
			CustomerID:    customerID,
			Type:          TransactionTypeCredit,
			Amount:        amount,
			BalanceBefore: before,
			BalanceAfter:  a.Balance,
			Reason:        reason,
			ExternalRef:   externalRef,
			Actor:         actor,
			CreatedAt:     now,
		}
		return a, tx, nil
	})
}

// Account returns the raw account record.
func (s *Service) Account(ctx context.Context, customerID string) (Account, error) {
	return s.account(ctx, customerID)
}

// Transactions returns the most recent audit entries for a customer.
func (s *Service) Transactions(ctx context.Context, customerID string, limit int) ([]BalanceTransaction, error) {
	if customerID == "" {
		return nil, ErrInvalidArgument
	}
	return s.repo.ListTransactions(ctx, customerID, limit)
}

func (s *Service) account(ctx context.Context, customerID string) (Account, error) {
	if customerID == "" {
		return Account{}, ErrInvalidArgument
	}
	a, ok, err := s.repo.GetAccount(ctx, customerID)
	if err != nil {
		return Account{}, err
	}
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func validateMutation(customerID string, amount decimal.Decimal, reason string) error {
	if customerID == "" {
		return ErrInvalidArgument
	}
	if reason == "" {
		return ErrInvalidArgument
	}
	if !amount.IsPositive() {
		return ErrInvalidArgument
	}
	return nil
}
