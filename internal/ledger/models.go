package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a customer's balance record.
//
// Money invariants:
// - Balance is mutated only through Service.Debit / Service.Credit.
// - Every mutation writes a BalanceTransaction in the same transaction.
// - A prepaid account's available balance never goes below zero.
type Account struct {
	CustomerID string      `json:"customer_id" db:"customer_id"`
	Type       AccountType `json:"type" db:"type"`

	// Balance is signed; postpaid accounts may run negative up to the
	// credit limit.
	Balance decimal.Decimal `json:"balance" db:"balance"`

	// CreditLimit applies to postpaid accounts only. Always >= 0.
	CreditLimit decimal.Decimal `json:"credit_limit" db:"credit_limit"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type AccountType string

const (
	AccountTypePrepaid  AccountType = "prepaid"
	AccountTypePostpaid AccountType = "postpaid"
)

// AvailableBalance is the amount the account can still spend:
// prepaid -> balance floored at zero; postpaid -> balance + credit limit.
func (a Account) AvailableBalance() decimal.Decimal {
	switch a.Type {
	case AccountTypePostpaid:
		return a.Balance.Add(a.CreditLimit)
	default:
		if a.Balance.IsNegative() {
			return decimal.Zero
		}
		return a.Balance
	}
}

// BalanceTransaction is an immutable audit entry for a single balance
// mutation. Entries are append-only and never updated or deleted.
type BalanceTransaction struct {
	ID         string          `json:"id" db:"id"`
	CustomerID string          `json:"customer_id" db:"customer_id"`
	Type       TransactionType `json:"type" db:"type"`

	// Amount is always positive; Type carries the direction.
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before" db:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after" db:"balance_after"`

	Reason string `json:"reason" db:"reason"`

	// ExternalRef links the mutation to its cause, e.g. a call id.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	// Actor is the system component or admin responsible.
	Actor string `json:"actor,omitempty" db:"actor"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type TransactionType string

const (
	TransactionTypeDebit  TransactionType = "debit"
	TransactionTypeCredit TransactionType = "credit"
)
