package ledger

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory account store useful for tests and early
// development. Apply serializes per customer with a per-account mutex,
// matching the row-lock semantics of the Postgres repository.
//
// NOTE: This is not intended for production; replace with Postgres implementation.
type MemoryRepo struct {
	mu       sync.RWMutex
	accounts map[string]*memoryAccount
}

type memoryAccount struct {
	mu   sync.Mutex
	acct Account
	txs  []BalanceTransaction
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{accounts: make(map[string]*memoryAccount)}
}

// Put creates or replaces an account. Test/seed helper.
func (r *MemoryRepo) Put(a Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.accounts[a.CustomerID]; ok {
		e.mu.Lock()
		e.acct = a
		e.mu.Unlock()
		return
	}
	r.accounts[a.CustomerID] = &memoryAccount{acct: a}
}

func (r *MemoryRepo) GetAccount(ctx context.Context, customerID string) (Account, bool, error) {
	_ = ctx
	r.mu.RLock()
	e, ok := r.accounts[customerID]
	r.mu.RUnlock()
	if !ok {
		return Account{}, false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acct, true, nil
}

func (r *MemoryRepo) Apply(ctx context.Context, customerID string, mutate func(Account) (Account, BalanceTransaction, error)) error {
	_ = ctx
	r.mu.RLock()
	e, ok := r.accounts[customerID]
	r.mu.RUnlock()
	if !ok {
		return ErrAccountNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	updated, tx, err := mutate(e.acct)
	if err != nil {
		return err
	}
	e.acct = updated
	e.txs = append(e.txs, tx)
	return nil
}

func (r *MemoryRepo) ApplyOnce(ctx context.Context, customerID, ref string, mutate func(Account) (Account, BalanceTransaction, error)) (BalanceTransaction, bool, error) {
	_ = ctx
	r.mu.RLock()
	e, ok := r.accounts[customerID]
	r.mu.RUnlock()
	if !ok {
		return BalanceTransaction{}, false, ErrAccountNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, tx := range e.txs {
		if tx.Type == TransactionTypeDebit && tx.ExternalRef == ref {
			return tx, false, nil
		}
	}

	updated, tx, err := mutate(e.acct)
	if err != nil {
		return BalanceTransaction{}, false, err
	}
	e.acct = updated
	e.txs = append(e.txs, tx)
	return tx, true, nil
}

func (r *MemoryRepo) ListTransactions(ctx context.Context, customerID string, limit int) ([]BalanceTransaction, error) {
	_ = ctx
	r.mu.RLock()
	e, ok := r.accounts[customerID]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]BalanceTransaction, len(e.txs))
	copy(out, e.txs)
	// Newest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
