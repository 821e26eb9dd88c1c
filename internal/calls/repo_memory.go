package calls

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory call record store useful for tests and early
// development.
//
// NOTE: This is not intended for production; replace with Postgres implementation.
type MemoryRepo struct {
	mu      sync.RWMutex
	records map[string]CallRecord
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{records: make(map[string]CallRecord)}
}

func (r *MemoryRepo) Find(ctx context.Context, callID string) (CallRecord, bool, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[callID]
	return rec, ok, nil
}

func (r *MemoryRepo) Create(ctx context.Context, rec CallRecord) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.CallID]; ok {
		return ErrAlreadyExists
	}
	r.records[rec.CallID] = rec
	return nil
}

func (r *MemoryRepo) Update(ctx context.Context, rec CallRecord) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.CallID]; !ok {
		return ErrNotFound
	}
	r.records[rec.CallID] = rec
	return nil
}

func (r *MemoryRepo) ListActiveByCustomer(ctx context.Context, customerID string) ([]CallRecord, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []CallRecord
	for _, rec := range r.records {
		if rec.CustomerID == customerID && rec.Active() {
			out = append(out, rec)
		}
	}
	sortByStart(out)
	return out, nil
}

func (r *MemoryRepo) ListPendingBilling(ctx context.Context, maxRetries, limit int) ([]CallRecord, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []CallRecord
	for _, rec := range r.records {
		if rec.Active() || rec.Billed() {
			continue
		}
		switch rec.BillingStatus {
		case BillingStatusPending, BillingStatusCalculated, BillingStatusError:
		default:
			continue
		}
		if maxRetries > 0 && rec.RetryCount > maxRetries {
			continue
		}
		out = append(out, rec)
	}
	sortByStart(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortByStart(recs []CallRecord) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].StartedAt.Before(recs[j].StartedAt)
	})
}
