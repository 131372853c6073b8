package memory

import (
	"context"
	"sync"
	"time"

	"github.com/api-sage/credit-loan-processor/src/internal/domain"
)

type IdempotencyRepository struct {
	mu      sync.Mutex
	entries map[string]domain.IdempotencyEntry
	now     func() time.Time
}

func NewIdempotencyRepository() *IdempotencyRepository {
	return &IdempotencyRepository{
		entries: make(map[string]domain.IdempotencyEntry),
		now:     time.Now,
	}
}

func (r *IdempotencyRepository) Reserve(_ context.Context, key, owner, fingerprint string, lease time.Duration) (domain.IdempotencyEntry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, ok := r.entries[key]; ok && now.Before(existing.ExpiresAt) {
		return existing, false, nil
	}

	entry := domain.IdempotencyEntry{
		Key:         key,
		Owner:       owner,
		Fingerprint: fingerprint,
		ExpiresAt:   now.Add(lease),
	}
	r.entries[key] = entry
	return entry, true, nil
}

func (r *IdempotencyRepository) Complete(_ context.Context, key, owner string, result domain.TransferResult, retention time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || entry.Owner != owner || entry.IsComplete() {
		return domain.ErrRecordNotFound
	}
	now := r.now()
	entry.Result = &result
	entry.CompletedAt = &now
	entry.ExpiresAt = now.Add(retention)
	r.entries[key] = entry
	return nil
}

func (r *IdempotencyRepository) Release(_ context.Context, key, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || entry.Owner != owner || entry.IsComplete() {
		return domain.ErrRecordNotFound
	}
	delete(r.entries, key)
	return nil
}
