package domain

import "time"

// IdempotencyEntry maps a client key to at most one result for its lifetime.
// Owner identifies the reservation holder; only the owner may complete or release it.
type IdempotencyEntry struct {
	Key         string
	Owner       string
	Fingerprint string
	Result      *TransferResult
	CompletedAt *time.Time
	ExpiresAt   time.Time
}

func (e IdempotencyEntry) IsComplete() bool {
	return e.Result != nil && e.CompletedAt != nil
}
