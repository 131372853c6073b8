package repo_interfaces

import (
	"context"
	"time"

	"github.com/api-sage/credit-loan-processor/src/internal/domain"
)

// IdempotencyRepository is the durable key ledger.
//
// Reserve is a single atomic check-and-set. When the key is free, or its previous
// in-flight reservation expired, the caller becomes the owner and reserved is true.
// Otherwise the existing entry is returned unchanged with reserved false.
type IdempotencyRepository interface {
	Reserve(ctx context.Context, key, owner, fingerprint string, lease time.Duration) (domain.IdempotencyEntry, bool, error)
	Complete(ctx context.Context, key, owner string, result domain.TransferResult, retention time.Duration) error
	Release(ctx context.Context, key, owner string) error
}
