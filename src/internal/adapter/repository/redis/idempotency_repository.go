package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/api-sage/credit-loan-processor/src/internal/domain"
	"github.com/api-sage/credit-loan-processor/src/internal/logger"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "idempotency:"

const maxTxRetries = 3

type storedEntry struct {
	Owner       string                 `json:"owner"`
	Fingerprint string                 `json:"fingerprint"`
	Result      *domain.TransferResult `json:"result,omitempty"`
	CompletedAt *time.Time             `json:"completedAt,omitempty"`
	ExpiresAt   time.Time              `json:"expiresAt"`
}

// IdempotencyRepository keeps idempotency entries in Redis. Key expiry doubles as
// the in-flight lease and the retention window.
type IdempotencyRepository struct {
	client goredis.UniversalClient
	now    func() time.Time
}

func NewIdempotencyRepository(client goredis.UniversalClient) *IdempotencyRepository {
	return &IdempotencyRepository{client: client, now: time.Now}
}

func (r *IdempotencyRepository) Reserve(ctx context.Context, key, owner, fingerprint string, lease time.Duration) (domain.IdempotencyEntry, bool, error) {
	stored := storedEntry{
		Owner:       owner,
		Fingerprint: fingerprint,
		ExpiresAt:   r.now().Add(lease),
	}
	payload, err := json.Marshal(stored)
	if err != nil {
		return domain.IdempotencyEntry{}, false, fmt.Errorf("marshal idempotency entry: %w", err)
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		ok, err := r.client.SetNX(ctx, keyPrefix+key, payload, lease).Result()
		if err != nil {
			logger.Error("redis idempotency reserve failed", err, logger.Fields{
				"idempotencyKey": key,
			})
			return domain.IdempotencyEntry{}, false, fmt.Errorf("redis setnx: %w", err)
		}
		if ok {
			return toEntry(key, stored), true, nil
		}

		existing, err := r.load(ctx, r.client, key)
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return domain.IdempotencyEntry{}, false, err
		}
		return toEntry(key, existing), false, nil
	}

	return domain.IdempotencyEntry{}, false, fmt.Errorf("reserve idempotency key %s: %w", key, domain.ErrDuplicateInProgress)
}

func (r *IdempotencyRepository) Complete(ctx context.Context, key, owner string, result domain.TransferResult, retention time.Duration) error {
	return r.mutateOwned(ctx, key, owner, func(pipe goredis.Pipeliner, current storedEntry) error {
		now := r.now()
		current.Result = &result
		current.CompletedAt = &now
		current.ExpiresAt = now.Add(retention)
		payload, err := json.Marshal(current)
		if err != nil {
			return fmt.Errorf("marshal idempotency entry: %w", err)
		}
		pipe.Set(ctx, keyPrefix+key, payload, retention)
		return nil
	})
}

func (r *IdempotencyRepository) Release(ctx context.Context, key, owner string) error {
	return r.mutateOwned(ctx, key, owner, func(pipe goredis.Pipeliner, _ storedEntry) error {
		pipe.Del(ctx, keyPrefix+key)
		return nil
	})
}

// mutateOwned applies fn inside WATCH/MULTI so the write only lands if the caller
// still holds an incomplete reservation.
func (r *IdempotencyRepository) mutateOwned(
	ctx context.Context,
	key, owner string,
	fn func(pipe goredis.Pipeliner, current storedEntry) error,
) error {
	txf := func(tx *goredis.Tx) error {
		current, err := r.load(ctx, tx, key)
		if errors.Is(err, goredis.Nil) {
			return domain.ErrRecordNotFound
		}
		if err != nil {
			return err
		}
		if current.Owner != owner || current.CompletedAt != nil {
			return domain.ErrRecordNotFound
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			return fn(pipe, current)
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := r.client.Watch(ctx, txf, keyPrefix+key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("idempotency key %s: %w", key, domain.ErrConflict)
}

func (r *IdempotencyRepository) load(ctx context.Context, client goredis.Cmdable, key string) (storedEntry, error) {
	raw, err := client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return storedEntry{}, err
		}
		return storedEntry{}, fmt.Errorf("redis get: %w", err)
	}

	var entry storedEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return storedEntry{}, fmt.Errorf("decode idempotency entry: %w", err)
	}
	return entry, nil
}

func toEntry(key string, stored storedEntry) domain.IdempotencyEntry {
	return domain.IdempotencyEntry{
		Key:         key,
		Owner:       stored.Owner,
		Fingerprint: stored.Fingerprint,
		Result:      stored.Result,
		CompletedAt: stored.CompletedAt,
		ExpiresAt:   stored.ExpiresAt,
	}
}
