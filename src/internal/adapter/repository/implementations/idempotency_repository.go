package implementations

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/api-sage/credit-loan-processor/src/internal/domain"
	"github.com/api-sage/credit-loan-processor/src/internal/logger"
)

const idempotencyColumns = `key, owner, fingerprint, result, completed_at, expires_at`

type IdempotencyRepository struct {
	db *sql.DB
}

func NewIdempotencyRepository(db *sql.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// Reserve inserts the key or takes over a row whose lease or retention has run out.
// The conditional upsert makes check-and-set a single statement.
func (r *IdempotencyRepository) Reserve(ctx context.Context, key, owner, fingerprint string, lease time.Duration) (domain.IdempotencyEntry, bool, error) {
	const upsert = `
INSERT INTO idempotency_keys (key, owner, fingerprint, expires_at)
VALUES ($1, $2, $3, NOW() + ($4 * INTERVAL '1 millisecond'))
ON CONFLICT (key) DO UPDATE
SET owner = EXCLUDED.owner,
    fingerprint = EXCLUDED.fingerprint,
    result = NULL,
    completed_at = NULL,
    expires_at = EXCLUDED.expires_at
WHERE idempotency_keys.expires_at < NOW()
RETURNING ` + idempotencyColumns

	const selectExisting = `
SELECT ` + idempotencyColumns + `
FROM idempotency_keys
WHERE key = $1`

	// The existing row can be released between the upsert and the read; one more round settles it.
	for attempt := 0; attempt < 2; attempt++ {
		var entry domain.IdempotencyEntry
		err := scanIdempotencyEntry(r.db.QueryRowContext(ctx, upsert, key, owner, fingerprint, lease.Milliseconds()), &entry)
		if err == nil {
			return entry, true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			logger.Error("idempotency repository reserve failed", err, logger.Fields{
				"idempotencyKey": key,
			})
			return domain.IdempotencyEntry{}, false, fmt.Errorf("reserve idempotency key: %w", err)
		}

		err = scanIdempotencyEntry(r.db.QueryRowContext(ctx, selectExisting, key), &entry)
		if err == nil {
			return entry, false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.IdempotencyEntry{}, false, fmt.Errorf("read idempotency key: %w", err)
		}
	}

	return domain.IdempotencyEntry{}, false, fmt.Errorf("reserve idempotency key %s: %w", key, domain.ErrDuplicateInProgress)
}

func (r *IdempotencyRepository) Complete(ctx context.Context, key, owner string, result domain.TransferResult, retention time.Duration) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal idempotent result: %w", err)
	}

	const query = `
UPDATE idempotency_keys
SET result = $3::jsonb,
    completed_at = NOW(),
    expires_at = NOW() + ($4 * INTERVAL '1 millisecond')
WHERE key = $1
  AND owner = $2
  AND completed_at IS NULL`

	res, err := r.db.ExecContext(ctx, query, key, owner, string(payload), retention.Milliseconds())
	if err != nil {
		logger.Error("idempotency repository complete failed", err, logger.Fields{
			"idempotencyKey": key,
		})
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return requireOneRow(res, "complete idempotency key")
}

func (r *IdempotencyRepository) Release(ctx context.Context, key, owner string) error {
	const query = `
DELETE FROM idempotency_keys
WHERE key = $1
  AND owner = $2
  AND completed_at IS NULL`

	res, err := r.db.ExecContext(ctx, query, key, owner)
	if err != nil {
		logger.Error("idempotency repository release failed", err, logger.Fields{
			"idempotencyKey": key,
		})
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return requireOneRow(res, "release idempotency key")
}

func requireOneRow(res sql.Result, op string) error {
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rowsAffected == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

func scanIdempotencyEntry(row rowScanner, entry *domain.IdempotencyEntry) error {
	var (
		rawResult   []byte
		completedAt sql.NullTime
	)
	if err := row.Scan(
		&entry.Key,
		&entry.Owner,
		&entry.Fingerprint,
		&rawResult,
		&completedAt,
		&entry.ExpiresAt,
	); err != nil {
		return err
	}

	if completedAt.Valid {
		t := completedAt.Time
		entry.CompletedAt = &t
	}
	if len(rawResult) > 0 {
		var result domain.TransferResult
		if err := json.Unmarshal(rawResult, &result); err != nil {
			return fmt.Errorf("decode idempotent result: %w", err)
		}
		entry.Result = &result
	}
	return nil
}
