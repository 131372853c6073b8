package implementations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/api-sage/credit-loan-processor/src/internal/commons"
	"github.com/api-sage/credit-loan-processor/src/internal/domain"
	"github.com/api-sage/credit-loan-processor/src/internal/logger"
	"github.com/shopspring/decimal"
)

const accountColumns = `id, owner_id, balance, version, status, created_at, updated_at`

type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, account domain.Account) (domain.Account, error) {
	logger.Info("account repository create", logger.Fields{
		"accountId": account.ID,
		"ownerId":   account.OwnerID,
	})

	if account.Balance.IsNegative() {
		return domain.Account{}, fmt.Errorf("create account: %w", domain.ErrInvalidAmount)
	}
	if account.Status == "" {
		account.Status = domain.AccountStatusActive
	}

	const query = `
INSERT INTO accounts (
	id,
	owner_id,
	balance,
	status
) VALUES (COALESCE(NULLIF($1, ''), gen_random_uuid()::text), $2, $3::numeric, $4)
RETURNING ` + accountColumns

	var created domain.Account
	if err := scanAccount(r.db.QueryRowContext(
		ctx,
		query,
		account.ID,
		account.OwnerID,
		commons.FormatAmount(account.Balance),
		account.Status,
	), &created); err != nil {
		if isUniqueViolation(err) {
			return domain.Account{}, fmt.Errorf("create account %s: %w", account.ID, domain.ErrAlreadyExists)
		}
		logger.Error("account repository create failed", err, logger.Fields{
			"accountId": account.ID,
		})
		return domain.Account{}, fmt.Errorf("create account: %w", err)
	}

	logger.Info("account repository create success", logger.Fields{
		"accountId": created.ID,
	})
	return created, nil
}

func (r *AccountRepository) Get(ctx context.Context, accountID string) (domain.Account, error) {
	const query = `
SELECT ` + accountColumns + `
FROM accounts
WHERE id = $1`

	var account domain.Account
	if err := scanAccount(r.db.QueryRowContext(ctx, query, accountID), &account); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			logger.Info("account repository record not found", logger.Fields{
				"accountId": accountID,
			})
			return domain.Account{}, domain.ErrAccountNotFound
		}
		logger.Error("account repository get failed", err, logger.Fields{
			"accountId": accountID,
		})
		return domain.Account{}, fmt.Errorf("get account: %w", err)
	}

	return account, nil
}

func (r *AccountRepository) Debit(ctx context.Context, accountID string, amount decimal.Decimal, expectedVersion int64) (domain.Account, error) {
	logger.Info("account repository debit", logger.Fields{
		"accountId":       accountID,
		"amount":          amount.String(),
		"expectedVersion": expectedVersion,
	})

	if err := commons.ValidateAmount(amount); err != nil {
		return domain.Account{}, fmt.Errorf("%w: %v", domain.ErrInvalidAmount, err)
	}

	const query = `
UPDATE accounts
SET balance = balance - $2::numeric,
    version = version + 1,
    updated_at = NOW()
WHERE id = $1
  AND version = $3
  AND status = 'ACTIVE'
  AND balance >= $2::numeric
RETURNING ` + accountColumns

	return r.applyVersioned(ctx, "debit", query, accountID, amount, expectedVersion, domain.ErrInsufficientFunds)
}

func (r *AccountRepository) Credit(ctx context.Context, accountID string, amount decimal.Decimal, expectedVersion int64) (domain.Account, error) {
	logger.Info("account repository credit", logger.Fields{
		"accountId":       accountID,
		"amount":          amount.String(),
		"expectedVersion": expectedVersion,
	})

	if err := commons.ValidateAmount(amount); err != nil {
		return domain.Account{}, fmt.Errorf("%w: %v", domain.ErrInvalidAmount, err)
	}

	const query = `
UPDATE accounts
SET balance = balance + $2::numeric,
    version = version + 1,
    updated_at = NOW()
WHERE id = $1
  AND version = $3
  AND status = 'ACTIVE'
RETURNING ` + accountColumns

	return r.applyVersioned(ctx, "credit", query, accountID, amount, expectedVersion, domain.ErrVersionConflict)
}

// applyVersioned runs a conditional update. When no row matches, the account is
// re-read to tell the caller which condition failed; fallback covers the case where
// every other condition still holds.
func (r *AccountRepository) applyVersioned(
	ctx context.Context,
	op string,
	query string,
	accountID string,
	amount decimal.Decimal,
	expectedVersion int64,
	fallback error,
) (domain.Account, error) {
	var updated domain.Account
	err := scanAccount(r.db.QueryRowContext(ctx, query, accountID, commons.FormatAmount(amount), expectedVersion), &updated)
	if err == nil {
		logger.Info("account repository "+op+" success", logger.Fields{
			"accountId": accountID,
			"version":   updated.Version,
		})
		return updated, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		logger.Error("account repository "+op+" failed", err, logger.Fields{
			"accountId": accountID,
		})
		return domain.Account{}, fmt.Errorf("%s account: %w", op, err)
	}

	current, getErr := r.Get(ctx, accountID)
	if getErr != nil {
		return domain.Account{}, getErr
	}
	switch {
	case !current.IsActive():
		return domain.Account{}, domain.ErrAccountNotActive
	case current.Version != expectedVersion:
		return domain.Account{}, domain.ErrVersionConflict
	default:
		return domain.Account{}, fallback
	}
}

func scanAccount(row rowScanner, account *domain.Account) error {
	return row.Scan(
		&account.ID,
		&account.OwnerID,
		&account.Balance,
		&account.Version,
		&account.Status,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
}
