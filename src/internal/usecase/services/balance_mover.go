package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/api-sage/credit-loan-processor/src/internal/adapter/repository/repo_interfaces"
	"github.com/api-sage/credit-loan-processor/src/internal/commons"
	"github.com/api-sage/credit-loan-processor/src/internal/domain"
	"github.com/api-sage/credit-loan-processor/src/internal/logger"
	"github.com/shopspring/decimal"
)

// balanceMover applies single-account mutations, re-reading the version and retrying
// on version conflicts up to maxRetries times.
type balanceMover struct {
	accounts   repo_interfaces.AccountRepository
	maxRetries int
	backoff    time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

func newBalanceMover(accounts repo_interfaces.AccountRepository, maxRetries int, backoff time.Duration) *balanceMover {
	return &balanceMover{
		accounts:   accounts,
		maxRetries: maxRetries,
		backoff:    backoff,
		sleep:      commons.SleepWithContext,
	}
}

// debit checks status and funds against a fresh read before each attempt so the
// caller gets a precise error without relying on the write to classify it.
func (m *balanceMover) debit(ctx context.Context, accountID string, amount decimal.Decimal) (domain.Account, error) {
	return m.apply(ctx, "debit", accountID, func(account domain.Account) (domain.Account, error) {
		if !account.IsActive() {
			return domain.Account{}, domain.ErrAccountNotActive
		}
		if account.Balance.LessThan(amount) {
			return domain.Account{}, domain.ErrInsufficientFunds
		}
		return m.accounts.Debit(ctx, accountID, amount, account.Version)
	})
}

func (m *balanceMover) credit(ctx context.Context, accountID string, amount decimal.Decimal) (domain.Account, error) {
	return m.apply(ctx, "credit", accountID, func(account domain.Account) (domain.Account, error) {
		if !account.IsActive() {
			return domain.Account{}, domain.ErrAccountNotActive
		}
		return m.accounts.Credit(ctx, accountID, amount, account.Version)
	})
}

func (m *balanceMover) apply(
	ctx context.Context,
	op string,
	accountID string,
	mutate func(account domain.Account) (domain.Account, error),
) (domain.Account, error) {
	for attempt := 0; ; attempt++ {
		account, err := m.accounts.Get(ctx, accountID)
		if err != nil {
			return domain.Account{}, err
		}

		updated, err := mutate(account)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return domain.Account{}, err
		}
		if attempt >= m.maxRetries {
			logger.Warn("balance mover retries exhausted", logger.Fields{
				"operation": op,
				"accountId": accountID,
				"attempts":  attempt + 1,
			})
			return domain.Account{}, fmt.Errorf("%s account %s: %w", op, accountID, domain.ErrConflict)
		}

		if err := m.sleep(ctx, commons.ExponentialWithJitter(m.backoff, attempt)); err != nil {
			return domain.Account{}, err
		}
	}
}
