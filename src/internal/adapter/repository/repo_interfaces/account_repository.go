package repo_interfaces

import (
	"context"

	"github.com/api-sage/credit-loan-processor/src/internal/domain"
	"github.com/shopspring/decimal"
)

// AccountRepository mutates balances with an optimistic version check.
// Debit and Credit succeed only when the stored version equals expectedVersion.
type AccountRepository interface {
	Create(ctx context.Context, account domain.Account) (domain.Account, error)
	Get(ctx context.Context, accountID string) (domain.Account, error)
	Debit(ctx context.Context, accountID string, amount decimal.Decimal, expectedVersion int64) (domain.Account, error)
	Credit(ctx context.Context, accountID string, amount decimal.Decimal, expectedVersion int64) (domain.Account, error)
}
