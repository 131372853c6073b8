package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/api-sage/credit-loan-processor/src/internal/commons"
	"github.com/api-sage/credit-loan-processor/src/internal/domain"
	"github.com/api-sage/credit-loan-processor/src/internal/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type accountSlot struct {
	mu      sync.Mutex
	account domain.Account
}

// AccountRepository keeps accounts in process memory.
// The map lock only covers lookup and insert; each account has its own lock,
// so mutations on disjoint accounts never contend.
type AccountRepository struct {
	mu       sync.RWMutex
	accounts map[string]*accountSlot
	now      func() time.Time
}

func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		accounts: make(map[string]*accountSlot),
		now:      time.Now,
	}
}

func (r *AccountRepository) Create(_ context.Context, account domain.Account) (domain.Account, error) {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if account.Balance.IsNegative() {
		return domain.Account{}, fmt.Errorf("create account %s: %w", account.ID, domain.ErrInvalidAmount)
	}
	if account.Status == "" {
		account.Status = domain.AccountStatusActive
	}
	now := r.now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.accounts[account.ID]; exists {
		return domain.Account{}, fmt.Errorf("create account %s: %w", account.ID, domain.ErrAlreadyExists)
	}
	r.accounts[account.ID] = &accountSlot{account: account}

	logger.Info("memory account repository create success", logger.Fields{
		"accountId": account.ID,
		"ownerId":   account.OwnerID,
	})
	return account, nil
}

func (r *AccountRepository) Get(_ context.Context, accountID string) (domain.Account, error) {
	slot, ok := r.slot(accountID)
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.account, nil
}

func (r *AccountRepository) Debit(ctx context.Context, accountID string, amount decimal.Decimal, expectedVersion int64) (domain.Account, error) {
	return r.mutate(ctx, accountID, amount.Neg(), expectedVersion)
}

func (r *AccountRepository) Credit(ctx context.Context, accountID string, amount decimal.Decimal, expectedVersion int64) (domain.Account, error) {
	return r.mutate(ctx, accountID, amount, expectedVersion)
}

// SetStatus changes an account's status and bumps its version.
func (r *AccountRepository) SetStatus(_ context.Context, accountID string, status domain.AccountStatus) error {
	slot, ok := r.slot(accountID)
	if !ok {
		return domain.ErrAccountNotFound
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	slot.account.Status = status
	slot.account.Version++
	slot.account.UpdatedAt = r.now().UTC()
	return nil
}

func (r *AccountRepository) mutate(_ context.Context, accountID string, delta decimal.Decimal, expectedVersion int64) (domain.Account, error) {
	if err := commons.ValidateAmount(delta.Abs()); err != nil {
		return domain.Account{}, fmt.Errorf("%w: %v", domain.ErrInvalidAmount, err)
	}

	slot, ok := r.slot(accountID)
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	current := slot.account
	if !current.IsActive() {
		return domain.Account{}, domain.ErrAccountNotActive
	}
	if current.Version != expectedVersion {
		return domain.Account{}, domain.ErrVersionConflict
	}
	next := current.Balance.Add(delta)
	if next.IsNegative() {
		return domain.Account{}, domain.ErrInsufficientFunds
	}

	current.Balance = next
	current.Version++
	current.UpdatedAt = r.now().UTC()
	slot.account = current
	return current, nil
}

func (r *AccountRepository) slot(accountID string) (*accountSlot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slot, ok := r.accounts[accountID]
	return slot, ok
}
