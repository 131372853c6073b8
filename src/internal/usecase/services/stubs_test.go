package services_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/api-sage/credit-loan-processor/src/internal/adapter/repository/memory"
	"github.com/api-sage/credit-loan-processor/src/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

type stubPolicy struct {
	mu     sync.Mutex
	limits map[string]decimal.Decimal
	err    error
	calls  atomic.Int32

	// When hold is set, lookups signal entered and block until hold is closed.
	hold    chan struct{}
	entered chan struct{}
}

func newStubPolicy() *stubPolicy {
	return &stubPolicy{limits: make(map[string]decimal.Decimal)}
}

func (p *stubPolicy) set(accountID, limit string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limits[accountID] = dec(limit)
}

func (p *stubPolicy) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *stubPolicy) GetCreditLimit(_ context.Context, accountID string) (decimal.Decimal, error) {
	p.calls.Add(1)
	if p.hold != nil {
		p.entered <- struct{}{}
		<-p.hold
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return decimal.Decimal{}, p.err
	}
	limit, ok := p.limits[accountID]
	if !ok {
		return decimal.Decimal{}, domain.ErrPolicyUnavailable
	}
	return limit, nil
}

type registration struct {
	amount   decimal.Decimal
	borrower string
	ctxErr   error
}

type stubRegistry struct {
	mu            sync.Mutex
	registered    map[string]registration
	registerErr   error
	getErr        error
	registerCalls atomic.Int32
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{registered: make(map[string]registration)}
}

func (r *stubRegistry) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registerErr = err
}

func (r *stubRegistry) RegisterLoan(ctx context.Context, loanID string, amount decimal.Decimal, borrowerID string) error {
	r.registerCalls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registerErr != nil {
		return r.registerErr
	}
	r.registered[loanID] = registration{amount: amount, borrower: borrowerID, ctxErr: ctx.Err()}
	return nil
}

func (r *stubRegistry) GetLoan(_ context.Context, loanID string) (domain.LoanRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return domain.LoanRecord{}, r.getErr
	}
	reg, ok := r.registered[loanID]
	if !ok {
		return domain.LoanRecord{}, domain.ErrLoanNotFound
	}
	return domain.LoanRecord{ID: loanID, Amount: reg.amount, BorrowerID: reg.borrower, Status: domain.LoanStatusRegistered}, nil
}

func (r *stubRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.registered)
}

// faultyAccounts wraps the memory store to inject write failures.
type faultyAccounts struct {
	*memory.AccountRepository
	debitConflicts atomic.Int32
	afterDebit     func()

	mu             sync.Mutex
	creditFailures map[string]error
}

func newFaultyAccounts(inner *memory.AccountRepository) *faultyAccounts {
	return &faultyAccounts{AccountRepository: inner, creditFailures: make(map[string]error)}
}

func (a *faultyAccounts) failCredits(accountID string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.creditFailures[accountID] = err
}

func (a *faultyAccounts) Debit(ctx context.Context, accountID string, amount decimal.Decimal, expectedVersion int64) (domain.Account, error) {
	if a.debitConflicts.Load() > 0 {
		a.debitConflicts.Add(-1)
		return domain.Account{}, domain.ErrVersionConflict
	}
	account, err := a.AccountRepository.Debit(ctx, accountID, amount, expectedVersion)
	if err == nil && a.afterDebit != nil {
		a.afterDebit()
	}
	return account, err
}

func (a *faultyAccounts) Credit(ctx context.Context, accountID string, amount decimal.Decimal, expectedVersion int64) (domain.Account, error) {
	a.mu.Lock()
	err := a.creditFailures[accountID]
	a.mu.Unlock()
	if err != nil {
		return domain.Account{}, err
	}
	return a.AccountRepository.Credit(ctx, accountID, amount, expectedVersion)
}

// take consumes one injected failure from counter.
func take(counter *atomic.Int32) bool {
	for {
		n := counter.Load()
		if n <= 0 {
			return false
		}
		if counter.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

// faultyLoans wraps the memory loan ledger to inject write failures.
type faultyLoans struct {
	*memory.LoanRepository
	createFailures atomic.Int32

	mu                 sync.Mutex
	transitionFailures map[domain.LoanStatus]*atomic.Int32
}

func newFaultyLoans(inner *memory.LoanRepository) *faultyLoans {
	return &faultyLoans{LoanRepository: inner, transitionFailures: make(map[domain.LoanStatus]*atomic.Int32)}
}

// failTransitions makes the next n status writes into status fail.
func (l *faultyLoans) failTransitions(status domain.LoanStatus, n int32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	counter := &atomic.Int32{}
	counter.Store(n)
	l.transitionFailures[status] = counter
}

func (l *faultyLoans) Create(ctx context.Context, loan domain.LoanRecord) (domain.LoanRecord, error) {
	if take(&l.createFailures) {
		return domain.LoanRecord{}, errStoreDown
	}
	return l.LoanRepository.Create(ctx, loan)
}

func (l *faultyLoans) UpdateStatus(ctx context.Context, loanID string, from, to domain.LoanStatus, lastError string) error {
	l.mu.Lock()
	counter := l.transitionFailures[to]
	l.mu.Unlock()
	if counter != nil && take(counter) {
		return errStoreDown
	}
	return l.LoanRepository.UpdateStatus(ctx, loanID, from, to, lastError)
}

// faultyLedger wraps the memory idempotency ledger to inject completion failures.
type faultyLedger struct {
	*memory.IdempotencyRepository
	completeFailures atomic.Int32
	completeCalls    atomic.Int32
}

func (l *faultyLedger) Complete(ctx context.Context, key, owner string, result domain.TransferResult, retention time.Duration) error {
	l.completeCalls.Add(1)
	if take(&l.completeFailures) {
		return errStoreDown
	}
	return l.IdempotencyRepository.Complete(ctx, key, owner, result, retention)
}

var errStoreDown = errors.New("store unavailable")

func seed(t *testing.T, repo *memory.AccountRepository, id, owner, balance string) {
	t.Helper()
	_, err := repo.Create(context.Background(), domain.Account{ID: id, OwnerID: owner, Balance: dec(balance)})
	require.NoError(t, err)
}

func balanceOf(t *testing.T, repo *memory.AccountRepository, id string) decimal.Decimal {
	t.Helper()
	account, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	return account.Balance
}
