package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/api-sage/credit-loan-processor/src/internal/adapter/repository/memory"
	"github.com/api-sage/credit-loan-processor/src/internal/domain"
	"github.com/api-sage/credit-loan-processor/src/internal/usecase/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reconcileFixture struct {
	*transferFixture
	reconciler *services.ReconciliationService
}

func newReconcileFixture(t *testing.T, maxAttempts int) *reconcileFixture {
	t.Helper()
	f := newTransferFixture(t)
	return &reconcileFixture{
		transferFixture: f,
		reconciler: services.NewReconciliationService(f.faulty, f.loans, f.registry, services.ReconcileOptions{
			Interval:           10 * time.Millisecond,
			Batch:              10,
			MaxAttempts:        maxAttempts,
			Workers:            2,
			MaxConflictRetries: 3,
		}),
	}
}

func (f *reconcileFixture) pendingTransfer(t *testing.T, amount string) string {
	t.Helper()
	f.registry.fail(domain.ErrRegistryUnavailable)
	result, err := f.svc.Execute(context.Background(), selfService(amount, ""))
	require.NoError(t, err)
	require.Equal(t, domain.TransferStatusRegistrationPending, result.Status)
	return result.LoanID
}

func TestReconcilePendingRegistersWhenRegistryRecovers(t *testing.T) {
	f := newReconcileFixture(t, 5)
	first := f.pendingTransfer(t, "10")
	second := f.pendingTransfer(t, "20")

	f.registry.fail(nil)
	report, err := f.reconciler.ReconcilePending(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 2, report.Registered)
	for _, id := range []string{first, second} {
		loan, err := f.loans.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, domain.LoanStatusRegistered, loan.Status)
	}

	report, err = f.reconciler.ReconcilePending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
}

func TestReconcilePendingRetriesThenReverses(t *testing.T) {
	f := newReconcileFixture(t, 3)
	loanID := f.pendingTransfer(t, "100")
	require.True(t, balanceOf(t, f.accounts, "DST").Equal(dec("100")))

	report, err := f.reconciler.ReconcilePending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retried)

	report, err = f.reconciler.ReconcilePending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reversed)

	loan, err := f.loans.Get(context.Background(), loanID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusFailed, loan.Status)
	assert.Equal(t, 3, loan.Attempts)
	assert.True(t, balanceOf(t, f.accounts, "DST").IsZero())
	assert.True(t, balanceOf(t, f.accounts, "SRC").Equal(dec("500")))
}

func TestReconcilePendingFlagsCompensationWhenFundsAreGone(t *testing.T) {
	f := newReconcileFixture(t, 2)
	loanID := f.pendingTransfer(t, "100")

	dst, err := f.accounts.Get(context.Background(), "DST")
	require.NoError(t, err)
	_, err = f.accounts.Debit(context.Background(), "DST", dec("60"), dst.Version)
	require.NoError(t, err)

	report, err := f.reconciler.ReconcilePending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.CompensationRequired)

	loan, err := f.loans.Get(context.Background(), loanID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusCompensationRequired, loan.Status)
	assert.True(t, balanceOf(t, f.accounts, "SRC").Equal(dec("400")))
}

func TestReconcileRunStopsOnCancel(t *testing.T) {
	f := newReconcileFixture(t, 5)
	f.pendingTransfer(t, "10")
	f.registry.fail(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.reconciler.Run(ctx) }()

	require.Eventually(t, func() bool {
		pending, err := f.loans.ListPending(context.Background(), 10)
		return err == nil && len(pending) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}

func TestReconcilePendingEmptyLedger(t *testing.T) {
	reconciler := services.NewReconciliationService(memory.NewAccountRepository(), memory.NewLoanRepository(), newStubRegistry(), services.ReconcileOptions{})

	report, err := reconciler.ReconcilePending(context.Background())

	require.NoError(t, err)
	assert.Equal(t, services.ReconcileReport{}, report)
}

func TestReconcileReversesOnceWhenOutcomeWriteFailsOnce(t *testing.T) {
	f := newReconcileFixture(t, 2)
	loanID := f.pendingTransfer(t, "100")
	f.loans.failTransitions(domain.LoanStatusFailed, 1)

	report, err := f.reconciler.ReconcilePending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reversed)

	for i := 0; i < 2; i++ {
		report, err = f.reconciler.ReconcilePending(context.Background())
		require.NoError(t, err)
		assert.Zero(t, report.Scanned)
	}

	loan, err := f.loans.Get(context.Background(), loanID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusFailed, loan.Status)
	assert.True(t, balanceOf(t, f.accounts, "SRC").Equal(dec("500")))
	assert.True(t, balanceOf(t, f.accounts, "DST").IsZero())
}

func TestReconcileNeverReversesTwiceWhenOutcomeCannotBeRecorded(t *testing.T) {
	f := newReconcileFixture(t, 2)
	loanID := f.pendingTransfer(t, "100")
	_, err := f.accounts.Credit(context.Background(), "DST", dec("200"), mustVersion(t, f, "DST"))
	require.NoError(t, err)
	f.loans.failTransitions(domain.LoanStatusFailed, 1000)

	for i := 0; i < 3; i++ {
		_, err := f.reconciler.ReconcilePending(context.Background())
		require.NoError(t, err)
	}

	loan, err := f.loans.Get(context.Background(), loanID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusReversing, loan.Status)
	assert.True(t, balanceOf(t, f.accounts, "SRC").Equal(dec("500")))
	assert.True(t, balanceOf(t, f.accounts, "DST").Equal(dec("200")))
}

func TestReconcileClaimFailureMovesNoMoney(t *testing.T) {
	f := newReconcileFixture(t, 2)
	loanID := f.pendingTransfer(t, "100")
	f.loans.failTransitions(domain.LoanStatusReversing, 1)

	report, err := f.reconciler.ReconcilePending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retried)
	assert.True(t, balanceOf(t, f.accounts, "DST").Equal(dec("100")))

	report, err = f.reconciler.ReconcilePending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reversed)

	loan, err := f.loans.Get(context.Background(), loanID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusFailed, loan.Status)
	assert.True(t, balanceOf(t, f.accounts, "SRC").Equal(dec("500")))
	assert.True(t, balanceOf(t, f.accounts, "DST").IsZero())
}

func TestReconcileConcurrentReconcilersReverseOnce(t *testing.T) {
	f := newReconcileFixture(t, 2)
	f.pendingTransfer(t, "100")
	other := services.NewReconciliationService(f.faulty, f.loans, f.registry, services.ReconcileOptions{
		Batch:              10,
		MaxAttempts:        2,
		Workers:            2,
		MaxConflictRetries: 3,
	})

	var wg sync.WaitGroup
	reports := make([]services.ReconcileReport, 2)
	for i, r := range []*services.ReconciliationService{f.reconciler, other} {
		i, r := i, r
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := r.ReconcilePending(context.Background())
			assert.NoError(t, err)
			reports[i] = report
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, reports[0].Reversed+reports[1].Reversed)
	assert.True(t, balanceOf(t, f.accounts, "SRC").Equal(dec("500")))
	assert.True(t, balanceOf(t, f.accounts, "DST").IsZero())
}

func mustVersion(t *testing.T, f *reconcileFixture, accountID string) int64 {
	t.Helper()
	account, err := f.accounts.Get(context.Background(), accountID)
	require.NoError(t, err)
	return account.Version
}
