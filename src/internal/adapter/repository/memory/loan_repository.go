package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/api-sage/credit-loan-processor/src/internal/domain"
)

type LoanRepository struct {
	mu    sync.Mutex
	loans map[string]domain.LoanRecord
	now   func() time.Time
}

func NewLoanRepository() *LoanRepository {
	return &LoanRepository{
		loans: make(map[string]domain.LoanRecord),
		now:   time.Now,
	}
}

func (r *LoanRepository) Create(_ context.Context, loan domain.LoanRecord) (domain.LoanRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.loans[loan.ID]; exists {
		return domain.LoanRecord{}, fmt.Errorf("create loan %s: %w", loan.ID, domain.ErrAlreadyExists)
	}
	now := r.now().UTC()
	loan.CreatedAt = now
	loan.UpdatedAt = now
	r.loans[loan.ID] = loan
	return loan, nil
}

func (r *LoanRepository) Get(_ context.Context, loanID string) (domain.LoanRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	loan, ok := r.loans[loanID]
	if !ok {
		return domain.LoanRecord{}, domain.ErrLoanNotFound
	}
	return loan, nil
}

func (r *LoanRepository) MarkRegistered(ctx context.Context, loanID string) error {
	return r.UpdateStatus(ctx, loanID, domain.LoanStatusPending, domain.LoanStatusRegistered, "")
}

func (r *LoanRepository) RecordAttempt(_ context.Context, loanID string, lastError string) (domain.LoanRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	loan, err := r.expect(loanID, domain.LoanStatusPending)
	if err != nil {
		return domain.LoanRecord{}, err
	}
	loan.Attempts++
	loan.LastError = lastError
	loan.UpdatedAt = r.now().UTC()
	r.loans[loanID] = loan
	return loan, nil
}

func (r *LoanRepository) UpdateStatus(_ context.Context, loanID string, from, to domain.LoanStatus, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	loan, err := r.expect(loanID, from)
	if err != nil {
		return err
	}
	loan.Status = to
	if lastError != "" {
		loan.LastError = lastError
	}
	loan.UpdatedAt = r.now().UTC()
	r.loans[loanID] = loan
	return nil
}

// expect must be called with mu held.
func (r *LoanRepository) expect(loanID string, status domain.LoanStatus) (domain.LoanRecord, error) {
	loan, ok := r.loans[loanID]
	if !ok {
		return domain.LoanRecord{}, domain.ErrLoanNotFound
	}
	if loan.Status != status {
		return domain.LoanRecord{}, fmt.Errorf("loan %s is %s, expected %s: %w", loanID, loan.Status, status, domain.ErrLoanStatusConflict)
	}
	return loan, nil
}

func (r *LoanRepository) ListPending(_ context.Context, limit int) ([]domain.LoanRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := make([]domain.LoanRecord, 0)
	for _, loan := range r.loans {
		if loan.Status == domain.LoanStatusPending {
			pending = append(pending, loan)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}
