package repo_interfaces

import (
	"context"

	"github.com/api-sage/credit-loan-processor/src/internal/domain"
)

// LoanRepository writes are conditional on the loan's current status. A write against
// a loan in any other status returns domain.ErrLoanStatusConflict.
type LoanRepository interface {
	Create(ctx context.Context, loan domain.LoanRecord) (domain.LoanRecord, error)
	Get(ctx context.Context, loanID string) (domain.LoanRecord, error)
	// MarkRegistered moves a PENDING loan to REGISTERED.
	MarkRegistered(ctx context.Context, loanID string) error
	// RecordAttempt counts a failed registration of a PENDING loan.
	RecordAttempt(ctx context.Context, loanID string, lastError string) (domain.LoanRecord, error)
	UpdateStatus(ctx context.Context, loanID string, from, to domain.LoanStatus, lastError string) error
	ListPending(ctx context.Context, limit int) ([]domain.LoanRecord, error)
}
