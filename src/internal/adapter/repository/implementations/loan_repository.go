package implementations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/api-sage/credit-loan-processor/src/internal/commons"
	"github.com/api-sage/credit-loan-processor/src/internal/domain"
	"github.com/api-sage/credit-loan-processor/src/internal/logger"
)

const loanColumns = `id, amount, borrower_id, source_account_id, destination_account_id, status, attempts, last_error, created_at, updated_at`

type LoanRepository struct {
	db *sql.DB
}

func NewLoanRepository(db *sql.DB) *LoanRepository {
	return &LoanRepository{db: db}
}

func (r *LoanRepository) Create(ctx context.Context, loan domain.LoanRecord) (domain.LoanRecord, error) {
	logger.Info("loan repository create", logger.Fields{
		"loanId":     loan.ID,
		"borrowerId": loan.BorrowerID,
		"amount":     loan.Amount.String(),
	})

	const query = `
INSERT INTO loans (
	id,
	amount,
	borrower_id,
	source_account_id,
	destination_account_id,
	status,
	attempts,
	last_error
) VALUES ($1, $2::numeric, $3, $4, $5, $6, $7, $8)
RETURNING ` + loanColumns

	var created domain.LoanRecord
	if err := scanLoan(r.db.QueryRowContext(
		ctx,
		query,
		loan.ID,
		commons.FormatAmount(loan.Amount),
		loan.BorrowerID,
		loan.SourceAccountID,
		loan.DestinationAccountID,
		loan.Status,
		loan.Attempts,
		loan.LastError,
	), &created); err != nil {
		if isUniqueViolation(err) {
			return domain.LoanRecord{}, fmt.Errorf("create loan %s: %w", loan.ID, domain.ErrAlreadyExists)
		}
		logger.Error("loan repository create failed", err, logger.Fields{
			"loanId": loan.ID,
		})
		return domain.LoanRecord{}, fmt.Errorf("create loan: %w", err)
	}

	logger.Info("loan repository create success", logger.Fields{
		"loanId": created.ID,
	})
	return created, nil
}

func (r *LoanRepository) Get(ctx context.Context, loanID string) (domain.LoanRecord, error) {
	const query = `
SELECT ` + loanColumns + `
FROM loans
WHERE id = $1`

	var loan domain.LoanRecord
	if err := scanLoan(r.db.QueryRowContext(ctx, query, loanID), &loan); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.LoanRecord{}, domain.ErrLoanNotFound
		}
		logger.Error("loan repository get failed", err, logger.Fields{
			"loanId": loanID,
		})
		return domain.LoanRecord{}, fmt.Errorf("get loan: %w", err)
	}
	return loan, nil
}

func (r *LoanRepository) MarkRegistered(ctx context.Context, loanID string) error {
	return r.UpdateStatus(ctx, loanID, domain.LoanStatusPending, domain.LoanStatusRegistered, "")
}

func (r *LoanRepository) RecordAttempt(ctx context.Context, loanID string, lastError string) (domain.LoanRecord, error) {
	const query = `
UPDATE loans
SET attempts = attempts + 1,
    last_error = $2,
    updated_at = NOW()
WHERE id = $1
  AND status = 'PENDING'
RETURNING ` + loanColumns

	var loan domain.LoanRecord
	if err := scanLoan(r.db.QueryRowContext(ctx, query, loanID, lastError), &loan); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.LoanRecord{}, r.classifyMiss(ctx, loanID, domain.LoanStatusPending)
		}
		logger.Error("loan repository record attempt failed", err, logger.Fields{
			"loanId": loanID,
		})
		return domain.LoanRecord{}, fmt.Errorf("record loan attempt: %w", err)
	}
	return loan, nil
}

func (r *LoanRepository) UpdateStatus(ctx context.Context, loanID string, from, to domain.LoanStatus, lastError string) error {
	logger.Info("loan repository update status", logger.Fields{
		"loanId": loanID,
		"from":   from,
		"to":     to,
	})

	const query = `
UPDATE loans
SET status = $3,
    last_error = COALESCE(NULLIF($4, ''), last_error),
    updated_at = NOW()
WHERE id = $1
  AND status = $2`

	result, err := r.db.ExecContext(ctx, query, loanID, from, to, lastError)
	if err != nil {
		logger.Error("loan repository update status failed", err, logger.Fields{
			"loanId": loanID,
		})
		return fmt.Errorf("update loan status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update loan status rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return r.classifyMiss(ctx, loanID, from)
	}
	return nil
}

// classifyMiss explains why a conditional loan write matched no row.
func (r *LoanRepository) classifyMiss(ctx context.Context, loanID string, expected domain.LoanStatus) error {
	var current domain.LoanStatus
	err := r.db.QueryRowContext(ctx, `SELECT status FROM loans WHERE id = $1`, loanID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrLoanNotFound
	}
	if err != nil {
		return fmt.Errorf("read loan status: %w", err)
	}
	return fmt.Errorf("loan %s is %s, expected %s: %w", loanID, current, expected, domain.ErrLoanStatusConflict)
}

func (r *LoanRepository) ListPending(ctx context.Context, limit int) ([]domain.LoanRecord, error) {
	const query = `
SELECT ` + loanColumns + `
FROM loans
WHERE status = 'PENDING'
ORDER BY created_at ASC
LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		logger.Error("loan repository list pending failed", err, nil)
		return nil, fmt.Errorf("list pending loans: %w", err)
	}
	defer rows.Close()

	loans := make([]domain.LoanRecord, 0)
	for rows.Next() {
		var loan domain.LoanRecord
		if err := scanLoan(rows, &loan); err != nil {
			return nil, fmt.Errorf("scan pending loan: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending loans: %w", err)
	}

	return loans, nil
}

func scanLoan(row rowScanner, loan *domain.LoanRecord) error {
	return row.Scan(
		&loan.ID,
		&loan.Amount,
		&loan.BorrowerID,
		&loan.SourceAccountID,
		&loan.DestinationAccountID,
		&loan.Status,
		&loan.Attempts,
		&loan.LastError,
		&loan.CreatedAt,
		&loan.UpdatedAt,
	)
}
