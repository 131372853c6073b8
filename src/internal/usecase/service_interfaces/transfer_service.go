package service_interfaces

import (
	"context"

	"github.com/api-sage/credit-loan-processor/src/internal/domain"
)

type TransferService interface {
	Execute(ctx context.Context, req domain.TransferRequest) (domain.TransferResult, error)
	GetLoan(ctx context.Context, loanID string) (domain.LoanRecord, error)
}
