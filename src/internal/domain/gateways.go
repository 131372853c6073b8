package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// CreditPolicyGateway is a read-only view of externally governed credit limits.
type CreditPolicyGateway interface {
	GetCreditLimit(ctx context.Context, accountID string) (decimal.Decimal, error)
}

// LoanRegistry is the external system of record for loans.
type LoanRegistry interface {
	RegisterLoan(ctx context.Context, loanID string, amount decimal.Decimal, borrowerID string) error
	GetLoan(ctx context.Context, loanID string) (LoanRecord, error)
}
