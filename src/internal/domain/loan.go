package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanStatusPending              LoanStatus = "PENDING"
	LoanStatusRegistered           LoanStatus = "REGISTERED"
	LoanStatusReversing            LoanStatus = "REVERSING"
	LoanStatusFailed               LoanStatus = "FAILED"
	LoanStatusCompensationRequired LoanStatus = "COMPENSATION_REQUIRED"
)

// LoanRecord is the loan created after a committed debit/credit pair.
// PENDING records are owned by the reconciliation job until they reach a terminal status.
// REVERSING marks a loan claimed for reversal; it never returns to PENDING.
type LoanRecord struct {
	ID                   string
	Amount               decimal.Decimal
	BorrowerID           string
	SourceAccountID      string
	DestinationAccountID string
	Status               LoanStatus
	Attempts             int
	LastError            string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

