package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransferStatus string

const (
	TransferStatusSuccess              TransferStatus = "SUCCESS"
	TransferStatusRegistrationPending  TransferStatus = "REGISTRATION_PENDING"
	TransferStatusReversed             TransferStatus = "REVERSED"
	TransferStatusCompensationRequired TransferStatus = "COMPENSATION_REQUIRED"
)

// TransferRequest moves Amount from SourceAccountID into DestinationAccountID and books it as a loan.
// Privileged must only ever be derived from the caller's server-side roles.
type TransferRequest struct {
	DestinationAccountID string
	SourceAccountID      string
	Amount               decimal.Decimal
	ActorID              string
	IdempotencyKey       string
	Privileged           bool
}

type TransferResult struct {
	LoanID               string          `json:"loanId,omitempty"`
	DestinationAccountID string          `json:"accountId"`
	SourceAccountID      string          `json:"sourceAccountId"`
	Amount               decimal.Decimal `json:"loanAmount"`
	NewBalance           decimal.Decimal `json:"newBalance"`
	Status               TransferStatus  `json:"status"`
	Message              string          `json:"message"`
	ProcessedBy          string          `json:"processedBy,omitempty"`
	Timestamp            time.Time       `json:"timestamp"`
}

// MoneyMoved reports whether funds ended up in the destination account.
func (r TransferResult) MoneyMoved() bool {
	return r.Status == TransferStatusSuccess || r.Status == TransferStatusRegistrationPending
}
