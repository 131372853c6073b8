package models

import (
	"errors"
	"strings"
	"time"

	"github.com/api-sage/credit-loan-processor/src/internal/commons"
	"github.com/api-sage/credit-loan-processor/src/internal/domain"
	"github.com/shopspring/decimal"
)

type LoanRequest struct {
	SourceAccountID string           `json:"sourceAccountId"`
	Amount          *decimal.Decimal `json:"amount"`
}

func (r LoanRequest) Validate() error {
	var errs []string

	if strings.TrimSpace(r.SourceAccountID) == "" {
		errs = append(errs, "sourceAccountId is required")
	}
	if r.Amount == nil {
		errs = append(errs, "amount is required")
	} else if err := commons.ValidateAmount(*r.Amount); err != nil {
		errs = append(errs, "amount: "+err.Error())
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

type LoanResponse struct {
	LoanID          string `json:"loanId,omitempty"`
	AccountID       string `json:"accountId"`
	SourceAccountID string `json:"sourceAccountId"`
	LoanAmount      string `json:"loanAmount"`
	NewBalance      string `json:"newBalance,omitempty"`
	Status          string `json:"status"`
	Message         string `json:"message"`
	ProcessedBy     string `json:"processedBy,omitempty"`
	Timestamp       string `json:"timestamp"`
}

func NewLoanResponse(result domain.TransferResult) LoanResponse {
	response := LoanResponse{
		LoanID:          result.LoanID,
		AccountID:       result.DestinationAccountID,
		SourceAccountID: result.SourceAccountID,
		LoanAmount:      commons.FormatAmount(result.Amount),
		Status:          string(result.Status),
		Message:         result.Message,
		ProcessedBy:     result.ProcessedBy,
		Timestamp:       result.Timestamp.UTC().Format(time.RFC3339),
	}
	if result.MoneyMoved() {
		response.NewBalance = commons.FormatAmount(result.NewBalance)
	}
	return response
}

type LoanRecordResponse struct {
	LoanID               string `json:"loanId"`
	Amount               string `json:"amount"`
	BorrowerID           string `json:"borrowerId"`
	SourceAccountID      string `json:"sourceAccountId,omitempty"`
	DestinationAccountID string `json:"destinationAccountId,omitempty"`
	Status               string `json:"status"`
	Attempts             int    `json:"attempts"`
	LastError            string `json:"lastError,omitempty"`
	CreatedAt            string `json:"createdAt,omitempty"`
}

func NewLoanRecordResponse(loan domain.LoanRecord) LoanRecordResponse {
	response := LoanRecordResponse{
		LoanID:               loan.ID,
		Amount:               commons.FormatAmount(loan.Amount),
		BorrowerID:           loan.BorrowerID,
		SourceAccountID:      loan.SourceAccountID,
		DestinationAccountID: loan.DestinationAccountID,
		Status:               string(loan.Status),
		Attempts:             loan.Attempts,
		LastError:            loan.LastError,
	}
	if !loan.CreatedAt.IsZero() {
		response.CreatedAt = loan.CreatedAt.UTC().Format(time.RFC3339)
	}
	return response
}
