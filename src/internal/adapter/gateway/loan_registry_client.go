package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/api-sage/credit-loan-processor/src/internal/commons"
	"github.com/api-sage/credit-loan-processor/src/internal/domain"
	"github.com/api-sage/credit-loan-processor/src/internal/logger"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

type registerLoanRequest struct {
	ID       string `json:"id"`
	Amount   string `json:"amount"`
	Borrower string `json:"borrower"`
}

type registryLoan struct {
	ID        string          `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Borrower  string          `json:"borrower"`
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
}

// LoanRegistryClient talks to the external loan system of record.
// Registration is idempotent by loan id, so a 409 means the loan is already there.
type LoanRegistryClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	breaker    *gobreaker.CircuitBreaker
}

func NewLoanRegistryClient(baseURL string, timeout time.Duration, httpClient *http.Client, breaker BreakerConfig) *LoanRegistryClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &LoanRegistryClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		timeout:    timeout,
		breaker:    newBreaker("loan-registry", breaker),
	}
}

func (c *LoanRegistryClient) RegisterLoan(ctx context.Context, loanID string, amount decimal.Decimal, borrowerID string) error {
	logger.Info("loan registry register", logger.Fields{
		"loanId":     loanID,
		"borrowerId": borrowerID,
		"amount":     amount.String(),
	})

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.postLoan(ctx, registerLoanRequest{
			ID:       loanID,
			Amount:   commons.FormatAmount(amount),
			Borrower: borrowerID,
		})
	})
	if err != nil {
		logger.Error("loan registry register failed", err, logger.Fields{
			"loanId": loanID,
		})
		return fmt.Errorf("%w: %v", domain.ErrRegistryUnavailable, err)
	}

	logger.Info("loan registry register success", logger.Fields{
		"loanId": loanID,
	})
	return nil
}

func (c *LoanRegistryClient) GetLoan(ctx context.Context, loanID string) (domain.LoanRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchLoan(ctx, loanID)
	})
	if err != nil {
		if errors.Is(err, errRemoteNotFound) {
			return domain.LoanRecord{}, domain.ErrLoanNotFound
		}
		logger.Error("loan registry get failed", err, logger.Fields{
			"loanId": loanID,
		})
		return domain.LoanRecord{}, fmt.Errorf("%w: %v", domain.ErrRegistryUnavailable, err)
	}

	loan := out.(registryLoan)
	return domain.LoanRecord{
		ID:         loan.ID,
		Amount:     loan.Amount,
		BorrowerID: loan.Borrower,
		Status:     domain.LoanStatus(strings.ToUpper(loan.Status)),
		CreatedAt:  loan.Timestamp,
		UpdatedAt:  loan.Timestamp,
	}, nil
}

func (c *LoanRegistryClient) postLoan(ctx context.Context, body registerLoanRequest) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal loan registration: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/loans", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build loan registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("loan registration request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("loan registration returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *LoanRegistryClient) fetchLoan(ctx context.Context, loanID string) (registryLoan, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/loans/"+url.PathEscape(loanID), nil)
	if err != nil {
		return registryLoan{}, fmt.Errorf("build loan lookup request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return registryLoan{}, fmt.Errorf("loan lookup request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return registryLoan{}, errRemoteNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return registryLoan{}, fmt.Errorf("loan lookup returned status %d", resp.StatusCode)
	}

	var loan registryLoan
	if err := json.NewDecoder(resp.Body).Decode(&loan); err != nil {
		return registryLoan{}, fmt.Errorf("decode registry loan: %w", err)
	}
	return loan, nil
}
