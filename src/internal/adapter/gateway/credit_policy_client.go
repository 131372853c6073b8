package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/api-sage/credit-loan-processor/src/internal/domain"
	"github.com/api-sage/credit-loan-processor/src/internal/logger"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

type creditLimitResponse struct {
	AccountID   string           `json:"accountId"`
	CreditLimit *decimal.Decimal `json:"creditLimit"`
}

// CreditPolicyClient reads credit limits from the policy service. It never invents a
// limit: every failure surfaces as domain.ErrPolicyUnavailable.
type CreditPolicyClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	breaker    *gobreaker.CircuitBreaker
}

func NewCreditPolicyClient(baseURL string, timeout time.Duration, httpClient *http.Client, breaker BreakerConfig) *CreditPolicyClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &CreditPolicyClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		timeout:    timeout,
		breaker:    newBreaker("credit-policy", breaker),
	}
}

func (c *CreditPolicyClient) GetCreditLimit(ctx context.Context, accountID string) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchLimit(ctx, accountID)
	})
	if err != nil {
		logger.Error("credit policy lookup failed", err, logger.Fields{
			"accountId": accountID,
		})
		if errors.Is(err, domain.ErrPolicyUnavailable) {
			return decimal.Decimal{}, err
		}
		return decimal.Decimal{}, fmt.Errorf("%w: %v", domain.ErrPolicyUnavailable, err)
	}

	return out.(decimal.Decimal), nil
}

func (c *CreditPolicyClient) fetchLimit(ctx context.Context, accountID string) (decimal.Decimal, error) {
	endpoint := c.baseURL + "/credit-limits/" + url.PathEscape(accountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("build credit limit request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("credit limit request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return decimal.Decimal{}, fmt.Errorf("%w: no policy for account %s: %w", domain.ErrPolicyUnavailable, accountID, errRemoteNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return decimal.Decimal{}, fmt.Errorf("credit limit request returned status %d", resp.StatusCode)
	}

	var payload creditLimitResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode credit limit: %w", err)
	}
	if payload.CreditLimit == nil {
		return decimal.Decimal{}, errors.New("credit limit missing from response")
	}
	if payload.CreditLimit.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("credit limit %s is negative", payload.CreditLimit.String())
	}

	return *payload.CreditLimit, nil
}
