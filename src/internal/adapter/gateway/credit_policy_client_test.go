package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/api-sage/credit-loan-processor/src/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreditPolicyClientReturnsLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/credit-limits/acc-1", r.URL.Path)
		_, _ = w.Write([]byte(`{"accountId":"acc-1","creditLimit":"500.00"}`))
	}))
	defer server.Close()

	client := NewCreditPolicyClient(server.URL, time.Second, server.Client(), DefaultBreakerConfig())

	limit, err := client.GetCreditLimit(context.Background(), "acc-1")

	require.NoError(t, err)
	assert.True(t, limit.Equal(decimal.RequireFromString("500")))
}

func TestCreditPolicyClientNumericLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"accountId":"acc-1","creditLimit":0}`))
	}))
	defer server.Close()

	client := NewCreditPolicyClient(server.URL, time.Second, server.Client(), DefaultBreakerConfig())

	limit, err := client.GetCreditLimit(context.Background(), "acc-1")

	require.NoError(t, err)
	assert.True(t, limit.IsZero())
}

func TestCreditPolicyClientFailuresAreUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{name: "server error", handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusInternalServerError) }},
		{name: "not found", handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) }},
		{name: "negative", handler: func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"accountId":"acc-1","creditLimit":"-1"}`))
		}},
		{name: "missing limit", handler: func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"accountId":"acc-1"}`)) }},
		{name: "garbage", handler: func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`not json`)) }},
		{name: "slow", handler: func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			client := NewCreditPolicyClient(server.URL, 50*time.Millisecond, server.Client(), DefaultBreakerConfig())

			_, err := client.GetCreditLimit(context.Background(), "acc-1")
			assert.ErrorIs(t, err, domain.ErrPolicyUnavailable)
		})
	}
}

func TestCreditPolicyClientBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Minute, HalfOpenRequests: 1}
	client := NewCreditPolicyClient(server.URL, time.Second, server.Client(), cfg)

	for i := 0; i < 4; i++ {
		_, err := client.GetCreditLimit(context.Background(), "acc-1")
		assert.ErrorIs(t, err, domain.ErrPolicyUnavailable)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestCreditPolicyClientNotFoundDoesNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cfg := BreakerConfig{ConsecutiveFailures: 1, OpenTimeout: time.Minute, HalfOpenRequests: 1}
	client := NewCreditPolicyClient(server.URL, time.Second, server.Client(), cfg)

	for i := 0; i < 3; i++ {
		_, _ = client.GetCreditLimit(context.Background(), "acc-1")
	}
	assert.Equal(t, int32(3), calls.Load())
}
