package gateway

import (
	"errors"
	"time"

	"github.com/api-sage/credit-loan-processor/src/internal/logger"
	"github.com/sony/gobreaker"
)

// BreakerConfig controls when a remote dependency is treated as down.
type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}
}

// errRemoteNotFound is a definitive answer from the remote side and must not trip the breaker.
var errRemoteNotFound = errors.New("remote resource not found")

func newBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errRemoteNotFound)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			fields := logger.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}
			if to == gobreaker.StateOpen {
				logger.Warn("circuit breaker opened, requests will fail fast", fields)
				return
			}
			logger.Info("circuit breaker state changed", fields)
		},
	})
}
