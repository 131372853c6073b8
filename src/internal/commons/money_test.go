package commons

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		wantErr error
	}{
		{name: "whole", amount: "100", wantErr: nil},
		{name: "four decimals", amount: "0.0001", wantErr: nil},
		{name: "trailing zeros beyond scale", amount: "1.500000", wantErr: nil},
		{name: "zero", amount: "0", wantErr: ErrAmountNotPositive},
		{name: "negative", amount: "-5.00", wantErr: ErrAmountNotPositive},
		{name: "five decimals", amount: "0.00001", wantErr: ErrAmountScale},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAmount(decimal.RequireFromString(tt.amount))
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "100.0000", FormatAmount(decimal.NewFromInt(100)))
	assert.Equal(t, "0.5000", FormatAmount(decimal.RequireFromString("0.5")))
}

func TestExponentialWithJitterStaysBelowCeiling(t *testing.T) {
	for attempt := 0; attempt < 5; attempt++ {
		d := ExponentialWithJitter(10*time.Millisecond, attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, 10*time.Millisecond*time.Duration(1<<attempt))
	}
	assert.Zero(t, ExponentialWithJitter(0, 3))
}

func TestSleepWithContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := SleepWithContext(ctx, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
