package commons

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// AmountScale is the fixed number of fractional digits every account balance carries.
const AmountScale int32 = 4

var (
	ErrAmountNotPositive = errors.New("amount must be greater than zero")
	ErrAmountScale       = fmt.Errorf("amount must have at most %d decimal places", AmountScale)
)

func ValidateAmount(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrAmountNotPositive
	}
	if !amount.Equal(amount.Truncate(AmountScale)) {
		return ErrAmountScale
	}
	return nil
}

func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(AmountScale)
}
