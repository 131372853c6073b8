package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountStatus string

const (
	AccountStatusActive AccountStatus = "ACTIVE"
	AccountStatusFrozen AccountStatus = "FROZEN"
	AccountStatusClosed AccountStatus = "CLOSED"
)

// Account balances are never negative. Version grows by exactly one per successful mutation.
type Account struct {
	ID        string
	OwnerID   string
	Balance   decimal.Decimal
	Version   int64
	Status    AccountStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a Account) IsActive() bool {
	return a.Status == AccountStatusActive
}
