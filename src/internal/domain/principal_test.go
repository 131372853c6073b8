package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrincipalHasRole(t *testing.T) {
	p := Principal{UserID: "root", Roles: []string{"ADMIN"}}

	assert.True(t, p.HasRole(RoleAdmin))
	assert.True(t, p.HasRole("admin"))
	assert.False(t, Principal{UserID: "alice"}.HasRole(RoleAdmin))
}

func TestTransferResultMoneyMoved(t *testing.T) {
	assert.True(t, TransferResult{Status: TransferStatusSuccess}.MoneyMoved())
	assert.True(t, TransferResult{Status: TransferStatusRegistrationPending}.MoneyMoved())
	assert.False(t, TransferResult{Status: TransferStatusReversed}.MoneyMoved())
	assert.False(t, TransferResult{Status: TransferStatusCompensationRequired}.MoneyMoved())
}
