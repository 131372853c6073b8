package domain

import "errors"

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrAccountNotFound      = errors.New("account not found")
	ErrLoanNotFound         = errors.New("loan not found")
	ErrUnauthorized         = errors.New("caller is not authorized for this account")
	ErrLimitExceeded        = errors.New("amount exceeds credit limit")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrAccountNotActive     = errors.New("account is not active")
	ErrVersionConflict      = errors.New("account version conflict")
	ErrConflict             = errors.New("concurrent update conflict, retries exhausted")
	ErrDuplicateInProgress  = errors.New("request with this idempotency key is already in progress")
	ErrIdempotencyKeyReused = errors.New("idempotency key was used with a different request")
	ErrPolicyUnavailable    = errors.New("credit policy unavailable")
	ErrRegistryUnavailable  = errors.New("loan registry unavailable")
	ErrCreditFailed         = errors.New("credit failed after debit, transfer reversed")
	ErrCompensationRequired = errors.New("transfer left incomplete, manual compensation required")
	ErrLoanStatusConflict   = errors.New("loan is not in the expected status")
	ErrRecordNotFound       = errors.New("record not found")
	ErrAlreadyExists        = errors.New("record already exists")
)
