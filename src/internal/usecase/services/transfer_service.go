package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/api-sage/credit-loan-processor/src/internal/adapter/repository/repo_interfaces"
	"github.com/api-sage/credit-loan-processor/src/internal/commons"
	"github.com/api-sage/credit-loan-processor/src/internal/domain"
	"github.com/api-sage/credit-loan-processor/src/internal/logger"
	"github.com/google/uuid"
)

type TransferOptions struct {
	MaxConflictRetries   int
	ConflictBackoff      time.Duration
	IdempotencyLease     time.Duration
	IdempotencyRetention time.Duration
	DuplicateWait        time.Duration
	DuplicatePoll        time.Duration
}

const (
	loanWriteAttempts = 3
	completeAttempts  = 4
)

func DefaultTransferOptions() TransferOptions {
	return TransferOptions{
		MaxConflictRetries:   5,
		ConflictBackoff:      10 * time.Millisecond,
		IdempotencyLease:     2 * time.Minute,
		IdempotencyRetention: 24 * time.Hour,
		DuplicateWait:        2 * time.Second,
		DuplicatePoll:        50 * time.Millisecond,
	}
}

// TransferService moves funds from a source account into a destination account and
// books the movement as a loan with the external registry.
//
// Once the source debit commits the operation runs to completion even if the caller
// goes away, so funds are never left half-moved by a cancelled request.
type TransferService struct {
	accounts    repo_interfaces.AccountRepository
	policy      domain.CreditPolicyGateway
	registry    domain.LoanRegistry
	loans       repo_interfaces.LoanRepository
	idempotency repo_interfaces.IdempotencyRepository
	mover       *balanceMover
	opts        TransferOptions
	now         func() time.Time
	newID       func() string
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewTransferService(
	accounts repo_interfaces.AccountRepository,
	policy domain.CreditPolicyGateway,
	registry domain.LoanRegistry,
	loans repo_interfaces.LoanRepository,
	idempotency repo_interfaces.IdempotencyRepository,
	opts TransferOptions,
) *TransferService {
	defaults := DefaultTransferOptions()
	if opts.MaxConflictRetries < 0 {
		opts.MaxConflictRetries = 0
	}
	if opts.IdempotencyLease <= 0 {
		opts.IdempotencyLease = defaults.IdempotencyLease
	}
	if opts.IdempotencyRetention <= 0 {
		opts.IdempotencyRetention = defaults.IdempotencyRetention
	}
	if opts.DuplicatePoll <= 0 {
		opts.DuplicatePoll = defaults.DuplicatePoll
	}

	return &TransferService{
		accounts:    accounts,
		policy:      policy,
		registry:    registry,
		loans:       loans,
		idempotency: idempotency,
		mover:       newBalanceMover(accounts, opts.MaxConflictRetries, opts.ConflictBackoff),
		opts:        opts,
		now:         time.Now,
		newID:       uuid.NewString,
		sleep:       commons.SleepWithContext,
	}
}

func (s *TransferService) Execute(ctx context.Context, req domain.TransferRequest) (domain.TransferResult, error) {
	req = normalizeRequest(req)
	logger.Info("transfer service execute request", logger.Fields{
		"destinationAccountId": req.DestinationAccountID,
		"sourceAccountId":      req.SourceAccountID,
		"amount":               req.Amount.String(),
		"actorId":              req.ActorID,
		"privileged":           req.Privileged,
		"idempotencyKey":       req.IdempotencyKey,
	})

	if err := validateRequest(req); err != nil {
		return domain.TransferResult{}, err
	}

	if req.IdempotencyKey == "" {
		return s.execute(ctx, req)
	}

	owner := s.newID()
	fingerprint := requestFingerprint(req)
	replay, err := s.acquireKey(ctx, req.IdempotencyKey, owner, fingerprint)
	if err != nil {
		return domain.TransferResult{}, err
	}
	if replay != nil {
		logger.Info("transfer service replaying stored result", logger.Fields{
			"idempotencyKey": req.IdempotencyKey,
			"loanId":         replay.LoanID,
			"status":         replay.Status,
		})
		return *replay, replayError(replay.Status)
	}

	result, execErr := s.execute(ctx, req)

	// Ledger bookkeeping must land even if the caller has gone away.
	bookkeeping := context.WithoutCancel(ctx)
	if result.Status == "" {
		if err := s.idempotency.Release(bookkeeping, req.IdempotencyKey, owner); err != nil {
			logger.Error("transfer service idempotency release failed", err, logger.Fields{
				"idempotencyKey": req.IdempotencyKey,
			})
		}
		return result, execErr
	}

	s.completeKey(bookkeeping, req.IdempotencyKey, owner, result)
	return result, execErr
}

// completeKey stores the result under the key. Once money has moved a lost result would
// let a retry run the transfer again after the lease lapses, so failures are retried and
// the full result is logged if they persist.
func (s *TransferService) completeKey(ctx context.Context, key, owner string, result domain.TransferResult) {
	var err error
	for attempt := 0; attempt < completeAttempts; attempt++ {
		if err = s.idempotency.Complete(ctx, key, owner, result, s.opts.IdempotencyRetention); err == nil {
			return
		}
		if errors.Is(err, domain.ErrRecordNotFound) {
			break
		}
		if sleepErr := s.sleep(ctx, commons.ExponentialWithJitter(s.opts.ConflictBackoff, attempt)); sleepErr != nil {
			break
		}
	}

	logger.Error("transfer service idempotency completion failed, result must be stored manually", err, logger.Fields{
		"idempotencyKey":       key,
		"loanId":               result.LoanID,
		"status":               result.Status,
		"destinationAccountId": result.DestinationAccountID,
		"sourceAccountId":      result.SourceAccountID,
		"amount":               result.Amount.String(),
		"newBalance":           result.NewBalance.String(),
		"message":              result.Message,
		"processedBy":          result.ProcessedBy,
		"timestamp":            result.Timestamp.Format(time.RFC3339Nano),
	})
}

// GetLoan prefers the registry view and falls back to the local ledger for loans the
// registry does not know yet or while the registry is down.
func (s *TransferService) GetLoan(ctx context.Context, loanID string) (domain.LoanRecord, error) {
	loanID = strings.TrimSpace(loanID)
	if loanID == "" {
		return domain.LoanRecord{}, fmt.Errorf("%w: loanId is required", domain.ErrInvalidInput)
	}

	loan, err := s.registry.GetLoan(ctx, loanID)
	if err == nil {
		if local, localErr := s.loans.Get(ctx, loanID); localErr == nil {
			loan.SourceAccountID = local.SourceAccountID
			loan.DestinationAccountID = local.DestinationAccountID
			loan.Attempts = local.Attempts
		}
		return loan, nil
	}
	if !errors.Is(err, domain.ErrLoanNotFound) && !errors.Is(err, domain.ErrRegistryUnavailable) {
		return domain.LoanRecord{}, err
	}

	local, localErr := s.loans.Get(ctx, loanID)
	if localErr != nil {
		if errors.Is(localErr, domain.ErrLoanNotFound) && errors.Is(err, domain.ErrRegistryUnavailable) {
			return domain.LoanRecord{}, err
		}
		return domain.LoanRecord{}, localErr
	}
	return local, nil
}

// acquireKey returns (nil, nil) once the caller owns the key, or the stored result
// to replay. A concurrent holder is waited on for up to DuplicateWait.
func (s *TransferService) acquireKey(ctx context.Context, key, owner, fingerprint string) (*domain.TransferResult, error) {
	deadline := s.now().Add(s.opts.DuplicateWait)
	for {
		entry, reserved, err := s.idempotency.Reserve(ctx, key, owner, fingerprint, s.opts.IdempotencyLease)
		if err != nil {
			if errors.Is(err, domain.ErrDuplicateInProgress) {
				return nil, err
			}
			return nil, fmt.Errorf("reserve idempotency key: %w", err)
		}
		if reserved {
			return nil, nil
		}
		if entry.Fingerprint != fingerprint {
			return nil, domain.ErrIdempotencyKeyReused
		}
		if entry.IsComplete() {
			return entry.Result, nil
		}

		if !s.now().Before(deadline) {
			logger.Warn("transfer service duplicate still in flight", logger.Fields{
				"idempotencyKey": key,
			})
			return nil, domain.ErrDuplicateInProgress
		}
		if err := s.sleep(ctx, s.opts.DuplicatePoll); err != nil {
			return nil, err
		}
	}
}

func (s *TransferService) execute(ctx context.Context, req domain.TransferRequest) (domain.TransferResult, error) {
	destination, err := s.accounts.Get(ctx, req.DestinationAccountID)
	if err != nil {
		return domain.TransferResult{}, err
	}
	if !req.Privileged && (destination.OwnerID == "" || destination.OwnerID != req.ActorID) {
		logger.Warn("transfer service caller does not own destination", logger.Fields{
			"destinationAccountId": destination.ID,
			"actorId":              req.ActorID,
		})
		return domain.TransferResult{}, domain.ErrUnauthorized
	}
	if !destination.IsActive() {
		return domain.TransferResult{}, fmt.Errorf("destination account: %w", domain.ErrAccountNotActive)
	}

	limit, err := s.policy.GetCreditLimit(ctx, destination.ID)
	if err != nil {
		if errors.Is(err, domain.ErrPolicyUnavailable) {
			return domain.TransferResult{}, err
		}
		return domain.TransferResult{}, fmt.Errorf("%w: %v", domain.ErrPolicyUnavailable, err)
	}
	if req.Amount.GreaterThan(limit) {
		return domain.TransferResult{}, fmt.Errorf("%w: amount %s above limit %s",
			domain.ErrLimitExceeded, commons.FormatAmount(req.Amount), commons.FormatAmount(limit))
	}

	if _, err := s.mover.debit(ctx, req.SourceAccountID, req.Amount); err != nil {
		if errors.Is(err, domain.ErrAccountNotActive) {
			return domain.TransferResult{}, fmt.Errorf("source account: %w", err)
		}
		return domain.TransferResult{}, err
	}

	committed := context.WithoutCancel(ctx)
	logger.Info("transfer service source debited", logger.Fields{
		"sourceAccountId": req.SourceAccountID,
		"amount":          req.Amount.String(),
	})

	credited, err := s.mover.credit(committed, destination.ID, req.Amount)
	if err != nil {
		return s.compensate(committed, req, err)
	}

	return s.register(committed, req, destination, credited)
}

// compensate refunds the source after a failed credit. The result tells the caller
// whether the money is back where it started.
func (s *TransferService) compensate(ctx context.Context, req domain.TransferRequest, creditErr error) (domain.TransferResult, error) {
	logger.Error("transfer service credit failed after debit", creditErr, logger.Fields{
		"destinationAccountId": req.DestinationAccountID,
		"sourceAccountId":      req.SourceAccountID,
		"amount":               req.Amount.String(),
	})

	result := s.baseResult(req)
	refunded, refundErr := s.mover.credit(ctx, req.SourceAccountID, req.Amount)
	if refundErr != nil {
		logger.Error("transfer service refund failed, compensation required", refundErr, logger.Fields{
			"destinationAccountId": req.DestinationAccountID,
			"sourceAccountId":      req.SourceAccountID,
			"amount":               req.Amount.String(),
			"actorId":              req.ActorID,
			"idempotencyKey":       req.IdempotencyKey,
			"creditError":          creditErr.Error(),
		})
		result.Status = domain.TransferStatusCompensationRequired
		result.Message = "Transfer failed and could not be reversed automatically"
		return result, fmt.Errorf("%w: credit: %v, refund: %v", domain.ErrCompensationRequired, creditErr, refundErr)
	}

	logger.Info("transfer service debit reversed", logger.Fields{
		"sourceAccountId": req.SourceAccountID,
		"balance":         refunded.Balance.String(),
	})
	result.Status = domain.TransferStatusReversed
	result.Message = "Transfer failed and was reversed"
	return result, fmt.Errorf("%w: %v", domain.ErrCreditFailed, creditErr)
}

func (s *TransferService) register(ctx context.Context, req domain.TransferRequest, destination, credited domain.Account) (domain.TransferResult, error) {
	borrower := req.ActorID
	if req.Privileged && destination.OwnerID != "" {
		borrower = destination.OwnerID
	}

	loan := domain.LoanRecord{
		ID:                   s.newID(),
		Amount:               req.Amount,
		BorrowerID:           borrower,
		SourceAccountID:      req.SourceAccountID,
		DestinationAccountID: destination.ID,
		Status:               domain.LoanStatusPending,
	}
	fields := logger.Fields{
		"loanId":               loan.ID,
		"destinationAccountId": destination.ID,
		"sourceAccountId":      req.SourceAccountID,
		"amount":               req.Amount.String(),
		"borrowerId":           borrower,
		"idempotencyKey":       req.IdempotencyKey,
	}
	recorded := s.recordLoan(ctx, loan, fields)

	result := s.baseResult(req)
	result.LoanID = loan.ID
	result.NewBalance = credited.Balance

	if err := s.registry.RegisterLoan(ctx, loan.ID, loan.Amount, borrower); err != nil {
		if !recorded {
			logger.Error("transfer service loan neither registered nor recorded, compensation required", err, fields)
			result.Status = domain.TransferStatusCompensationRequired
			result.Message = "Funds transferred but the loan could not be recorded"
			return result, fmt.Errorf("%w: loan %s unrecorded: %v", domain.ErrCompensationRequired, loan.ID, err)
		}
		if _, attemptErr := s.loans.RecordAttempt(ctx, loan.ID, err.Error()); attemptErr != nil {
			logger.Error("transfer service record registration attempt failed", attemptErr, logger.Fields{
				"loanId": loan.ID,
			})
		}
		logger.Warn("transfer service loan registration pending", logger.Fields{
			"loanId": loan.ID,
			"error":  err.Error(),
		})
		result.Status = domain.TransferStatusRegistrationPending
		result.Message = "Funds transferred, loan registration pending"
		return result, nil
	}

	if !recorded {
		logger.Error("transfer service loan registered without a local record", nil, fields)
	} else if err := s.loans.MarkRegistered(ctx, loan.ID); err != nil {
		logger.Error("transfer service mark loan registered failed", err, logger.Fields{
			"loanId": loan.ID,
		})
	}

	logger.Info("transfer service execute success", logger.Fields{
		"loanId":               loan.ID,
		"destinationAccountId": destination.ID,
		"newBalance":           credited.Balance.String(),
	})
	result.Status = domain.TransferStatusSuccess
	result.Message = "Loan processed successfully"
	return result, nil
}

// recordLoan writes the PENDING loan to the local ledger, retrying transient failures.
func (s *TransferService) recordLoan(ctx context.Context, loan domain.LoanRecord, fields logger.Fields) bool {
	var err error
	for attempt := 0; attempt < loanWriteAttempts; attempt++ {
		_, err = s.loans.Create(ctx, loan)
		if err == nil || errors.Is(err, domain.ErrAlreadyExists) {
			return true
		}
		if sleepErr := s.sleep(ctx, commons.ExponentialWithJitter(s.opts.ConflictBackoff, attempt)); sleepErr != nil {
			break
		}
	}
	logger.Error("transfer service local loan write failed", err, fields)
	return false
}

func (s *TransferService) baseResult(req domain.TransferRequest) domain.TransferResult {
	result := domain.TransferResult{
		DestinationAccountID: req.DestinationAccountID,
		SourceAccountID:      req.SourceAccountID,
		Amount:               req.Amount,
		Timestamp:            s.now().UTC(),
	}
	if req.Privileged {
		result.ProcessedBy = req.ActorID
	}
	return result
}

func normalizeRequest(req domain.TransferRequest) domain.TransferRequest {
	req.DestinationAccountID = strings.TrimSpace(req.DestinationAccountID)
	req.SourceAccountID = strings.TrimSpace(req.SourceAccountID)
	req.ActorID = strings.TrimSpace(req.ActorID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	return req
}

func validateRequest(req domain.TransferRequest) error {
	if req.DestinationAccountID == "" {
		return fmt.Errorf("%w: destination account id is required", domain.ErrInvalidInput)
	}
	if req.SourceAccountID == "" {
		return fmt.Errorf("%w: source account id is required", domain.ErrInvalidInput)
	}
	if req.ActorID == "" {
		return fmt.Errorf("%w: actor id is required", domain.ErrInvalidInput)
	}
	if req.SourceAccountID == req.DestinationAccountID {
		return fmt.Errorf("%w: source and destination accounts cannot be the same", domain.ErrInvalidInput)
	}
	if err := commons.ValidateAmount(req.Amount); err != nil {
		return fmt.Errorf("%w: %w: %v", domain.ErrInvalidInput, domain.ErrInvalidAmount, err)
	}
	return nil
}

// requestFingerprint binds an idempotency key to the request that first used it.
func requestFingerprint(req domain.TransferRequest) string {
	parts := []string{
		req.DestinationAccountID,
		req.SourceAccountID,
		commons.FormatAmount(req.Amount),
		req.ActorID,
		strconv.FormatBool(req.Privileged),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func replayError(status domain.TransferStatus) error {
	switch status {
	case domain.TransferStatusReversed:
		return domain.ErrCreditFailed
	case domain.TransferStatusCompensationRequired:
		return domain.ErrCompensationRequired
	default:
		return nil
	}
}
