package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/api-sage/credit-loan-processor/src/internal/adapter/repository/repo_interfaces"
	"github.com/api-sage/credit-loan-processor/src/internal/commons"
	"github.com/api-sage/credit-loan-processor/src/internal/domain"
	"github.com/api-sage/credit-loan-processor/src/internal/logger"
	"golang.org/x/sync/errgroup"
)

type ReconcileOptions struct {
	Interval           time.Duration
	Batch              int
	MaxAttempts        int
	Workers            int
	MaxConflictRetries int
	ConflictBackoff    time.Duration
}

type ReconcileReport struct {
	Scanned              int
	Registered           int
	Retried              int
	Reversed             int
	CompensationRequired int
	Skipped              int
}

const finishAttempts = 3

// ReconciliationService drives PENDING loans to a terminal state. A loan is
// re-registered until MaxAttempts is reached, after which it is claimed as REVERSING,
// the transfer behind it is reversed and the loan marked FAILED. Only the caller that
// wins the PENDING to REVERSING transition moves money, so a loan is reversed at most once.
type ReconciliationService struct {
	loans    repo_interfaces.LoanRepository
	registry domain.LoanRegistry
	mover    *balanceMover
	opts     ReconcileOptions
}

func NewReconciliationService(
	accounts repo_interfaces.AccountRepository,
	loans repo_interfaces.LoanRepository,
	registry domain.LoanRegistry,
	opts ReconcileOptions,
) *ReconciliationService {
	if opts.Batch <= 0 {
		opts.Batch = 100
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}

	return &ReconciliationService{
		loans:    loans,
		registry: registry,
		mover:    newBalanceMover(accounts, opts.MaxConflictRetries, opts.ConflictBackoff),
		opts:     opts,
	}
}

// Run reconciles on every tick until ctx is cancelled.
func (s *ReconciliationService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	logger.Info("reconciliation service started", logger.Fields{
		"interval": s.opts.Interval.String(),
		"workers":  s.opts.Workers,
	})

	for {
		select {
		case <-ctx.Done():
			logger.Info("reconciliation service stopped", nil)
			return nil
		case <-ticker.C:
			if _, err := s.ReconcilePending(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("reconciliation run failed", err, nil)
			}
		}
	}
}

func (s *ReconciliationService) ReconcilePending(ctx context.Context) (ReconcileReport, error) {
	pending, err := s.loans.ListPending(ctx, s.opts.Batch)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("list pending loans: %w", err)
	}

	report := ReconcileReport{Scanned: len(pending)}
	if len(pending) == 0 {
		return report, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for _, loan := range pending {
		loan := loan
		g.Go(func() error {
			outcome := s.reconcileLoan(gctx, loan)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case domain.LoanStatusRegistered:
				report.Registered++
			case domain.LoanStatusFailed:
				report.Reversed++
			case domain.LoanStatusCompensationRequired:
				report.CompensationRequired++
			case "":
				report.Skipped++
			default:
				report.Retried++
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("reconciliation run complete", logger.Fields{
		"scanned":              report.Scanned,
		"registered":           report.Registered,
		"retried":              report.Retried,
		"reversed":             report.Reversed,
		"compensationRequired": report.CompensationRequired,
		"skipped":              report.Skipped,
	})
	return report, nil
}

// reconcileLoan returns the loan's resulting status, or "" when another worker owns it.
func (s *ReconciliationService) reconcileLoan(ctx context.Context, loan domain.LoanRecord) domain.LoanStatus {
	regErr := s.registry.RegisterLoan(ctx, loan.ID, loan.Amount, loan.BorrowerID)
	if regErr == nil {
		if err := s.loans.MarkRegistered(ctx, loan.ID); err != nil {
			if errors.Is(err, domain.ErrLoanStatusConflict) {
				logger.Error("reconciliation registered a loan that is no longer pending, registry record needs review", err, logger.Fields{
					"loanId": loan.ID,
				})
				return ""
			}
			logger.Error("reconciliation mark registered failed", err, logger.Fields{"loanId": loan.ID})
		}
		return domain.LoanStatusRegistered
	}

	updated, err := s.loans.RecordAttempt(ctx, loan.ID, regErr.Error())
	if err != nil {
		if errors.Is(err, domain.ErrLoanStatusConflict) {
			return ""
		}
		logger.Error("reconciliation record attempt failed", err, logger.Fields{"loanId": loan.ID})
		return domain.LoanStatusPending
	}
	if updated.Attempts < s.opts.MaxAttempts {
		return domain.LoanStatusPending
	}

	return s.reverse(context.WithoutCancel(ctx), updated)
}

// reverse moves the loan amount back from destination to source once the loan has
// been claimed as REVERSING.
func (s *ReconciliationService) reverse(ctx context.Context, loan domain.LoanRecord) domain.LoanStatus {
	fields := logger.Fields{
		"loanId":               loan.ID,
		"sourceAccountId":      loan.SourceAccountID,
		"destinationAccountId": loan.DestinationAccountID,
		"amount":               loan.Amount.String(),
		"attempts":             loan.Attempts,
	}

	reason := fmt.Sprintf("registration abandoned after %d attempts", loan.Attempts)
	if err := s.loans.UpdateStatus(ctx, loan.ID, domain.LoanStatusPending, domain.LoanStatusReversing, reason); err != nil {
		if errors.Is(err, domain.ErrLoanStatusConflict) {
			logger.Info("reconciliation loan already claimed", fields)
			return ""
		}
		logger.Error("reconciliation claim for reversal failed", err, fields)
		return domain.LoanStatusPending
	}
	logger.Warn("reconciliation reversing unregistered loan", fields)

	if _, err := s.mover.debit(ctx, loan.DestinationAccountID, loan.Amount); err != nil {
		logger.Error("reconciliation reversal debit failed, compensation required", err, fields)
		s.finish(ctx, loan.ID, domain.LoanStatusCompensationRequired, "reversal debit: "+err.Error())
		return domain.LoanStatusCompensationRequired
	}
	if _, err := s.mover.credit(ctx, loan.SourceAccountID, loan.Amount); err != nil {
		logger.Error("reconciliation reversal credit failed, compensation required", err, fields)
		s.finish(ctx, loan.ID, domain.LoanStatusCompensationRequired, "reversal credit: "+err.Error())
		return domain.LoanStatusCompensationRequired
	}

	s.finish(ctx, loan.ID, domain.LoanStatusFailed, "registration abandoned, transfer reversed")
	return domain.LoanStatusFailed
}

// finish records the outcome of a reversal. When every attempt fails the loan stays
// REVERSING, which the job never picks up again.
func (s *ReconciliationService) finish(ctx context.Context, loanID string, status domain.LoanStatus, lastError string) {
	var err error
	for attempt := 0; attempt < finishAttempts; attempt++ {
		err = s.loans.UpdateStatus(ctx, loanID, domain.LoanStatusReversing, status, lastError)
		if err == nil || errors.Is(err, domain.ErrLoanStatusConflict) {
			break
		}
		if sleepErr := commons.SleepWithContext(ctx, commons.ExponentialWithJitter(s.opts.ConflictBackoff, attempt)); sleepErr != nil {
			break
		}
	}
	if err != nil {
		logger.Error("reconciliation could not record reversal outcome, loan left REVERSING", err, logger.Fields{
			"loanId":    loanID,
			"status":    status,
			"lastError": lastError,
		})
	}
}
