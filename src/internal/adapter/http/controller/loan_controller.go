package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/api-sage/credit-loan-processor/src/internal/adapter/http/middleware"
	"github.com/api-sage/credit-loan-processor/src/internal/adapter/http/models"
	"github.com/api-sage/credit-loan-processor/src/internal/commons"
	"github.com/api-sage/credit-loan-processor/src/internal/domain"
	"github.com/api-sage/credit-loan-processor/src/internal/logger"
	"github.com/api-sage/credit-loan-processor/src/internal/usecase/service_interfaces"
	"github.com/go-chi/chi/v5"
)

const (
	IdempotencyKeyHeader = "X-Idempotency-Key"
	maxIdempotencyKeyLen = 255
	maxBodyBytes         = 1 << 20
)

type LoanController struct {
	service service_interfaces.TransferService
}

func NewLoanController(service service_interfaces.TransferService) *LoanController {
	return &LoanController{service: service}
}

func (c *LoanController) RegisterRoutes(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		if authMiddleware != nil {
			r.Use(authMiddleware)
		}

		r.Post("/v3/accounts/{accountId}/loans", c.createLoan)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(domain.RoleAdmin))
			r.Post("/v3/accounts/admin/{accountId}/loans", c.createLoanAsAdmin)
			r.Get("/v3/loans/{loanId}", c.getLoan)
		})
	})
}

func (c *LoanController) createLoan(w http.ResponseWriter, r *http.Request) {
	c.handleLoan(w, r, false)
}

func (c *LoanController) createLoanAsAdmin(w http.ResponseWriter, r *http.Request) {
	c.handleLoan(w, r, true)
}

// privileged comes from the route, which is only reachable after the role check.
func (c *LoanController) handleLoan(w http.ResponseWriter, r *http.Request, privileged bool) {
	start := time.Now()
	logRequest(r, nil)

	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		response := commons.ErrorResponse[models.LoanResponse]("unauthorized")
		writeJSON(w, http.StatusUnauthorized, response)
		logResponse(r, http.StatusUnauthorized, response, start)
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if len(idempotencyKey) > maxIdempotencyKeyLen {
		response := commons.ErrorResponse[models.LoanResponse]("validation failed", IdempotencyKeyHeader+" is too long")
		writeJSON(w, http.StatusBadRequest, response)
		logResponse(r, http.StatusBadRequest, response, start)
		return
	}

	var req models.LoanRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		logError(r, err, nil)
		response := commons.ErrorResponse[models.LoanResponse]("invalid request body", err.Error())
		writeJSON(w, http.StatusBadRequest, response)
		logResponse(r, http.StatusBadRequest, response, start)
		return
	}
	logRequest(r, req)

	if err := req.Validate(); err != nil {
		response := commons.ErrorResponse[models.LoanResponse]("validation failed", err.Error())
		writeJSON(w, http.StatusBadRequest, response)
		logResponse(r, http.StatusBadRequest, response, start)
		return
	}

	result, err := c.service.Execute(r.Context(), domain.TransferRequest{
		DestinationAccountID: chi.URLParam(r, "accountId"),
		SourceAccountID:      req.SourceAccountID,
		Amount:               *req.Amount,
		ActorID:              principal.UserID,
		IdempotencyKey:       idempotencyKey,
		Privileged:           privileged,
	})
	if err != nil {
		logError(r, err, logger.Fields{"status": result.Status})
		status, message, detail := errorStatus(err)
		response := failure[models.LoanResponse](message, detail)
		writeJSON(w, status, response)
		logResponse(r, status, response, start)
		return
	}

	status := http.StatusCreated
	message := "Loan processed successfully"
	if result.Status == domain.TransferStatusRegistrationPending {
		status = http.StatusAccepted
		message = "Funds transferred, loan registration pending"
	}

	response := commons.SuccessResponse(message, models.NewLoanResponse(result))
	writeJSON(w, status, response)
	logResponse(r, status, response, start)
}

func (c *LoanController) getLoan(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logRequest(r, nil)

	loan, err := c.service.GetLoan(r.Context(), chi.URLParam(r, "loanId"))
	if err != nil {
		logError(r, err, nil)
		status, message, detail := errorStatus(err)
		response := failure[models.LoanRecordResponse](message, detail)
		writeJSON(w, status, response)
		logResponse(r, status, response, start)
		return
	}

	response := commons.SuccessResponse("Loan retrieved successfully", models.NewLoanRecordResponse(loan))
	writeJSON(w, http.StatusOK, response)
	logResponse(r, http.StatusOK, response, start)
}

// errorStatus maps engine errors to HTTP. Anything unclassified gets a generic body;
// the detail stays in the logs.
func errorStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "validation failed", err.Error()
	case errors.Is(err, domain.ErrLimitExceeded):
		return http.StatusBadRequest, "Amount exceeds credit limit", domain.ErrLimitExceeded.Error()
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden, "Not authorized for this account", domain.ErrUnauthorized.Error()
	case errors.Is(err, domain.ErrAccountNotFound):
		return http.StatusNotFound, "Account not found", domain.ErrAccountNotFound.Error()
	case errors.Is(err, domain.ErrLoanNotFound):
		return http.StatusNotFound, "Loan not found", domain.ErrLoanNotFound.Error()
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "Insufficient balance", domain.ErrInsufficientFunds.Error()
	case errors.Is(err, domain.ErrAccountNotActive):
		return http.StatusUnprocessableEntity, "Account is not active", domain.ErrAccountNotActive.Error()
	case errors.Is(err, domain.ErrIdempotencyKeyReused):
		return http.StatusUnprocessableEntity, "Idempotency key reused", domain.ErrIdempotencyKeyReused.Error()
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrDuplicateInProgress):
		return http.StatusConflict, "Request conflicted with a concurrent update, retry later", ""
	case errors.Is(err, domain.ErrPolicyUnavailable), errors.Is(err, domain.ErrRegistryUnavailable):
		return http.StatusServiceUnavailable, "Service temporarily unavailable", ""
	default:
		return http.StatusInternalServerError, "failed to process loan", "Unable to process loan right now"
	}
}

func failure[T any](message, detail string) commons.Response[T] {
	if detail == "" {
		return commons.ErrorResponse[T](message)
	}
	return commons.ErrorResponse[T](message, detail)
}
