package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/expense-approval/internal/application/service"
	"github.com/garyjia/expense-approval/internal/domain/approval"
	"github.com/garyjia/expense-approval/internal/domain/money"
)

// statusFor maps an application error onto an HTTP status code
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, approval.ErrInvalidRule),
		errors.Is(err, approval.ErrInvalidDecision),
		errors.Is(err, approval.ErrInvalidExpense),
		errors.Is(err, money.ErrInvalidCurrency),
		errors.Is(err, money.ErrNegativeAmount):
		return http.StatusBadRequest
	case approval.IsNotFound(err),
		errors.Is(err, service.ErrCompanyNotFound),
		errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound
	case approval.IsAuthorization(err):
		return http.StatusForbidden
	case approval.IsIdempotency(err),
		errors.Is(err, approval.ErrNotSubmittable),
		errors.Is(err, approval.ErrNotCancellable):
		return http.StatusConflict
	case approval.IsConfiguration(err),
		errors.Is(err, approval.ErrManagerNotFound):
		return http.StatusUnprocessableEntity
	case approval.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorCode is a stable machine readable name for the error class
func errorCode(err error) string {
	if statusFor(err) == http.StatusBadRequest {
		return "invalid_request"
	}
	switch {
	case approval.IsNotFound(err),
		errors.Is(err, service.ErrCompanyNotFound),
		errors.Is(err, service.ErrUserNotFound):
		return "not_found"
	case approval.IsAuthorization(err):
		return "forbidden"
	case approval.IsIdempotency(err):
		return "already_decided"
	case errors.Is(err, approval.ErrNotSubmittable), errors.Is(err, approval.ErrNotCancellable):
		return "invalid_state"
	case approval.IsConfiguration(err):
		return "configuration"
	case errors.Is(err, approval.ErrManagerNotFound):
		return "manager_not_found"
	case errors.Is(err, approval.ErrDependencyTimeout):
		return "dependency_timeout"
	case errors.Is(err, approval.ErrRateUnavailable):
		return "rate_unavailable"
	}
	return "internal"
}

// fail writes the error response. Server errors are logged and their detail
// is not echoed to the client.
func (h *Handlers) fail(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "error", err, "path", c.FullPath())
		msg = "internal error"
	}
	c.JSON(status, Response{
		Success: false,
		Error:   msg,
		Code:    errorCode(err),
		Retry:   approval.IsRetryable(err),
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error:   msg,
		Code:    "invalid_request",
	})
}
