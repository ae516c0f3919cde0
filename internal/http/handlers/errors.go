// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants and the translation of
// service errors into HTTP responses. Clients branch on the code; the message
// is human-readable and, for policy refusals, already localized.
//
// Conventions:
//   - Codes are lowercase snake_case.
//   - Generic codes (bad_request, unauthorized, not_found, ...) mirror HTTP
//     status semantics.
//   - A refused order or cancellation uses its deny reason as the code
//     (order_closed, group_limit, insufficient_balance, ...).
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "order_closed",
//	  "message": "Ordering for 2024-06-03 closed at 2024-05-31 07:00."
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/canteen-backend/internal/services"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeInvalidTransition = "invalid_transition"
	ErrCodeAlreadyIssued     = "already_issued"
	ErrCodeMenuOverlap       = "menu_overlap"
	ErrCodeMethodNotAllowed  = "method_not_allowed"
)

// denyStatus maps a deny reason to its HTTP status. Refusals caused by the
// state of the day (closed, locked, quota) are conflicts; refusals caused by
// the caller's account are unprocessable.
func denyStatus(r services.DenyReason) int {
	switch r {
	case services.ReasonInsufficientBalance, services.ReasonDebitLimitExceeded, services.ReasonNotListed:
		return http.StatusUnprocessableEntity
	case services.ReasonInternalError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusConflict
	}
}

// failErr translates a service error into the standard error envelope.
func failErr(c *gin.Context, err error) {
	if de, ok := services.AsDeny(err); ok {
		msg := de.Message
		if msg == "" {
			msg = string(de.Reason)
		}
		fail(c, denyStatus(de.Reason), string(de.Reason), msg)
		return
	}

	switch {
	case errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrMenuItemNotFound),
		errors.Is(err, services.ErrOrderNotFound),
		errors.Is(err, services.ErrOrderItemNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrInvalidQuantity),
		errors.Is(err, services.ErrInvalidDate),
		errors.Is(err, services.ErrInvalidRange),
		errors.Is(err, services.ErrInvalidAmount):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrForbidden):
		fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, services.ErrInvalidTransition):
		fail(c, http.StatusConflict, ErrCodeInvalidTransition, err.Error())
	case errors.Is(err, services.ErrAlreadyIssued):
		fail(c, http.StatusConflict, ErrCodeAlreadyIssued, err.Error())
	case errors.Is(err, services.ErrMenuOverlap):
		fail(c, http.StatusConflict, ErrCodeMenuOverlap, err.Error())
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}
