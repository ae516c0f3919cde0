// Package services defines the business logic of the canteen: the operating
// calendar, closing-time arithmetic, subsidy pricing, quotas, the balance
// read model, and the order eligibility engine built on top of them.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Two kinds of failure leave this package:
//
//   - Sentinel errors (ErrOrderNotFound, ErrInvalidQuantity, ...) describe
//     missing records or malformed input.
//   - *DenyError carries a policy decision (closed, quota, balance, locked). It is an
//     expected outcome, not a fault, and handlers render its Reason as the
//     stable error code.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

// Lookup errors.
var (
	// ErrUserNotFound indicates that the acting or target user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrMenuItemNotFound indicates that the referenced menu item does not exist.
	ErrMenuItemNotFound = errors.New("menu item not found")

	// ErrOrderNotFound indicates that the referenced order does not exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderItemNotFound indicates that the user holds no such item for the date.
	ErrOrderItemNotFound = errors.New("order item not found")
)

// Input and state errors.
var (
	// ErrInvalidQuantity is returned for a non-positive or oversized quantity.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrInvalidDate is returned when a service date is not YYYY-MM-DD.
	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidRange is returned when a date range is empty or too long.
	ErrInvalidRange = errors.New("invalid date range")

	// ErrInvalidAmount is returned for a zero deposit amount.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidTransition is returned by staff operations that would move an
	// order out of a terminal status.
	ErrInvalidTransition = errors.New("invalid order status transition")

	// ErrAlreadyIssued is returned when an issued item would be cancelled or
	// issued again.
	ErrAlreadyIssued = errors.New("item already issued")

	// ErrMenuOverlap is returned when a new menu window intersects an
	// existing one.
	ErrMenuOverlap = errors.New("menu validity overlaps an existing menu")

	// ErrForbidden is returned when a non-staff user calls a staff operation.
	ErrForbidden = errors.New("staff permission required")
)

// DenyReason is the stable identifier of the first failing eligibility gate.
type DenyReason string

const (
	ReasonNone                DenyReason = ""
	ReasonOrderClosed         DenyReason = "order_closed"
	ReasonNotListed           DenyReason = "not_listed"
	ReasonAlreadyOrdered      DenyReason = "already_ordered"
	ReasonInsufficientBalance DenyReason = "insufficient_balance"
	ReasonDebitLimitExceeded  DenyReason = "debit_limit_exceeded"
	ReasonGroupLimit          DenyReason = "group_limit"
	ReasonOrderLocked         DenyReason = "order_locked"
	ReasonInternalError       DenyReason = "internal_error"
	ReasonUserNotFound        DenyReason = "user_not_found" // bulk reports only
)

// DenyError is a policy violation: the request was understood and refused.
type DenyError struct {
	Reason  DenyReason
	Message string
}

func (e *DenyError) Error() string {
	if e.Message == "" {
		return string(e.Reason)
	}
	return string(e.Reason) + ": " + e.Message
}

// AsDeny unwraps err into a *DenyError when it is one.
func AsDeny(err error) (*DenyError, bool) {
	var de *DenyError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
