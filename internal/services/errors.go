// Package services defines the business logic for gift rules, trigger
// evaluation, execution orchestration, and the approval protocol. This file
// centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages or HTTP status codes is performed at the handler
// layer.
package services

import "errors"

// Rule-related errors.
var (
	// ErrRuleNotFound indicates that the requested rule does not exist or is
	// not accessible to the current user.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrRuleInactive is returned when an operation requires an active rule.
	ErrRuleInactive = errors.New("rule is inactive")

	// ErrMissingPaymentMethod is returned when a rule operation requires a
	// stored payment method and none is attached.
	ErrMissingPaymentMethod = errors.New("no payment method on rule")

	// ErrInvalidExpiry is returned when a stored payment method carries an
	// out-of-range expiry month or year.
	ErrInvalidExpiry = errors.New("payment method expiry is invalid")
)

// Execution-related errors.
var (
	// ErrExecutionNotFound indicates that the requested execution does not
	// exist or is not accessible to the current user.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrInvalidStatus is returned when an operation is attempted on an
	// execution whose current status does not permit it.
	ErrInvalidStatus = errors.New("execution status does not permit this operation")

	// ErrBudgetExceeded is returned when a selection or approval would push
	// the execution total past the rule's budget limit.
	ErrBudgetExceeded = errors.New("total exceeds budget limit")

	// ErrEmptySelection is returned when an approval names no products.
	ErrEmptySelection = errors.New("approval must select at least one product")

	// ErrUnknownProduct is returned when an approval references a product ID
	// that is not part of the execution's candidate snapshot.
	ErrUnknownProduct = errors.New("product not in candidate set")

	// ErrMissingShippingAddress is returned when placement is attempted
	// without a usable shipping address.
	ErrMissingShippingAddress = errors.New("no shipping address available")
)
