// Package handlers defines the stable error codes emitted through fail().
//
// The generic codes mirror plain HTTP semantics. The domain codes exist where
// the status alone is ambiguous: a 409 on approve can mean the execution moved
// on (invalid_status), the adjusted selection blew the cap (budget_exceeded),
// or the approval dropped every product (empty_selection), and clients treat
// those differently. Codes are lowercase snake_case and never change meaning
// once shipped.
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeCreateFailed     = "create_failed"
	ErrCodeListFailed       = "list_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInvalidStatus    = "invalid_status"
	ErrCodeBudgetExceeded   = "budget_exceeded"
	ErrCodeEmptySelection   = "empty_selection"
	ErrCodeUnknownProduct   = "unknown_product"
	ErrCodeMissingAddress   = "missing_shipping_address"
	ErrCodePaymentMethod    = "payment_method_invalid"
	ErrCodeApproveFailed    = "approve_failed"
)
