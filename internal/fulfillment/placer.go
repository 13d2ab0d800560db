// Package fulfillment defines the order-placement capability boundary and an
// HTTP adapter for a remote fulfillment provider. Placement failures are
// classified into a small set of sentinel errors so the execution engine can
// decide between retry, suspension, and termination without inspecting
// provider-specific payloads.
package fulfillment

import (
	"context"
	"errors"
)

// Classified placement failures. Anything not covered by these sentinels is
// treated as a transient provider error and scheduled for retry.
var (
	// ErrAddressInvalid means the provider rejected the shipping address.
	// Retrying without user intervention cannot succeed.
	ErrAddressInvalid = errors.New("shipping address invalid")

	// ErrPaymentDeclined means the charge was refused. The execution is
	// suspended until the user replaces the payment method.
	ErrPaymentDeclined = errors.New("payment declined")

	// ErrProviderUnavailable covers 5xx and connection failures. Safe to
	// retry after backoff.
	ErrProviderUnavailable = errors.New("fulfillment provider unavailable")

	// ErrPlacementTimeout means the call ended without a definitive answer.
	// The order may or may not exist; the caller must not assume failure.
	ErrPlacementTimeout = errors.New("placement result unknown")
)

// Item is one product line of a placement, priced as frozen at selection.
type Item struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Quantity   int    `json:"quantity"`
}

// PlacementRequest carries one order attempt. ExecutionID doubles as the
// provider-side idempotency key: replaying the same execution must not create
// a second order.
type PlacementRequest struct {
	ExecutionID       string `json:"execution_id"`
	UserID            string `json:"user_id"`
	PaymentMethodID   string `json:"payment_method_id"`
	ShippingAddressID string `json:"shipping_address_id"`
	Items             []Item `json:"items"`
	TotalAmountCents  int64  `json:"total_amount_cents"`
	Currency          string `json:"currency"`
}

// OrderReference identifies a successfully placed order.
type OrderReference struct {
	OrderID string `json:"order_id"`
}

// Placer places gift orders with the fulfillment provider.
type Placer interface {
	Place(ctx context.Context, req PlacementRequest) (*OrderReference, error)
}
