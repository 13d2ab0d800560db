// Package domain defines the persistence models and core value types for the
// auto-gifting application: standing gift rules, their per-occasion executions,
// stored payment methods, and the execution status machine. These types are
// mapped with GORM and shared across the repository and service layers.
package domain

// ExecutionStatus is the lifecycle state of an Execution.
//
// The happy path is pending → processing → (pending_approval) → approved →
// order_placed → completed. Side branches are order_failed (retryable),
// failed, cancelled, and rejected. Status strings are stored verbatim in the
// database and exposed verbatim over the API.
type ExecutionStatus string

const (
	// StatusPending marks a freshly created execution that no worker has
	// claimed yet.
	StatusPending ExecutionStatus = "pending"
	// StatusProcessing marks an execution claimed by the orchestrator while
	// product selection runs.
	StatusProcessing ExecutionStatus = "processing"
	// StatusPendingApproval parks the execution until a user decision arrives.
	StatusPendingApproval ExecutionStatus = "pending_approval"
	// StatusApproved means a product set within budget has been locked in and
	// order placement may begin (or be retried).
	StatusApproved ExecutionStatus = "approved"
	// StatusOrderPlaced means the fulfillment provider accepted the order.
	StatusOrderPlaced ExecutionStatus = "order_placed"
	// StatusOrderFailed is the retryable failure branch after a rejected or
	// errored placement attempt.
	StatusOrderFailed ExecutionStatus = "order_failed"
	// StatusCompleted is terminal: fulfillment confirmed the order.
	StatusCompleted ExecutionStatus = "completed"
	// StatusFailed is terminal: no viable products, or retries exhausted.
	StatusFailed ExecutionStatus = "failed"
	// StatusCancelled is terminal: superseded by a newer execution for the
	// same rule and occasion instance.
	StatusCancelled ExecutionStatus = "cancelled"
	// StatusRejected is terminal: the user explicitly declined the gift.
	StatusRejected ExecutionStatus = "rejected"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// transitions is the closed set of legal status moves. Cancellation from any
// non-terminal state is handled separately in CanTransition.
var transitions = map[ExecutionStatus][]ExecutionStatus{
	StatusPending:         {StatusProcessing},
	StatusProcessing:      {StatusPendingApproval, StatusApproved, StatusFailed},
	StatusPendingApproval: {StatusApproved, StatusRejected},
	StatusApproved:        {StatusOrderPlaced, StatusOrderFailed},
	StatusOrderFailed:     {StatusApproved, StatusFailed},
	StatusOrderPlaced:     {StatusCompleted},
}

// CanTransition reports whether moving from s to next is a legal step of the
// execution state machine.
func (s ExecutionStatus) CanTransition(next ExecutionStatus) bool {
	if next == StatusCancelled {
		return !s.Terminal()
	}
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// ValidStatus reports whether s is one of the known execution statuses.
func ValidStatus(s ExecutionStatus) bool {
	switch s {
	case StatusPending, StatusProcessing, StatusPendingApproval, StatusApproved,
		StatusOrderPlaced, StatusOrderFailed, StatusCompleted, StatusFailed,
		StatusCancelled, StatusRejected:
		return true
	}
	return false
}
