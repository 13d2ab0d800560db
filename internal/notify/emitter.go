// Package notify emits lifecycle events for gift executions. Downstream
// consumers (email, push, in-app inbox) subscribe to the event stream; this
// service never renders notifications itself. Emission is best-effort: a
// failed emit is logged and never blocks a state transition.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Event types published on the notification stream.
const (
	EventApprovalNeeded  = "approval_needed"
	EventGiftApproved    = "gift_approved"
	EventOrderPlaced     = "order_placed"
	EventOrderConfirmed  = "order_confirmed"
	EventExecutionFailed = "execution_failed"
	EventRetryScheduled  = "retry_scheduled"
	EventOccasionAhead   = "occasion_ahead"
)

// Event is one notification-stream record. RuleID keys partitioning so that
// events for a rule are consumed in order.
type Event struct {
	Type        string `json:"type"`
	UserID      string `json:"user_id"`
	RuleID      string `json:"rule_id"`
	ExecutionID string `json:"execution_id,omitempty"`
	OccasionKey string `json:"occasion_key,omitempty"`
	AmountCents int64  `json:"amount_cents,omitempty"`
	Currency    string `json:"currency,omitempty"`
	// AmountDisplay is the localized rendering of AmountCents, filled in by
	// the emitter when absent.
	AmountDisplay string    `json:"amount_display,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Emitter publishes events to the notification stream.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
	Close() error
}

// NopEmitter drops every event. Used in tests and when no brokers are
// configured.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, Event) error { return nil }
func (NopEmitter) Close() error                      { return nil }

// LogEmitter writes events to the application log instead of a broker. It is
// the serve-mode fallback when KAFKA_BROKERS is empty, so local runs still
// show the notification stream.
type LogEmitter struct {
	Log zerolog.Logger
}

func (e LogEmitter) Emit(_ context.Context, ev Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	e.Log.Info().
		Str("event", ev.Type).
		Str("user_id", ev.UserID).
		Str("rule_id", ev.RuleID).
		Str("execution_id", ev.ExecutionID).
		Int64("amount_cents", ev.AmountCents).
		Str("detail", ev.Detail).
		Msg("notification event")
	return nil
}

func (e LogEmitter) Close() error { return nil }
