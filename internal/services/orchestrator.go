// Package services – Orchestrator
//
// The orchestrator advances executions through the state machine: it claims
// pending executions, runs product selection, applies the auto-approval
// safety gate (budget and payment health), places orders, and schedules
// retries with backoff. Every status move goes through the compare-and-set
// repository primitive, so a racing approval call, sweep, or duplicate
// scheduler fire produces exactly one winner and the losers observe a clean
// no-op.
//
// Order placement is additionally guarded by a short-lived lease on
// next_retry_at: no two placement calls can be in flight for one execution,
// and an ambiguous timeout leaves the row `approved` until the lease elapses
// and the retry sweep reconciles it. Timeouts are never treated as failures
// because the provider may have accepted the order.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giftflow/go-autogift-backend/internal/domain"
	"github.com/giftflow/go-autogift-backend/internal/fulfillment"
	"github.com/giftflow/go-autogift-backend/internal/notify"
	"github.com/giftflow/go-autogift-backend/internal/repo"
	"github.com/giftflow/go-autogift-backend/internal/selection"
)

// backoffSchedule maps the attempt number (1-based) to the delay before the
// next placement retry. Attempts beyond the table reuse the last entry.
var backoffSchedule = []time.Duration{
	10 * time.Minute,
	1 * time.Hour,
	6 * time.Hour,
	24 * time.Hour,
}

// backoffDelay returns the wait after the given failed attempt count.
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(backoffSchedule) {
		attempt = len(backoffSchedule)
	}
	return backoffSchedule[attempt-1]
}

// Orchestrator drives executions from pending to a terminal state.
type Orchestrator struct {
	DB       *gorm.DB
	Selector selection.Selector
	Placer   fulfillment.Placer
	Health   *PaymentHealthService
	Emitter  notify.Emitter
	Log      zerolog.Logger

	// MaxOrderAttempts is the placement attempt ceiling before terminal
	// failure. Zero falls back to 4.
	MaxOrderAttempts int
	// PlacementTimeout bounds one Order Placer call. Zero falls back to 30s.
	PlacementTimeout time.Duration
	// PlacementLease is how long a placement claim excludes other callers.
	// Zero falls back to 2m. Must exceed PlacementTimeout.
	PlacementLease time.Duration
	// MaxCandidates caps the selector's ranked list per execution.
	MaxCandidates int

	// Now is injectable for tests; nil means time.Now.
	Now func() time.Time
}

func (s *Orchestrator) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Orchestrator) maxAttempts() int {
	if s.MaxOrderAttempts > 0 {
		return s.MaxOrderAttempts
	}
	return 4
}

func (s *Orchestrator) placementTimeout() time.Duration {
	if s.PlacementTimeout > 0 {
		return s.PlacementTimeout
	}
	return 30 * time.Second
}

func (s *Orchestrator) placementLease() time.Duration {
	if s.PlacementLease > 0 {
		return s.PlacementLease
	}
	return 2 * time.Minute
}

func (s *Orchestrator) emitter() notify.Emitter {
	if s.Emitter != nil {
		return s.Emitter
	}
	return notify.NopEmitter{}
}

// emit publishes a notification fire-and-forget. Emission failures are the
// emitter's to log; they never affect state transitions.
func (s *Orchestrator) emit(ctx context.Context, ev notify.Event) {
	_ = s.emitter().Emit(ctx, ev)
}

func (s *Orchestrator) transition(ctx context.Context, id string, from, to domain.ExecutionStatus, patch map[string]any) (bool, error) {
	ok, err := repo.TransitionStatus(ctx, s.DB, id, from, to, patch)
	if err == nil && ok {
		execTransitions.WithLabelValues(string(from), string(to)).Inc()
	}
	return ok, err
}

// AdvancePending claims and advances every pending execution. Per-execution
// failures are logged and skipped.
func (s *Orchestrator) AdvancePending(ctx context.Context) (int, error) {
	fresh, err := repo.ListFreshExecutions(ctx, s.DB)
	if err != nil {
		return 0, err
	}
	advanced := 0
	for i := range fresh {
		if err := s.Advance(ctx, fresh[i].ID); err != nil {
			s.Log.Error().Err(err).Str("execution_id", fresh[i].ID).Msg("advance failed")
			continue
		}
		advanced++
	}
	return advanced, nil
}

// Advance moves one pending execution through selection and the approval
// gate. Losing the claim race is a silent no-op.
func (s *Orchestrator) Advance(ctx context.Context, executionID string) error {
	tr := otel.Tracer("services/Orchestrator")
	ctx, span := tr.Start(ctx, "Advance",
		trace.WithAttributes(attribute.String("execution.id", executionID)),
	)
	defer span.End()

	claimed, err := s.transition(ctx, executionID, domain.StatusPending, domain.StatusProcessing, nil)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	exec, err := repo.GetExecution(ctx, s.DB, executionID)
	if err != nil {
		return err
	}
	rule, err := repo.GetRuleByID(ctx, s.DB, exec.RuleID)
	if err != nil {
		return err
	}

	candidates, err := s.Selector.Select(ctx, selection.Request{
		UserID:        rule.UserID,
		RecipientID:   rule.RecipientID,
		Occasion:      rule.DateType,
		BudgetCents:   rule.BudgetLimitCents,
		Currency:      rule.Currency,
		Criteria:      rule.Criteria,
		MaxCandidates: s.MaxCandidates,
	})
	if errors.Is(err, selection.ErrNoViableCandidates) {
		_, terr := s.transition(ctx, executionID, domain.StatusProcessing, domain.StatusFailed, map[string]any{
			"error_message": "no viable candidates within budget",
			"status_detail": "product selection found nothing suitable",
		})
		if terr != nil {
			return terr
		}
		s.emit(ctx, notify.Event{
			Type: notify.EventExecutionFailed, UserID: rule.UserID, RuleID: rule.ID,
			ExecutionID: executionID, OccasionKey: exec.OccasionKey,
			Detail: "no viable candidates within budget",
		})
		return nil
	}
	if err != nil {
		// Selector unreachable: release the claim so a later pass can retry
		// rather than burning the occasion.
		if rerr := repo.ReleaseProcessing(ctx, s.DB, executionID); rerr != nil {
			return rerr
		}
		return fmt.Errorf("orchestrator: selection: %w", err)
	}

	products := make([]domain.ExecutionProduct, len(candidates))
	for i, c := range candidates {
		products[i] = domain.ExecutionProduct{
			ProductID:  c.ProductID,
			Name:       c.Name,
			PriceCents: c.PriceCents,
			Currency:   c.Currency,
			Rank:       i,
		}
	}
	if err := repo.ReplaceProducts(ctx, s.DB, executionID, products); err != nil {
		return err
	}

	health, err := s.Health.EvaluateMethod(ctx, rule.UserID, rule.PaymentMethodID)
	if err != nil {
		return err
	}
	span.SetAttributes(
		attribute.Int("selection.candidates", len(candidates)),
		attribute.String("payment.health", string(health)),
	)

	// Auto-approval requires the rule to opt in, a valid payment method
	// (hard safety rule, not a preference), and an in-budget top-ranked set.
	autoSet := autoSelection(products, rule.BudgetLimitCents)
	if rule.AutoApprove && health == domain.PaymentValid && len(autoSet) > 0 {
		return s.autoApprove(ctx, exec, rule, autoSet)
	}

	moved, err := s.transition(ctx, executionID, domain.StatusProcessing, domain.StatusPendingApproval, nil)
	if err != nil {
		return err
	}
	if moved {
		s.emit(ctx, notify.Event{
			Type: notify.EventApprovalNeeded, UserID: rule.UserID, RuleID: rule.ID,
			ExecutionID: executionID, OccasionKey: exec.OccasionKey,
			Currency: rule.Currency,
		})
	}
	return nil
}

// autoSelection returns the IDs of the longest rank-order prefix of the
// candidate snapshot whose total fits the budget. Empty means not even the
// top candidate fits.
func autoSelection(products []domain.ExecutionProduct, budgetCents int64) []string {
	var total int64
	out := make([]string, 0, len(products))
	for i := range products {
		if total+products[i].PriceCents > budgetCents {
			break
		}
		total += products[i].PriceCents
		out = append(out, products[i].ID)
	}
	return out
}

func (s *Orchestrator) autoApprove(ctx context.Context, exec *domain.Execution, rule *domain.AutoGiftRule, productIDs []string) error {
	if err := repo.MarkSelectedProducts(ctx, s.DB, exec.ID, productIDs); err != nil {
		return err
	}
	fresh, err := repo.GetExecution(ctx, s.DB, exec.ID)
	if err != nil {
		return err
	}
	total := fresh.SelectedTotalCents()
	moved, err := s.transition(ctx, exec.ID, domain.StatusProcessing, domain.StatusApproved, map[string]any{
		"total_amount_cents": total,
	})
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}
	s.emit(ctx, notify.Event{
		Type: notify.EventGiftApproved, UserID: rule.UserID, RuleID: rule.ID,
		ExecutionID: exec.ID, OccasionKey: exec.OccasionKey,
		AmountCents: total, Currency: rule.Currency,
	})
	return s.PlaceOrder(ctx, exec.ID)
}

// PlaceOrder issues one Order Placer call for an approved execution, under
// the placement lease. It is safe to call from the approval path and from
// sweeps concurrently; only one caller wins the lease.
func (s *Orchestrator) PlaceOrder(ctx context.Context, executionID string) error {
	tr := otel.Tracer("services/Orchestrator")
	ctx, span := tr.Start(ctx, "PlaceOrder",
		trace.WithAttributes(attribute.String("execution.id", executionID)),
	)
	defer span.End()

	exec, err := repo.GetExecution(ctx, s.DB, executionID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrExecutionNotFound
	}
	if err != nil {
		return err
	}
	if exec.Status != domain.StatusApproved {
		return ErrInvalidStatus
	}
	rule, err := repo.GetRuleByID(ctx, s.DB, exec.RuleID)
	if err != nil {
		return err
	}
	selected := exec.SelectedProducts()
	if len(selected) == 0 {
		return ErrEmptySelection
	}
	shipTo := exec.ShippingAddressID
	if shipTo == "" {
		// Re-resolve from the rule: an execution approved before the rule had
		// an address picks up the rule's current one, so fixing the rule
		// revives it on the next sweep.
		if rule.ShippingAddressID == "" {
			return ErrMissingShippingAddress
		}
		shipTo = rule.ShippingAddressID
		if err := repo.SetExecutionAddress(ctx, s.DB, exec.ID, shipTo, rule.AddressSource); err != nil {
			return err
		}
	}

	now := s.now()
	claimed, err := repo.ClaimPlacement(ctx, s.DB, executionID, now, s.placementLease())
	if err != nil {
		return err
	}
	if !claimed {
		// Another placement call is in flight, or the lease from an
		// ambiguous timeout has not elapsed yet.
		return nil
	}

	items := make([]fulfillment.Item, len(selected))
	for i, p := range selected {
		items[i] = fulfillment.Item{ProductID: p.ProductID, Name: p.Name, PriceCents: p.PriceCents, Quantity: 1}
	}
	callCtx, cancel := context.WithTimeout(ctx, s.placementTimeout())
	defer cancel()
	ref, err := s.Placer.Place(callCtx, fulfillment.PlacementRequest{
		ExecutionID:       exec.ID,
		UserID:            rule.UserID,
		PaymentMethodID:   rule.PaymentMethodID,
		ShippingAddressID: shipTo,
		Items:             items,
		TotalAmountCents:  exec.TotalAmountCents,
		Currency:          exec.Currency,
	})

	switch {
	case err == nil:
		moved, terr := s.transition(ctx, executionID, domain.StatusApproved, domain.StatusOrderPlaced, map[string]any{
			"order_id":      ref.OrderID,
			"next_retry_at": nil,
			"error_message": "",
		})
		if terr != nil {
			return terr
		}
		if moved {
			ordersPlaced.Inc()
			s.emit(ctx, notify.Event{
				Type: notify.EventOrderPlaced, UserID: rule.UserID, RuleID: rule.ID,
				ExecutionID: exec.ID, OccasionKey: exec.OccasionKey,
				AmountCents: exec.TotalAmountCents, Currency: exec.Currency,
				Detail: ref.OrderID,
			})
		}
		return nil

	case errors.Is(err, fulfillment.ErrPlacementTimeout):
		// Indeterminate: the provider may have accepted the order. Leave the
		// row approved; the lease blocks a second call until it elapses and
		// the sweep reconciles.
		placementFailures.WithLabelValues("timeout").Inc()
		s.Log.Warn().Str("execution_id", exec.ID).Msg("placement timed out, leaving approved for sweep")
		return nil

	case errors.Is(err, fulfillment.ErrPaymentDeclined):
		return s.suspendOnDecline(ctx, exec, rule, err)

	default:
		return s.failAttempt(ctx, exec, rule, err)
	}
}

// suspendOnDecline parks the execution on a declined charge: order_failed
// with no retry schedule, plus the sticky invalid annotation on the rule.
// The execution is re-armed only when the user replaces the payment method.
func (s *Orchestrator) suspendOnDecline(ctx context.Context, exec *domain.Execution, rule *domain.AutoGiftRule, cause error) error {
	placementFailures.WithLabelValues("payment_declined").Inc()
	moved, err := s.transition(ctx, exec.ID, domain.StatusApproved, domain.StatusOrderFailed, map[string]any{
		"retry_count":   exec.RetryCount + 1,
		"next_retry_at": nil,
		"error_message": cause.Error(),
		"status_detail": "payment declined; replace the payment method to retry",
	})
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}
	if err := repo.SetPaymentSticky(ctx, s.DB, rule.ID, domain.PaymentStickyInvalid, rule.PaymentMethodID); err != nil {
		return err
	}
	s.emit(ctx, notify.Event{
		Type: notify.EventExecutionFailed, UserID: rule.UserID, RuleID: rule.ID,
		ExecutionID: exec.ID, OccasionKey: exec.OccasionKey,
		Detail: "payment declined",
	})
	s.Log.Warn().
		Str("execution_id", exec.ID).
		Str("rule_id", rule.ID).
		Msg("payment declined, execution suspended and method flagged")
	return nil
}

// failAttempt records a retryable placement failure and either schedules the
// next attempt or, when attempts are exhausted, terminates the execution.
func (s *Orchestrator) failAttempt(ctx context.Context, exec *domain.Execution, rule *domain.AutoGiftRule, cause error) error {
	class := "provider"
	if errors.Is(cause, fulfillment.ErrAddressInvalid) {
		class = "address"
	}
	placementFailures.WithLabelValues(class).Inc()

	attempt := exec.RetryCount + 1
	if attempt >= s.maxAttempts() {
		moved, err := s.transition(ctx, exec.ID, domain.StatusApproved, domain.StatusOrderFailed, map[string]any{
			"retry_count":   attempt,
			"next_retry_at": nil,
			"error_message": cause.Error(),
		})
		if err != nil {
			return err
		}
		if !moved {
			return nil
		}
		if _, err := s.transition(ctx, exec.ID, domain.StatusOrderFailed, domain.StatusFailed, map[string]any{
			"status_detail": "placement retries exhausted; manual intervention required",
		}); err != nil {
			return err
		}
		s.emit(ctx, notify.Event{
			Type: notify.EventExecutionFailed, UserID: rule.UserID, RuleID: rule.ID,
			ExecutionID: exec.ID, OccasionKey: exec.OccasionKey,
			Detail: "placement retries exhausted",
		})
		return nil
	}

	nextAt := s.now().Add(backoffDelay(attempt))
	moved, err := s.transition(ctx, exec.ID, domain.StatusApproved, domain.StatusOrderFailed, map[string]any{
		"retry_count":   attempt,
		"next_retry_at": nextAt,
		"error_message": cause.Error(),
		"status_detail": "placement failed; retry scheduled",
	})
	if err != nil {
		return err
	}
	if moved {
		retriesScheduled.Inc()
		s.emit(ctx, notify.Event{
			Type: notify.EventRetryScheduled, UserID: rule.UserID, RuleID: rule.ID,
			ExecutionID: exec.ID, OccasionKey: exec.OccasionKey,
			Detail: nextAt.Format(time.RFC3339),
		})
	}
	return nil
}

// SweepRetries is the periodic reconciliation pass: it re-arms due
// order_failed executions (replaying the approved product set, never
// re-running selection) and re-drives approved executions whose placement
// lease has elapsed.
func (s *Orchestrator) SweepRetries(ctx context.Context) (int, error) {
	tr := otel.Tracer("services/Orchestrator")
	ctx, span := tr.Start(ctx, "SweepRetries")
	defer span.End()

	now := s.now()
	attempted := 0

	due, err := repo.ListRetryable(ctx, s.DB, now)
	if err != nil {
		return 0, err
	}
	for i := range due {
		e := &due[i]
		moved, err := s.transition(ctx, e.ID, domain.StatusOrderFailed, domain.StatusApproved, map[string]any{
			"next_retry_at": nil,
		})
		if err != nil {
			s.Log.Error().Err(err).Str("execution_id", e.ID).Msg("retry re-arm failed")
			continue
		}
		if !moved {
			continue
		}
		if err := s.PlaceOrder(ctx, e.ID); err != nil {
			s.Log.Error().Err(err).Str("execution_id", e.ID).Msg("retry placement failed")
			continue
		}
		attempted++
	}

	stale, err := repo.ListStaleApproved(ctx, s.DB, now)
	if err != nil {
		return attempted, err
	}
	for i := range stale {
		if err := s.PlaceOrder(ctx, stale[i].ID); err != nil {
			s.Log.Error().Err(err).Str("execution_id", stale[i].ID).Msg("stale placement failed")
			continue
		}
		attempted++
	}
	span.SetAttributes(attribute.Int("sweep.attempted", attempted))
	return attempted, nil
}

// Confirm records the fulfillment provider's completion signal for a placed
// order. Idempotent: confirming an already-completed execution is a no-op.
func (s *Orchestrator) Confirm(ctx context.Context, executionID string) (*domain.Execution, error) {
	exec, err := repo.GetExecution(ctx, s.DB, executionID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, err
	}
	if exec.Status == domain.StatusCompleted {
		return exec, nil
	}
	moved, err := s.transition(ctx, executionID, domain.StatusOrderPlaced, domain.StatusCompleted, map[string]any{
		"status_detail": "fulfillment confirmed",
	})
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, ErrInvalidStatus
	}
	rule, err := repo.GetRuleByID(ctx, s.DB, exec.RuleID)
	if err == nil {
		s.emit(ctx, notify.Event{
			Type: notify.EventOrderConfirmed, UserID: rule.UserID, RuleID: rule.ID,
			ExecutionID: exec.ID, OccasionKey: exec.OccasionKey,
			AmountCents: exec.TotalAmountCents, Currency: exec.Currency,
		})
	}
	return repo.GetExecution(ctx, s.DB, executionID)
}

// Cancel moves a non-terminal execution to cancelled. Cancellation never
// preempts an in-flight placement call; it only wins if the status has not
// moved since it was read.
func (s *Orchestrator) Cancel(ctx context.Context, executionID, detail string) (*domain.Execution, error) {
	exec, err := repo.GetExecution(ctx, s.DB, executionID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, err
	}
	if exec.Status.Terminal() {
		if exec.Status == domain.StatusCancelled {
			return exec, nil
		}
		return nil, ErrInvalidStatus
	}
	patch := map[string]any{"next_retry_at": nil}
	if detail != "" {
		patch["status_detail"] = detail
	}
	moved, err := s.transition(ctx, executionID, exec.Status, domain.StatusCancelled, patch)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, ErrInvalidStatus
	}
	return repo.GetExecution(ctx, s.DB, executionID)
}
