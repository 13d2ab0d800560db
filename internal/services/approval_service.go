// Package services – ApprovalService
//
// The approval gateway is the human decision point of the execution
// lifecycle. Approval validates the selected subset against the candidate
// snapshot and the rule's budget, performs the compare-and-set move to
// approved, and hands off to the orchestrator for a synchronous placement
// attempt. Duplicate approval calls are tolerated: approving an execution
// that is already approved, order_placed, or completed returns its current
// state instead of an error.
package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giftflow/go-autogift-backend/internal/domain"
	"github.com/giftflow/go-autogift-backend/internal/repo"
)

// ApprovalService implements the approval/rejection protocol for executions
// parked in pending_approval.
type ApprovalService struct {
	DB *gorm.DB

	// Orchestrator places the order after a successful approval. The call is
	// synchronous: the approving user learns the placement outcome (or its
	// scheduled retry) before the request returns.
	Orchestrator *Orchestrator
}

// ListPending returns the user's executions awaiting a decision, oldest
// first, with candidate snapshots attached.
func (s *ApprovalService) ListPending(ctx context.Context, userID string) ([]domain.Execution, error) {
	return repo.ListPendingApproval(ctx, s.DB, userID)
}

// Approve locks in the selected candidate subset and advances the execution
// to approved, then attempts order placement.
//
// The selection is validated before any state changes: it must be non-empty,
// reference only snapshot products (by snapshot row ID), and total within the
// rule's budget, and a shipping address must resolve from the execution or
// its rule. Validation failures leave the execution in pending_approval.
func (s *ApprovalService) Approve(ctx context.Context, userID, executionID string, productIDs []string) (*domain.Execution, error) {
	tr := otel.Tracer("services/ApprovalService")
	ctx, span := tr.Start(ctx, "Approve",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("execution.id", executionID),
			attribute.Int("approval.products", len(productIDs)),
		),
	)
	defer span.End()

	exec, err := repo.GetExecutionForUser(ctx, s.DB, executionID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, err
	}

	// Duplicate approval call: report current state, change nothing.
	switch exec.Status {
	case domain.StatusApproved, domain.StatusOrderPlaced, domain.StatusCompleted:
		return exec, nil
	case domain.StatusPendingApproval:
		// fall through
	default:
		return nil, ErrInvalidStatus
	}

	cleaned := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		if id = strings.TrimSpace(id); id != "" {
			cleaned = append(cleaned, id)
		}
	}
	if len(cleaned) == 0 {
		return nil, ErrEmptySelection
	}

	rule, err := repo.GetRuleByID(ctx, s.DB, exec.RuleID)
	if err != nil {
		return nil, err
	}

	snapshot := make(map[string]int64, len(exec.Products))
	for _, p := range exec.Products {
		snapshot[p.ID] = p.PriceCents
	}
	var total int64
	for _, id := range cleaned {
		price, ok := snapshot[id]
		if !ok {
			return nil, ErrUnknownProduct
		}
		total += price
	}
	if total > rule.BudgetLimitCents {
		return nil, ErrBudgetExceeded
	}

	// The shipping address must resolve before the status moves: an approved
	// execution without one could never be placed. An execution triggered
	// before the rule had an address adopts the rule's current one; with no
	// address anywhere the approval is refused and the execution stays
	// pending_approval.
	patch := map[string]any{
		"total_amount_cents":    total,
		"address_needs_confirm": false,
	}
	if exec.ShippingAddressID == "" {
		if rule.ShippingAddressID == "" {
			return nil, ErrMissingShippingAddress
		}
		patch["shipping_address_id"] = rule.ShippingAddressID
		patch["address_source"] = rule.AddressSource
	}

	if err := repo.MarkSelectedProducts(ctx, s.DB, executionID, cleaned); err != nil {
		return nil, err
	}
	moved, err := repo.TransitionStatus(ctx, s.DB, executionID, domain.StatusPendingApproval, domain.StatusApproved, patch)
	if err != nil {
		return nil, err
	}
	if !moved {
		// Lost a race with a reject or cancel; report whatever won.
		fresh, ferr := repo.GetExecutionForUser(ctx, s.DB, executionID, userID)
		if ferr != nil {
			return nil, ferr
		}
		if fresh.Status == domain.StatusApproved || fresh.Status == domain.StatusOrderPlaced || fresh.Status == domain.StatusCompleted {
			return fresh, nil
		}
		return nil, ErrInvalidStatus
	}
	execTransitions.WithLabelValues(string(domain.StatusPendingApproval), string(domain.StatusApproved)).Inc()

	if s.Orchestrator != nil {
		if err := s.Orchestrator.PlaceOrder(ctx, executionID); err != nil {
			return nil, err
		}
	}
	return repo.GetExecutionForUser(ctx, s.DB, executionID, userID)
}

// Reject declines a pending approval. Terminal executions are returned as-is
// so duplicate reject calls stay idempotent.
func (s *ApprovalService) Reject(ctx context.Context, userID, executionID, reason string) (*domain.Execution, error) {
	tr := otel.Tracer("services/ApprovalService")
	ctx, span := tr.Start(ctx, "Reject",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("execution.id", executionID),
		),
	)
	defer span.End()

	exec, err := repo.GetExecutionForUser(ctx, s.DB, executionID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, err
	}
	if exec.Status.Terminal() {
		return exec, nil
	}
	if exec.Status != domain.StatusPendingApproval {
		return nil, ErrInvalidStatus
	}

	patch := map[string]any{}
	if reason = strings.TrimSpace(reason); reason != "" {
		patch["status_detail"] = reason
	}
	moved, err := repo.TransitionStatus(ctx, s.DB, executionID, domain.StatusPendingApproval, domain.StatusRejected, patch)
	if err != nil {
		return nil, err
	}
	if !moved {
		fresh, ferr := repo.GetExecutionForUser(ctx, s.DB, executionID, userID)
		if ferr != nil {
			return nil, ferr
		}
		if fresh.Status.Terminal() {
			return fresh, nil
		}
		return nil, ErrInvalidStatus
	}
	execTransitions.WithLabelValues(string(domain.StatusPendingApproval), string(domain.StatusRejected)).Inc()
	return repo.GetExecutionForUser(ctx, s.DB, executionID, userID)
}
