// Package services – ExecutionService
//
// Read-side operations over executions: per-user fetch, filtered listing,
// and user-initiated cancellation. Status reporting is pass-through; all
// state advancement lives in the orchestrator and approval gateway.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giftflow/go-autogift-backend/internal/domain"
	"github.com/giftflow/go-autogift-backend/internal/repo"
)

// ExecutionService answers execution queries scoped to their owning user.
type ExecutionService struct {
	DB *gorm.DB

	// Orchestrator performs the cancellation transition.
	Orchestrator *Orchestrator
}

// Get fetches one execution owned by userID, with its product snapshot.
func (s *ExecutionService) Get(ctx context.Context, userID, id string) (*domain.Execution, error) {
	e, err := repo.GetExecutionForUser(ctx, s.DB, id, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrExecutionNotFound
	}
	return e, err
}

// ListPage returns one page of the user's executions plus the total count,
// optionally filtered by status and rule.
func (s *ExecutionService) ListPage(ctx context.Context, userID string, status domain.ExecutionStatus, ruleID string, page, pageSize int) ([]domain.Execution, int64, error) {
	tr := otel.Tracer("services/ExecutionService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("filter.status", string(status)),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if status != "" && !domain.ValidStatus(status) {
		return nil, 0, ErrInvalidStatus
	}
	total, err := repo.CountExecutions(ctx, s.DB, userID, status, ruleID)
	if err != nil {
		return nil, 0, err
	}
	items, err := repo.ListExecutionsPage(ctx, s.DB, userID, status, ruleID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Confirm records delivery confirmation for a user's placed order.
func (s *ExecutionService) Confirm(ctx context.Context, userID, id string) (*domain.Execution, error) {
	if _, err := repo.GetExecutionForUser(ctx, s.DB, id, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}
	return s.Orchestrator.Confirm(ctx, id)
}

// Cancel marks a user's non-terminal execution cancelled.
func (s *ExecutionService) Cancel(ctx context.Context, userID, id, detail string) (*domain.Execution, error) {
	if _, err := repo.GetExecutionForUser(ctx, s.DB, id, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}
	return s.Orchestrator.Cancel(ctx, id, detail)
}
