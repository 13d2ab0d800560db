// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Execution
// model, including the compare-and-set status transition that serializes all
// state-machine advancement.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/giftflow/go-autogift-backend/internal/domain"
)

// terminalStatuses is reused in "live execution" predicates.
var terminalStatuses = []domain.ExecutionStatus{
	domain.StatusCompleted, domain.StatusFailed, domain.StatusCancelled, domain.StatusRejected,
}

// CreateExecution inserts a new execution row (and its product snapshot, if
// any). A UUID primary key is assigned when absent.
func CreateExecution(ctx context.Context, db *gorm.DB, e *domain.Execution) (*domain.Execution, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(e).Error; err != nil {
		return nil, err
	}
	return e, nil
}

// GetExecution fetches an execution with its product snapshot. Returns
// ErrNotFound when missing.
func GetExecution(ctx context.Context, db *gorm.DB, id string) (*domain.Execution, error) {
	var e domain.Execution
	err := db.WithContext(ctx).
		Preload("Products", func(tx *gorm.DB) *gorm.DB { return tx.Order("rank asc") }).
		First(&e, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetExecutionForUser fetches an execution owned (via its rule) by userID.
func GetExecutionForUser(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Execution, error) {
	var e domain.Execution
	err := db.WithContext(ctx).
		Preload("Products", func(tx *gorm.DB) *gorm.DB { return tx.Order("rank asc") }).
		Where("id = ? AND user_id = ?", id, userID).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// FindLiveExecution returns the non-terminal execution for a (rule, occasion
// instance) pair, or ErrNotFound. At most one such row exists when the
// trigger evaluator has done its job.
func FindLiveExecution(ctx context.Context, db *gorm.DB, ruleID, occasionKey string) (*domain.Execution, error) {
	var e domain.Execution
	err := db.WithContext(ctx).
		Where("rule_id = ? AND occasion_key = ? AND status NOT IN ?", ruleID, occasionKey, terminalStatuses).
		Order("created_at asc").
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListLiveExecutions returns all non-terminal executions for a (rule,
// occasion instance) pair, oldest first. Used by duplicate resolution.
func ListLiveExecutions(ctx context.Context, db *gorm.DB, ruleID, occasionKey string) ([]domain.Execution, error) {
	var out []domain.Execution
	err := db.WithContext(ctx).
		Where("rule_id = ? AND occasion_key = ? AND status NOT IN ?", ruleID, occasionKey, terminalStatuses).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// CountExecutions returns the number of executions matching the optional
// status and rule filters for a user.
func CountExecutions(ctx context.Context, db *gorm.DB, userID string, status domain.ExecutionStatus, ruleID string) (int64, error) {
	q := db.WithContext(ctx).Model(&domain.Execution{}).Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if ruleID != "" {
		q = q.Where("rule_id = ?", ruleID)
	}
	var total int64
	err := q.Count(&total).Error
	return total, err
}

// ListExecutionsPage returns a page of a user's executions, newest first,
// with optional status and rule filters.
func ListExecutionsPage(ctx context.Context, db *gorm.DB, userID string, status domain.ExecutionStatus, ruleID string, offset, limit int) ([]domain.Execution, error) {
	q := db.WithContext(ctx).
		Preload("Products", func(tx *gorm.DB) *gorm.DB { return tx.Order("rank asc") }).
		Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if ruleID != "" {
		q = q.Where("rule_id = ?", ruleID)
	}
	var out []domain.Execution
	err := q.Order("created_at desc").Offset(offset).Limit(limit).Find(&out).Error
	return out, err
}

// TransitionStatus performs the compare-and-set status move that serializes
// execution advancement: the row is updated only when its status still equals
// `from`. Additional column patches ride along atomically. It returns false
// (without error) when another writer won the race.
func TransitionStatus(ctx context.Context, db *gorm.DB, id string, from, to domain.ExecutionStatus, patch map[string]any) (bool, error) {
	if !from.CanTransition(to) {
		return false, nil
	}
	values := map[string]any{"status": to, "updated_at": time.Now().UTC()}
	for k, v := range patch {
		values[k] = v
	}
	res := db.WithContext(ctx).
		Model(&domain.Execution{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ClaimPlacement takes a short-lived placement lease on an approved
// execution by bumping next_retry_at, conditioned on the previous lease
// having elapsed. Holding the lease guarantees at most one Order Placer call
// is in flight per execution; an ambiguous timeout simply leaves the row
// `approved` until the lease expires and the retry sweep reclaims it.
func ClaimPlacement(ctx context.Context, db *gorm.DB, id string, now time.Time, lease time.Duration) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Execution{}).
		Where("id = ? AND status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)",
			id, domain.StatusApproved, now).
		Updates(map[string]any{"next_retry_at": now.Add(lease), "updated_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetExecutionAddress records a late-resolved shipping address on an
// execution and clears the confirmation flag.
func SetExecutionAddress(ctx context.Context, db *gorm.DB, id, addressID, source string) error {
	return db.WithContext(ctx).
		Model(&domain.Execution{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"shipping_address_id":   addressID,
			"address_source":        source,
			"address_needs_confirm": false,
			"updated_at":            time.Now().UTC(),
		}).Error
}

// ReleaseProcessing hands a claimed execution back to the pending pool, for
// use when a transient dependency outage interrupts selection. This is a
// claim release, not a state-machine move, so it bypasses CanTransition.
func ReleaseProcessing(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.Execution{}).
		Where("id = ? AND status = ?", id, domain.StatusProcessing).
		Updates(map[string]any{"status": domain.StatusPending, "updated_at": time.Now().UTC()}).Error
}

// ReplaceProducts swaps an execution's product snapshot inside one
// transaction. Prices are frozen as given; nothing re-fetches them later.
func ReplaceProducts(ctx context.Context, db *gorm.DB, executionID string, products []domain.ExecutionProduct) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("execution_id = ?", executionID).Delete(&domain.ExecutionProduct{}).Error; err != nil {
			return err
		}
		for i := range products {
			if products[i].ID == "" {
				products[i].ID = uuid.NewString()
			}
			products[i].ExecutionID = executionID
		}
		if len(products) == 0 {
			return nil
		}
		return tx.Create(&products).Error
	})
}

// MarkSelectedProducts flags the approved subset and clears the flag on
// everything else attached to the execution.
func MarkSelectedProducts(ctx context.Context, db *gorm.DB, executionID string, productIDs []string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.ExecutionProduct{}).
			Where("execution_id = ?", executionID).
			Update("selected", false).Error; err != nil {
			return err
		}
		return tx.Model(&domain.ExecutionProduct{}).
			Where("execution_id = ? AND id IN ?", executionID, productIDs).
			Update("selected", true).Error
	})
}

// ListRetryable returns order_failed executions whose backoff has elapsed.
func ListRetryable(ctx context.Context, db *gorm.DB, now time.Time) ([]domain.Execution, error) {
	var out []domain.Execution
	err := db.WithContext(ctx).
		Where("status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?", domain.StatusOrderFailed, now).
		Order("next_retry_at asc").
		Find(&out).Error
	return out, err
}

// ListStaleApproved returns approved executions whose placement lease has
// elapsed: either a claim was never taken or an earlier attempt timed out
// indeterminately. The sweep re-drives placement for them.
func ListStaleApproved(ctx context.Context, db *gorm.DB, now time.Time) ([]domain.Execution, error) {
	var out []domain.Execution
	err := db.WithContext(ctx).
		Where("status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)", domain.StatusApproved, now).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// ListSuspendedByRule returns the rule's order_failed executions that are
// parked without a retry schedule (payment-declined suspensions). They are
// re-armed when the user replaces the payment method.
func ListSuspendedByRule(ctx context.Context, db *gorm.DB, ruleID string) ([]domain.Execution, error) {
	var out []domain.Execution
	err := db.WithContext(ctx).
		Where("rule_id = ? AND status = ? AND next_retry_at IS NULL", ruleID, domain.StatusOrderFailed).
		Find(&out).Error
	return out, err
}

// ScheduleRetry re-arms a suspended execution for the next sweep.
func ScheduleRetry(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Execution{}).
		Where("id = ?", id).
		Update("next_retry_at", at).Error
}

// ListPendingApproval returns a user's executions awaiting a decision,
// oldest first, with products preloaded.
func ListPendingApproval(ctx context.Context, db *gorm.DB, userID string) ([]domain.Execution, error) {
	var out []domain.Execution
	err := db.WithContext(ctx).
		Preload("Products", func(tx *gorm.DB) *gorm.DB { return tx.Order("rank asc") }).
		Where("user_id = ? AND status = ?", userID, domain.StatusPendingApproval).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// ListFreshExecutions returns pending executions ready for the orchestrator
// to claim, oldest first.
func ListFreshExecutions(ctx context.Context, db *gorm.DB) ([]domain.Execution, error) {
	var out []domain.Execution
	err := db.WithContext(ctx).
		Where("status = ?", domain.StatusPending).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}
