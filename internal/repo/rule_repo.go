// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// AutoGiftRule model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a rule is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/giftflow/go-autogift-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateRule inserts a new AutoGiftRule owned by the user already set on r.
// A UUID primary key is assigned when absent and CreatedAt is set to UTC.
func CreateRule(ctx context.Context, db *gorm.DB, r *domain.AutoGiftRule) (*domain.AutoGiftRule, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

// GetRule fetches a single rule by its ID and owner. Returns ErrNotFound if
// missing or owned by someone else.
func GetRule(ctx context.Context, db *gorm.DB, id, userID string) (*domain.AutoGiftRule, error) {
	var r domain.AutoGiftRule
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRuleByID fetches a rule regardless of owner. Used by the orchestrator
// and sweeps, which operate across users.
func GetRuleByID(ctx context.Context, db *gorm.DB, id string) (*domain.AutoGiftRule, error) {
	var r domain.AutoGiftRule
	if err := db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// CountRules returns the total number of rules owned by userID.
func CountRules(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.AutoGiftRule{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListRulesPage returns a paginated slice of rules for userID, most recent
// first. The caller computes offset and limit.
func ListRulesPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.AutoGiftRule, error) {
	var out []domain.AutoGiftRule
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListActiveRules returns every active rule across all users. The trigger
// evaluator scans this set each tick.
func ListActiveRules(ctx context.Context, db *gorm.DB) ([]domain.AutoGiftRule, error) {
	var out []domain.AutoGiftRule
	err := db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// SaveRule persists all mutable fields of an already-loaded rule.
func SaveRule(ctx context.Context, db *gorm.DB, r *domain.AutoGiftRule) error {
	return db.WithContext(ctx).Save(r).Error
}

// DeactivateRule soft-retires a rule: it stops triggering but stays on file
// while executions reference it. Returns ErrNotFound when no row matched.
func DeactivateRule(ctx context.Context, db *gorm.DB, id, userID string) error {
	res := db.WithContext(ctx).
		Model(&domain.AutoGiftRule{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetPaymentSticky records the sticky invalid/detached annotation on a rule
// together with the payment method it was observed on.
func SetPaymentSticky(ctx context.Context, db *gorm.DB, ruleID, sticky, methodID string) error {
	return db.WithContext(ctx).
		Model(&domain.AutoGiftRule{}).
		Where("id = ?", ruleID).
		Updates(map[string]any{
			"payment_sticky":           sticky,
			"payment_sticky_method_id": methodID,
		}).Error
}

// ClearPaymentSticky removes a rule's sticky payment annotation.
func ClearPaymentSticky(ctx context.Context, db *gorm.DB, ruleID string) error {
	return db.WithContext(ctx).
		Model(&domain.AutoGiftRule{}).
		Where("id = ?", ruleID).
		Updates(map[string]any{
			"payment_sticky":           "",
			"payment_sticky_method_id": "",
		}).Error
}

// ListRulesByPaymentMethod returns the active rules referencing a payment
// method. The payment health summary uses it for rules_count and for the
// sticky-flag back-reference lookup.
func ListRulesByPaymentMethod(ctx context.Context, db *gorm.DB, userID, methodID string) ([]domain.AutoGiftRule, error) {
	var out []domain.AutoGiftRule
	err := db.WithContext(ctx).
		Where("user_id = ? AND payment_method_id = ? AND is_active = ?", userID, methodID, true).
		Find(&out).Error
	return out, err
}
