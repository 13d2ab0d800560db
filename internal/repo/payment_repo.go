// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// PaymentMethod model (local references to tokenized instruments).
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/giftflow/go-autogift-backend/internal/domain"
)

// CreatePaymentMethod inserts a new stored payment-method reference.
func CreatePaymentMethod(ctx context.Context, db *gorm.DB, m *domain.PaymentMethod) (*domain.PaymentMethod, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// GetPaymentMethod fetches a payment method by ID and owner. Returns
// ErrNotFound when missing.
func GetPaymentMethod(ctx context.Context, db *gorm.DB, id, userID string) (*domain.PaymentMethod, error) {
	var m domain.PaymentMethod
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListPaymentMethods returns all of a user's stored payment methods, newest
// first.
func ListPaymentMethods(ctx context.Context, db *gorm.DB, userID string) ([]domain.PaymentMethod, error) {
	var out []domain.PaymentMethod
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}
