// Package services – PaymentHealthService
//
// Payment health is a read model, recomputed on every evaluation. The only
// durable input beyond the stored expiry is the sticky invalid/detached
// annotation that the orchestrator writes onto rules after payment-classified
// placement failures; this service reads it back as a cross-rule lookup.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giftflow/go-autogift-backend/internal/domain"
	"github.com/giftflow/go-autogift-backend/internal/repo"
)

// EvaluateHealth classifies one payment method. Precedence: a sticky
// annotation observed by any of the rules beats expiry, and expired beats
// expiring_soon. expiringWindow is how far ahead of expiry a card counts as
// expiring_soon.
func EvaluateHealth(m *domain.PaymentMethod, rules []domain.AutoGiftRule, now time.Time, expiringWindow time.Duration) domain.PaymentHealthStatus {
	for i := range rules {
		r := &rules[i]
		if !r.PaymentFlagged() || r.PaymentMethodID != m.ID {
			continue
		}
		switch r.PaymentSticky {
		case domain.PaymentStickyDetached:
			return domain.PaymentDetached
		case domain.PaymentStickyInvalid:
			return domain.PaymentInvalid
		}
	}
	exp := m.ExpiresAt()
	switch {
	case !exp.After(now):
		return domain.PaymentExpired
	case exp.Sub(now) <= expiringWindow:
		return domain.PaymentExpiringSoon
	default:
		return domain.PaymentValid
	}
}

// PaymentHealthService computes per-user payment health summaries and answers
// the orchestrator's "is this method safe to auto-charge" question.
type PaymentHealthService struct {
	DB *gorm.DB

	// ExpiringWindow is how close to expiry a method is flagged
	// expiring_soon. Zero falls back to 30 days.
	ExpiringWindow time.Duration

	// Now is injectable for tests; nil means time.Now.
	Now func() time.Time
}

func (s *PaymentHealthService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *PaymentHealthService) window() time.Duration {
	if s.ExpiringWindow > 0 {
		return s.ExpiringWindow
	}
	return 30 * 24 * time.Hour
}

// EvaluateMethod classifies the method a rule pays with, including the
// sticky back-reference scan across the owner's rules. A dangling
// payment_method_id classifies as detached.
func (s *PaymentHealthService) EvaluateMethod(ctx context.Context, userID, methodID string) (domain.PaymentHealthStatus, error) {
	if methodID == "" {
		return domain.PaymentDetached, nil
	}
	m, err := repo.GetPaymentMethod(ctx, s.DB, methodID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.PaymentDetached, nil
	}
	if err != nil {
		return "", err
	}
	rules, err := repo.ListRulesByPaymentMethod(ctx, s.DB, userID, methodID)
	if err != nil {
		return "", err
	}
	return EvaluateHealth(m, rules, s.now(), s.window()), nil
}

// ListMethods returns the user's stored payment-method references, newest
// first.
func (s *PaymentHealthService) ListMethods(ctx context.Context, userID string) ([]domain.PaymentMethod, error) {
	return repo.ListPaymentMethods(ctx, s.DB, userID)
}

// AddMethod stores a new payment-method reference for the user. Tokenization
// happens upstream at the gateway; only display metadata and expiry land here.
func (s *PaymentHealthService) AddMethod(ctx context.Context, userID string, m *domain.PaymentMethod) (*domain.PaymentMethod, error) {
	m.UserID = userID
	if m.ExpMonth < 1 || m.ExpMonth > 12 || m.ExpYear < 2000 {
		return nil, ErrInvalidExpiry
	}
	return repo.CreatePaymentMethod(ctx, s.DB, m)
}

// Summary returns the health of every stored payment method for a user,
// together with how many active rules reference each.
func (s *PaymentHealthService) Summary(ctx context.Context, userID string) ([]domain.PaymentMethodHealth, error) {
	tr := otel.Tracer("services/PaymentHealthService")
	ctx, span := tr.Start(ctx, "Summary",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	methods, err := repo.ListPaymentMethods(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]domain.PaymentMethodHealth, 0, len(methods))
	for i := range methods {
		m := &methods[i]
		rules, err := repo.ListRulesByPaymentMethod(ctx, s.DB, userID, m.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.PaymentMethodHealth{
			PaymentMethodID: m.ID,
			Label:           m.Label,
			Brand:           m.Brand,
			Last4:           m.Last4,
			Status:          EvaluateHealth(m, rules, now, s.window()),
			RulesCount:      int64(len(rules)),
			LastVerified:    now,
		})
	}
	span.SetAttributes(attribute.Int("payment.methods", len(out)))
	return out, nil
}
