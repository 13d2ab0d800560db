// Package services – RuleService
//
// RuleService owns the lifecycle of auto-gift rules: validation and default
// seeding on create, full-field updates, soft retirement, and the payment
// method replacement flow. Replacing a rule's payment method clears the
// sticky invalid/detached annotation and re-arms any execution that was
// suspended on a declined charge.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giftflow/go-autogift-backend/internal/domain"
	"github.com/giftflow/go-autogift-backend/internal/repo"
)

// RuleService provides CRUD operations over auto-gift rules and enforces
// their cross-field invariants.
type RuleService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// DefaultBudgetCents seeds the budget when a create request omits it.
	DefaultBudgetCents int64
	// DefaultCurrency seeds the currency; empty means "USD".
	DefaultCurrency string
	// DefaultNotifyOffsets seeds reminder offsets, CSV of day counts.
	DefaultNotifyOffsets string

	// Now is injectable for tests; nil means time.Now.
	Now func() time.Time
}

func (s *RuleService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Create validates and persists a new rule owned by userID. Omitted budget,
// currency, and notification offsets are seeded from service defaults.
func (s *RuleService) Create(ctx context.Context, userID string, r *domain.AutoGiftRule) (*domain.AutoGiftRule, error) {
	tr := otel.Tracer("services/RuleService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	r.UserID = userID
	r.IsActive = true
	r.PaymentSticky = ""
	r.PaymentStickyMethodID = ""
	if r.BudgetLimitCents == 0 && s.DefaultBudgetCents > 0 {
		r.BudgetLimitCents = s.DefaultBudgetCents
	}
	if strings.TrimSpace(r.Currency) == "" {
		if s.DefaultCurrency != "" {
			r.Currency = s.DefaultCurrency
		} else {
			r.Currency = "USD"
		}
	}
	if r.NotifyEnabled && strings.TrimSpace(r.NotifyOffsets) == "" {
		r.NotifyOffsets = s.DefaultNotifyOffsets
	}
	if strings.TrimSpace(r.PaymentMethodID) == "" {
		return nil, ErrMissingPaymentMethod
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return repo.CreateRule(ctx, s.DB, r)
}

// Get fetches a rule owned by userID.
func (s *RuleService) Get(ctx context.Context, userID, id string) (*domain.AutoGiftRule, error) {
	r, err := repo.GetRule(ctx, s.DB, id, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrRuleNotFound
	}
	return r, err
}

// ListPage returns one page of the user's rules plus the total count.
func (s *RuleService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.AutoGiftRule, int64, error) {
	tr := otel.Tracer("services/RuleService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	total, err := repo.CountRules(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	rules, err := repo.ListRulesPage(ctx, s.DB, userID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, err
	}
	return rules, total, nil
}

// Update applies the mutable fields of in to an existing rule. When the
// payment method changes, the sticky payment annotation is cleared and every
// execution suspended on the old declined method is re-armed for the next
// retry sweep.
func (s *RuleService) Update(ctx context.Context, userID, id string, in *domain.AutoGiftRule) (*domain.AutoGiftRule, error) {
	tr := otel.Tracer("services/RuleService")
	ctx, span := tr.Start(ctx, "Update",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("rule.id", id),
		),
	)
	defer span.End()

	existing, err := repo.GetRule(ctx, s.DB, id, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}

	methodChanged := in.PaymentMethodID != "" && in.PaymentMethodID != existing.PaymentMethodID

	existing.RecipientID = in.RecipientID
	existing.PendingRecipientEmail = in.PendingRecipientEmail
	existing.DateType = in.DateType
	existing.OccasionMonth = in.OccasionMonth
	existing.OccasionDay = in.OccasionDay
	existing.ScheduledDate = in.ScheduledDate
	if in.BudgetLimitCents > 0 {
		existing.BudgetLimitCents = in.BudgetLimitCents
	}
	if in.Currency != "" {
		existing.Currency = in.Currency
	}
	existing.AutoApprove = in.AutoApprove
	if in.PaymentMethodID != "" {
		existing.PaymentMethodID = in.PaymentMethodID
	}
	existing.ShippingAddressID = in.ShippingAddressID
	existing.AddressSource = in.AddressSource
	existing.Criteria = in.Criteria
	existing.NotifyEnabled = in.NotifyEnabled
	existing.NotifyOffsets = in.NotifyOffsets

	if methodChanged {
		existing.PaymentSticky = ""
		existing.PaymentStickyMethodID = ""
	}
	if err := existing.Validate(); err != nil {
		return nil, err
	}
	if err := repo.SaveRule(ctx, s.DB, existing); err != nil {
		return nil, err
	}
	if methodChanged {
		if err := s.rearmSuspended(ctx, existing.ID); err != nil {
			return nil, err
		}
	}
	return existing, nil
}

// rearmSuspended schedules an immediate retry for every execution parked on a
// declined charge under this rule.
func (s *RuleService) rearmSuspended(ctx context.Context, ruleID string) error {
	suspended, err := repo.ListSuspendedByRule(ctx, s.DB, ruleID)
	if err != nil {
		return err
	}
	now := s.now()
	for i := range suspended {
		if err := repo.ScheduleRetry(ctx, s.DB, suspended[i].ID, now); err != nil {
			return err
		}
	}
	return nil
}

// Deactivate soft-retires a rule. In-flight executions run to completion.
func (s *RuleService) Deactivate(ctx context.Context, userID, id string) error {
	err := repo.DeactivateRule(ctx, s.DB, id, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrRuleNotFound
	}
	return err
}
