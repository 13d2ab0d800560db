// Package services – TriggerService
//
// The trigger evaluator turns due rules into pending executions. It is
// invoked by an external scheduler (cron, queue consumer, or the sweep CLI)
// and must be safe to invoke any number of times for the same window:
// triggering is idempotent per (rule, occasion instance), and a duplicate
// observed at creation time is resolved by cancelling the older execution,
// never the newer.
package services

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giftflow/go-autogift-backend/internal/domain"
	"github.com/giftflow/go-autogift-backend/internal/notify"
	"github.com/giftflow/go-autogift-backend/internal/repo"
)

// TriggerService scans active rules and creates executions for occasions
// falling inside the evaluation window.
type TriggerService struct {
	DB      *gorm.DB
	Emitter notify.Emitter
	Log     zerolog.Logger

	// WindowDays is how many days ahead of the occasion triggering starts.
	// Zero falls back to 3.
	WindowDays int
}

func (s *TriggerService) window() int {
	if s.WindowDays > 0 {
		return s.WindowDays
	}
	return 3
}

func (s *TriggerService) emitter() notify.Emitter {
	if s.Emitter != nil {
		return s.Emitter
	}
	return notify.NopEmitter{}
}

// DueRules returns the active rules whose next occasion falls within the
// evaluation window ending asOf+WindowDays.
func (s *TriggerService) DueRules(ctx context.Context, asOf time.Time) ([]domain.AutoGiftRule, error) {
	rules, err := repo.ListActiveRules(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	horizon := asOf.AddDate(0, 0, s.window())
	due := make([]domain.AutoGiftRule, 0, len(rules))
	for i := range rules {
		occ, ok := rules[i].NextOccurrence(asOf)
		if ok && !occ.After(horizon) {
			due = append(due, rules[i])
		}
	}
	return due, nil
}

// EvaluateAll runs one trigger pass over every due rule, then sends the
// occasion-ahead reminders that land on this pass. Per-rule failures are
// logged and skipped; one bad rule never stalls the sweep. Returns the number
// of executions created.
func (s *TriggerService) EvaluateAll(ctx context.Context, asOf time.Time) (int, error) {
	tr := otel.Tracer("services/TriggerService")
	ctx, span := tr.Start(ctx, "EvaluateAll",
		trace.WithAttributes(attribute.String("trigger.as_of", asOf.Format("2006-01-02"))),
	)
	defer span.End()

	due, err := s.DueRules(ctx, asOf)
	if err != nil {
		return 0, err
	}
	created := 0
	for i := range due {
		exec, err := s.Trigger(ctx, &due[i], asOf)
		if err != nil {
			s.Log.Error().Err(err).Str("rule_id", due[i].ID).Msg("trigger failed for rule")
			continue
		}
		if exec != nil {
			created++
		}
	}
	reminded := s.notifyUpcoming(ctx, asOf)
	span.SetAttributes(
		attribute.Int("trigger.created", created),
		attribute.Int("trigger.reminders", reminded),
	)
	return created, nil
}

// notifyUpcoming emits an occasion_ahead reminder for every active rule whose
// next occasion lands exactly one of its configured day offsets from asOf.
// Reminder offsets routinely exceed the trigger window, so this scans all
// active rules, not just the due set. One reminder per pass; the scheduler
// owns the daily cadence.
func (s *TriggerService) notifyUpcoming(ctx context.Context, asOf time.Time) int {
	rules, err := repo.ListActiveRules(ctx, s.DB)
	if err != nil {
		s.Log.Error().Err(err).Msg("reminder scan failed")
		return 0
	}
	today := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	sent := 0
	for i := range rules {
		r := &rules[i]
		if !r.NotifyEnabled {
			continue
		}
		occ, ok := r.NextOccurrence(asOf)
		if !ok {
			continue
		}
		ahead := int(occ.Sub(today).Hours() / 24)
		for _, offset := range r.NotifyOffsetDays() {
			if offset != ahead {
				continue
			}
			_ = s.emitter().Emit(ctx, notify.Event{
				Type: notify.EventOccasionAhead, UserID: r.UserID, RuleID: r.ID,
				OccasionKey: r.OccasionKey(occ), Currency: r.Currency,
				Detail: strconv.Itoa(ahead) + " days until occasion",
			})
			sent++
			break
		}
	}
	return sent
}

// Trigger creates a pending execution for the rule's next occasion. Returns
// (nil, nil) when an execution for that occasion instance already exists, so
// repeated scheduler fires are no-ops. When more than one live execution is
// found for the instance, every older one is cancelled in favor of the
// newest.
func (s *TriggerService) Trigger(ctx context.Context, rule *domain.AutoGiftRule, asOf time.Time) (*domain.Execution, error) {
	if !rule.IsActive {
		return nil, ErrRuleInactive
	}
	occ, ok := rule.NextOccurrence(asOf)
	if !ok {
		return nil, nil
	}
	key := rule.OccasionKey(occ)

	if _, err := repo.FindLiveExecution(ctx, s.DB, rule.ID, key); err == nil {
		return nil, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	exec := &domain.Execution{
		RuleID:              rule.ID,
		UserID:              rule.UserID,
		OccasionKey:         key,
		Status:              domain.StatusPending,
		Currency:            rule.Currency,
		ShippingAddressID:   rule.ShippingAddressID,
		AddressSource:       rule.AddressSource,
		AddressNeedsConfirm: rule.ShippingAddressID == "",
	}
	exec, err := repo.CreateExecution(ctx, s.DB, exec)
	if err != nil {
		return nil, err
	}
	triggersFired.Inc()

	// Self-correct any duplicate race: keep the newest live execution for
	// the instance and cancel the rest. The create above may itself be the
	// loser here, which is fine.
	if err := s.resolveDuplicates(ctx, rule.ID, key); err != nil {
		return nil, err
	}

	s.Log.Info().
		Str("rule_id", rule.ID).
		Str("execution_id", exec.ID).
		Str("occasion_key", key).
		Msg("execution created")
	return exec, nil
}

// resolveDuplicates cancels all but the newest live execution for a (rule,
// occasion instance) pair.
func (s *TriggerService) resolveDuplicates(ctx context.Context, ruleID, key string) error {
	live, err := repo.ListLiveExecutions(ctx, s.DB, ruleID, key)
	if err != nil {
		return err
	}
	if len(live) <= 1 {
		return nil
	}
	for i := 0; i < len(live)-1; i++ { // oldest first; last one survives
		older := &live[i]
		ok, err := repo.TransitionStatus(ctx, s.DB, older.ID, older.Status, domain.StatusCancelled, map[string]any{
			"status_detail": "superseded by newer execution for the same occasion",
		})
		if err != nil {
			return err
		}
		if ok {
			execTransitions.WithLabelValues(string(older.Status), string(domain.StatusCancelled)).Inc()
			s.Log.Warn().
				Str("execution_id", older.ID).
				Str("occasion_key", key).
				Msg("duplicate execution cancelled")
		}
	}
	return nil
}
