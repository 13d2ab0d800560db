package domain

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Occasion date types. DateType is free-form for named holidays ("christmas",
// "mothers-day", ...); the constants below are the ones with special handling.
const (
	DateTypeBirthday    = "birthday"
	DateTypeAnniversary = "anniversary"
	DateTypeCustom      = "custom"
)

// Sticky payment annotations recorded on a rule after a payment-related
// placement failure. Empty means no annotation.
const (
	PaymentStickyInvalid  = "invalid"
	PaymentStickyDetached = "detached"
)

// ErrRuleTarget is returned when a rule does not name exactly one of
// recipient id / pending recipient email.
var ErrRuleTarget = errors.New("rule must target exactly one of recipient_id or pending_recipient_email")

// AutoGiftRule is a standing instruction to send a gift to one recipient for
// a recurring or one-off occasion, within a budget, paid with a stored
// payment method.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - UserID: rule owner; indexed for per-user listing.
//   - RecipientID / PendingRecipientEmail: exactly one must be set. The first
//     references an accepted connection; the second an invited recipient that
//     has not connected yet.
//   - DateType: occasion code (birthday, anniversary, holiday name, custom).
//   - OccasionMonth/OccasionDay: recurrence anchor for recurring date types.
//   - ScheduledDate: explicit date for one-off occasions; overrides recurrence.
//   - BudgetLimitCents: hard spend ceiling in minor currency units (> 0).
//   - AutoApprove: allow the orchestrator to skip human approval when payment
//     health and budget checks hold.
//   - PaymentMethodID: reference into the payment-method store. The rule does
//     not own the method.
//   - PaymentSticky / PaymentStickyMethodID: sticky invalid/detached
//     annotation observed from a failed charge, plus the method it was
//     observed on. Cleared when the user replaces the method.
//   - ShippingAddressID / AddressSource: resolved shipping address reference
//     and where it came from ("recipient_profile" or "manual").
//   - Criteria: embedded gift selection criteria (criteria_* columns).
//   - NotifyEnabled / NotifyOffsets: reminder preferences; offsets is an
//     ordered comma-separated list of day offsets before the occasion.
//   - IsActive: soft retirement flag. Deactivated rules stop triggering but
//     are never hard-deleted while executions reference them.
type AutoGiftRule struct {
	ID                    string     `json:"id"                               gorm:"type:char(36);primaryKey"`
	UserID                string     `json:"user_id"                          gorm:"type:varchar(64);not null;index:idx_user_rules"`
	RecipientID           string     `json:"recipient_id,omitempty"           gorm:"type:varchar(64);index"`
	PendingRecipientEmail string     `json:"pending_recipient_email,omitempty" gorm:"type:varchar(255)"`
	DateType              string     `json:"date_type"                        gorm:"type:varchar(32);not null"`
	OccasionMonth         int        `json:"occasion_month,omitempty"         gorm:"not null;default:0"`
	OccasionDay           int        `json:"occasion_day,omitempty"           gorm:"not null;default:0"`
	ScheduledDate         *time.Time `json:"scheduled_date,omitempty"`
	BudgetLimitCents      int64      `json:"budget_limit_cents"               gorm:"not null"`
	Currency              string     `json:"currency"                         gorm:"type:char(3);not null;default:'USD'"`
	AutoApprove           bool       `json:"auto_approve"                     gorm:"not null;default:false"`
	PaymentMethodID       string     `json:"payment_method_id"                gorm:"type:char(36);not null;index"`
	PaymentSticky         string     `json:"payment_sticky,omitempty"         gorm:"type:varchar(16)"`
	PaymentStickyMethodID string     `json:"-"                                gorm:"type:char(36)"`
	ShippingAddressID     string     `json:"shipping_address_id,omitempty"    gorm:"type:varchar(64)"`
	AddressSource         string     `json:"address_source,omitempty"         gorm:"type:varchar(32)"`

	Criteria SelectionCriteria `json:"criteria" gorm:"embedded;embeddedPrefix:criteria_"`

	NotifyEnabled bool   `json:"notify_enabled" gorm:"not null;default:true"`
	NotifyOffsets string `json:"notify_offsets" gorm:"type:varchar(64)"`

	IsActive  bool           `json:"is_active" gorm:"not null;default:true;index"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"         gorm:"index"`
}

// TableName returns the database table name for AutoGiftRule.
func (AutoGiftRule) TableName() string { return "auto_gift_rules" }

// Validate enforces the cross-field invariants a rule must satisfy before it
// is persisted: exactly one target, positive budget, a payment method, and
// internally consistent selection criteria.
func (r *AutoGiftRule) Validate() error {
	hasRecipient := strings.TrimSpace(r.RecipientID) != ""
	hasEmail := strings.TrimSpace(r.PendingRecipientEmail) != ""
	if hasRecipient == hasEmail { // both or neither
		return ErrRuleTarget
	}
	if r.BudgetLimitCents <= 0 {
		return errors.New("budget limit must be positive")
	}
	if strings.TrimSpace(r.DateType) == "" {
		return errors.New("date type is required")
	}
	if r.ScheduledDate == nil && (r.OccasionMonth < 1 || r.OccasionMonth > 12 || r.OccasionDay < 1 || r.OccasionDay > 31) {
		return errors.New("recurring rules need a valid occasion month/day")
	}
	return r.Criteria.Validate()
}

// PaymentFlagged reports whether the rule carries a sticky invalid/detached
// payment annotation that still applies to its current payment method.
func (r *AutoGiftRule) PaymentFlagged() bool {
	return r.PaymentSticky != "" && r.PaymentStickyMethodID == r.PaymentMethodID
}

// NextOccurrence resolves the next concrete occasion date on or after asOf.
// One-off rules return their scheduled date (and false once it is more than a
// day in the past). Recurring rules roll the month/day anchor forward to the
// current or next year.
func (r *AutoGiftRule) NextOccurrence(asOf time.Time) (time.Time, bool) {
	day := func(t time.Time) time.Time {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	today := day(asOf)

	if r.ScheduledDate != nil {
		d := day(*r.ScheduledDate)
		if d.Before(today) {
			return time.Time{}, false
		}
		return d, true
	}
	if r.OccasionMonth < 1 || r.OccasionDay < 1 {
		return time.Time{}, false
	}
	occ := anchorDate(today.Year(), r.OccasionMonth, r.OccasionDay)
	if occ.Before(today) {
		occ = anchorDate(today.Year()+1, r.OccasionMonth, r.OccasionDay)
	}
	return occ, true
}

// anchorDate resolves a month/day anchor within a year. A day past the end of
// the month (a Feb 29 anchor outside leap years) clamps to the month's last
// day instead of normalizing into the next month, so the occasion key stays
// in the anchor month every year.
func anchorDate(year, month, day int) time.Time {
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Month() != time.Month(month) {
		d = time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC)
	}
	return d
}

// OccasionKey builds the deduplication key for one concrete occurrence of
// this rule's occasion, e.g. "birthday:2026-03-14". The trigger evaluator
// uses it to guarantee at most one live execution per occasion instance.
func (r *AutoGiftRule) OccasionKey(occurrence time.Time) string {
	return r.DateType + ":" + occurrence.UTC().Format("2006-01-02")
}

// NotifyOffsetDays parses NotifyOffsets into an ordered list of day offsets.
// Malformed entries are skipped.
func (r *AutoGiftRule) NotifyOffsetDays() []int {
	if strings.TrimSpace(r.NotifyOffsets) == "" {
		return nil
	}
	parts := strings.Split(r.NotifyOffsets, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		if n, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// EncodeNotifyOffsets renders day offsets into the stored CSV form.
func EncodeNotifyOffsets(days []int) string {
	if len(days) == 0 {
		return ""
	}
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}
