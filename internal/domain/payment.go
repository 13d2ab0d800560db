package domain

import (
	"time"

	"gorm.io/gorm"
)

// PaymentMethod is the locally stored reference to a tokenized card or
// wallet. Charge mechanics live with the external payment gateway; this
// record only carries what health classification needs (expiry) plus display
// metadata.
type PaymentMethod struct {
	ID       string `json:"id"        gorm:"type:char(36);primaryKey"`
	UserID   string `json:"user_id"   gorm:"type:varchar(64);not null;index"`
	Label    string `json:"label"     gorm:"type:varchar(64)"`
	Brand    string `json:"brand"     gorm:"type:varchar(32)"`
	Last4    string `json:"last4"     gorm:"type:char(4)"`
	ExpMonth int    `json:"exp_month" gorm:"not null"`
	ExpYear  int    `json:"exp_year"  gorm:"not null"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name for PaymentMethod.
func (PaymentMethod) TableName() string { return "payment_methods" }

// ExpiresAt returns the instant the card stops being valid: the first moment
// after the last day of the expiry month, in UTC.
func (m *PaymentMethod) ExpiresAt() time.Time {
	// First day of the month after expiry.
	return time.Date(m.ExpYear, time.Month(m.ExpMonth)+1, 1, 0, 0, 0, 0, time.UTC)
}

// PaymentHealthStatus classifies whether a stored payment method is safe to
// charge automatically.
type PaymentHealthStatus string

const (
	PaymentValid        PaymentHealthStatus = "valid"
	PaymentExpiringSoon PaymentHealthStatus = "expiring_soon"
	PaymentExpired      PaymentHealthStatus = "expired"
	PaymentInvalid      PaymentHealthStatus = "invalid"
	PaymentDetached     PaymentHealthStatus = "detached"
)

// PaymentMethodHealth is the derived, never-persisted read model returned by
// the health summary: classification plus how many active rules reference the
// method.
type PaymentMethodHealth struct {
	PaymentMethodID string              `json:"payment_method_id"`
	Label           string              `json:"label,omitempty"`
	Brand           string              `json:"brand,omitempty"`
	Last4           string              `json:"last4,omitempty"`
	Status          PaymentHealthStatus `json:"status"`
	RulesCount      int64               `json:"rules_count"`
	LastVerified    time.Time           `json:"last_verified"`
}
