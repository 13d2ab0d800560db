package domain

import (
	"time"

	"gorm.io/gorm"
)

// Execution is one concrete attempt to fulfill a rule for a specific occasion
// instance. It owns the candidate/approved product snapshot, the retry
// bookkeeping, and the resulting order reference.
//
// Invariants:
//   - At most one execution per (rule, occasion_key) is non-terminal at any
//     time; duplicates are resolved by cancelling the older execution.
//   - TotalAmountCents never exceeds the rule's budget once the status is
//     approved or beyond.
//   - The selected product set is immutable once approved; retries replay it
//     without re-running selection.
type Execution struct {
	ID          string `json:"id"           gorm:"type:char(36);primaryKey"`
	RuleID      string `json:"rule_id"      gorm:"type:char(36);not null;index:idx_rule_occasion,priority:1"`
	UserID      string `json:"user_id"      gorm:"type:varchar(64);not null;index"`
	OccasionKey string `json:"occasion_key" gorm:"type:varchar(64);not null;index:idx_rule_occasion,priority:2"`

	Status ExecutionStatus `json:"status" gorm:"type:varchar(24);not null;default:'pending';index"`
	// StatusDetail carries the human-readable reason for terminal states and
	// the "will retry" hint for order_failed.
	StatusDetail string `json:"status_detail,omitempty" gorm:"type:varchar(512)"`

	TotalAmountCents int64  `json:"total_amount_cents" gorm:"not null;default:0"`
	Currency         string `json:"currency"           gorm:"type:char(3);not null;default:'USD'"`

	RetryCount  int        `json:"retry_count"            gorm:"not null;default:0"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty" gorm:"index"`

	OrderID      string `json:"order_id,omitempty"      gorm:"type:varchar(64)"`
	ErrorMessage string `json:"error_message,omitempty" gorm:"type:varchar(512)"`

	// Shipping address snapshot: where the address came from and whether the
	// user still needs to confirm it before placement.
	ShippingAddressID   string `json:"shipping_address_id,omitempty" gorm:"type:varchar(64)"`
	AddressSource       string `json:"address_source,omitempty"      gorm:"type:varchar(32)"`
	AddressNeedsConfirm bool   `json:"address_needs_confirm"         gorm:"not null;default:false"`

	CreatedAt time.Time      `json:"created_at" gorm:"index"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`

	// Products holds the price-frozen candidate list; the approved subset is
	// marked Selected. Cascade-deleted with the execution.
	Products []ExecutionProduct `json:"products,omitempty" gorm:"foreignKey:ExecutionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`

	// Rule is the originating rule. Executions outlive deactivation of their
	// rule but not its hard deletion.
	Rule AutoGiftRule `json:"-" gorm:"foreignKey:RuleID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Execution.
func (Execution) TableName() string { return "executions" }

// ExecutionProduct is one candidate product attached to an execution, with
// its price frozen at selection time. Prices are never re-fetched at order
// time.
type ExecutionProduct struct {
	ID          string `json:"id"           gorm:"type:char(36);primaryKey"`
	ExecutionID string `json:"execution_id" gorm:"type:char(36);not null;index"`
	ProductID   string `json:"product_id"   gorm:"type:varchar(64);not null"`
	Name        string `json:"name"         gorm:"type:varchar(255);not null"`
	PriceCents  int64  `json:"price_cents"  gorm:"not null"`
	Currency    string `json:"currency"     gorm:"type:char(3);not null;default:'USD'"`
	// Rank is the selector's ranking position, lowest first.
	Rank int `json:"rank" gorm:"not null;default:0"`
	// Selected marks membership in the approved subset.
	Selected  bool      `json:"selected" gorm:"not null;default:false;index"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for ExecutionProduct.
func (ExecutionProduct) TableName() string { return "execution_products" }

// SelectedProducts returns the approved subset in rank order.
func (e *Execution) SelectedProducts() []ExecutionProduct {
	out := make([]ExecutionProduct, 0, len(e.Products))
	for _, p := range e.Products {
		if p.Selected {
			out = append(out, p)
		}
	}
	return out
}

// SelectedTotalCents sums the approved subset's frozen prices.
func (e *Execution) SelectedTotalCents() int64 {
	var total int64
	for _, p := range e.Products {
		if p.Selected {
			total += p.PriceCents
		}
	}
	return total
}
