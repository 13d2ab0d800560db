package domain

import "errors"

// SelectionSource identifies where gift candidates come from. It is a closed
// set; the orchestrator dispatches on it exhaustively and rejects anything
// outside the four known sources at validation time.
type SelectionSource string

const (
	// SourceWishlist selects from the recipient's wishlist only.
	SourceWishlist SelectionSource = "wishlist"
	// SourceAI selects from ranked recommendations only.
	SourceAI SelectionSource = "ai"
	// SourceBoth blends wishlist items with ranked recommendations.
	SourceBoth SelectionSource = "both"
	// SourceSpecific pins the selection to one pre-chosen product.
	SourceSpecific SelectionSource = "specific"
)

// ErrUnknownSelectionSource is returned by Validate for sources outside the
// closed set above.
var ErrUnknownSelectionSource = errors.New("unknown gift selection source")

// ErrMissingSpecificProduct is returned when criteria use SourceSpecific
// without naming the product to buy.
var ErrMissingSpecificProduct = errors.New("specific selection requires a product id")

// SelectionCriteria constrains product selection for a rule. It is embedded
// into AutoGiftRule with a column prefix.
type SelectionCriteria struct {
	Source SelectionSource `json:"source"                      gorm:"type:varchar(16);not null;default:'ai'"`
	// Optional price bounds in minor currency units. Zero means unset.
	MinPriceCents int64 `json:"min_price_cents,omitempty"   gorm:"not null;default:0"`
	MaxPriceCents int64 `json:"max_price_cents,omitempty"   gorm:"not null;default:0"`
	// Categories is a comma-separated category filter (empty = no filter).
	Categories string `json:"categories,omitempty"        gorm:"type:varchar(255)"`
	// SpecificProductID is required when Source == SourceSpecific.
	SpecificProductID string `json:"specific_product_id,omitempty" gorm:"type:varchar(64)"`
}

// Validate checks the criteria for internal consistency.
func (c SelectionCriteria) Validate() error {
	switch c.Source {
	case SourceWishlist, SourceAI, SourceBoth:
	case SourceSpecific:
		if c.SpecificProductID == "" {
			return ErrMissingSpecificProduct
		}
	default:
		return ErrUnknownSelectionSource
	}
	if c.MinPriceCents < 0 || c.MaxPriceCents < 0 {
		return errors.New("price bounds must not be negative")
	}
	if c.MaxPriceCents > 0 && c.MinPriceCents > c.MaxPriceCents {
		return errors.New("min price exceeds max price")
	}
	return nil
}
