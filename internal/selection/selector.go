// Package selection defines the product-selection capability boundary and an
// HTTP adapter for a remote selector service. The execution engine treats the
// selector as an external oracle: it hands over the rule's criteria and budget
// and receives a ranked, price-frozen candidate list back. Ranking quality is
// entirely the selector's problem.
package selection

import (
	"context"
	"errors"

	"github.com/giftflow/go-autogift-backend/internal/domain"
)

// ErrNoViableCandidates is returned when the selector cannot produce any
// candidate satisfying the criteria within the budget.
var ErrNoViableCandidates = errors.New("no viable candidates")

// Candidate is one ranked product proposal. PriceCents is authoritative at
// selection time and is frozen into the execution snapshot as-is.
type Candidate struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Currency   string `json:"currency"`
	// Reason is the selector's short human-readable justification, surfaced
	// verbatim in approval prompts.
	Reason string `json:"reason,omitempty"`
}

// Request carries everything the selector needs for one pick.
type Request struct {
	UserID      string                   `json:"user_id"`
	RecipientID string                   `json:"recipient_id,omitempty"`
	Occasion    string                   `json:"occasion"`
	BudgetCents int64                    `json:"budget_cents"`
	Currency    string                   `json:"currency"`
	Criteria    domain.SelectionCriteria `json:"criteria"`
	// MaxCandidates caps the ranked list; zero means the selector's default.
	MaxCandidates int `json:"max_candidates,omitempty"`
}

// Selector produces ranked gift candidates for a rule's occasion.
//
// Implementations must return ErrNoViableCandidates (possibly wrapped) when
// the catalog has nothing suitable, and should respect ctx cancellation.
type Selector interface {
	Select(ctx context.Context, req Request) ([]Candidate, error)
}
