// Auto-gift rule HTTP handlers.
//
// This file exposes REST endpoints for rule resources:
//   - POST   /rules        (create)
//   - GET    /rules        (list, paginated)
//   - GET    /rules/{id}   (fetch one)
//   - PUT    /rules/{id}   (update)
//   - DELETE /rules/{id}   (deactivate)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/giftflow/go-autogift-backend/internal/domain"
	"github.com/giftflow/go-autogift-backend/internal/http/middleware"
	"github.com/giftflow/go-autogift-backend/internal/services"
	"github.com/giftflow/go-autogift-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// RuleService defines rule lifecycle operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type RuleService interface {
	// Create validates and persists a new rule owned by userID.
	Create(ctx context.Context, userID string, r *domain.AutoGiftRule) (*domain.AutoGiftRule, error)
	// Get fetches a rule that belongs to userID.
	Get(ctx context.Context, userID, id string) (*domain.AutoGiftRule, error)
	// ListPage returns a page of the user's rules and the total count.
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.AutoGiftRule, int64, error)
	// Update applies mutable fields to an existing rule.
	Update(ctx context.Context, userID, id string, in *domain.AutoGiftRule) (*domain.AutoGiftRule, error)
	// Deactivate soft-retires a rule; in-flight executions run to completion.
	Deactivate(ctx context.Context, userID, id string) error
}

// ExecutionService defines execution queries and user-driven lifecycle
// operations consumed by HTTP handlers.
type ExecutionService interface {
	// Get fetches one execution owned by userID, with its product snapshot.
	Get(ctx context.Context, userID, id string) (*domain.Execution, error)
	// ListPage returns a page of the user's executions, optionally filtered
	// by status and rule, plus the total count.
	ListPage(ctx context.Context, userID string, status domain.ExecutionStatus, ruleID string, page, pageSize int) ([]domain.Execution, int64, error)
	// Cancel marks a non-terminal execution cancelled.
	Cancel(ctx context.Context, userID, id, detail string) (*domain.Execution, error)
	// Confirm records delivery confirmation for a placed order.
	Confirm(ctx context.Context, userID, id string) (*domain.Execution, error)
}

// ApprovalService defines the approve/reject protocol for executions parked
// in pending_approval.
type ApprovalService interface {
	// ListPending returns executions awaiting a decision, oldest first.
	ListPending(ctx context.Context, userID string) ([]domain.Execution, error)
	// Approve locks in a product subset and attempts order placement.
	Approve(ctx context.Context, userID, executionID string, productIDs []string) (*domain.Execution, error)
	// Reject declines a pending approval with an optional reason.
	Reject(ctx context.Context, userID, executionID, reason string) (*domain.Execution, error)
}

// PaymentService defines payment-method storage and health reporting.
type PaymentService interface {
	// Summary classifies every stored method for the user.
	Summary(ctx context.Context, userID string) ([]domain.PaymentMethodHealth, error)
	// ListMethods returns the user's stored payment-method references.
	ListMethods(ctx context.Context, userID string) ([]domain.PaymentMethod, error)
	// AddMethod stores a new payment-method reference.
	AddMethod(ctx context.Context, userID string, m *domain.PaymentMethod) (*domain.PaymentMethod, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for rules, executions, approvals, and
// payment methods. It depends on abstract service interfaces to keep
// transport concerns separate from business logic.
type Handlers struct {
	ruleSvc    RuleService
	execSvc    ExecutionService
	apprSvc    ApprovalService
	paymentSvc PaymentService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(ruleSvc RuleService, execSvc ExecutionService, apprSvc ApprovalService, paymentSvc PaymentService) *Handlers {
	return &Handlers{ruleSvc: ruleSvc, execSvc: execSvc, apprSvc: apprSvc, paymentSvc: paymentSvc}
}

// userID resolves the authenticated user for a request. It delegates to the
// middleware helper so handlers and the idempotency middleware always agree
// on who the acting user is.
func userID(c *gin.Context) string {
	return middleware.UserID(c)
}

//
// DTOs
//

// RuleRequest is the JSON payload for creating or updating a rule.
type RuleRequest struct {
	// RecipientID references an accepted connection; exactly one of
	// RecipientID / PendingRecipientEmail must be set.
	RecipientID           string `json:"recipient_id" example:"rec-7f3a"`
	PendingRecipientEmail string `json:"pending_recipient_email" example:"alex@example.com"`

	// DateType is the occasion code (birthday, anniversary, holiday name, custom).
	DateType      string     `json:"date_type" binding:"required" example:"birthday"`
	OccasionMonth int        `json:"occasion_month" example:"6"`
	OccasionDay   int        `json:"occasion_day" example:"15"`
	ScheduledDate *time.Time `json:"scheduled_date,omitempty"`

	BudgetLimitCents int64  `json:"budget_limit_cents" example:"5000"`
	Currency         string `json:"currency" example:"USD"`
	AutoApprove      bool   `json:"auto_approve"`

	PaymentMethodID   string `json:"payment_method_id" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	ShippingAddressID string `json:"shipping_address_id"`
	AddressSource     string `json:"address_source" example:"recipient_profile"`

	Criteria domain.SelectionCriteria `json:"criteria"`

	NotifyEnabled bool   `json:"notify_enabled"`
	NotifyOffsets string `json:"notify_offsets" example:"7,3,1"`
}

func (r *RuleRequest) toDomain() *domain.AutoGiftRule {
	return &domain.AutoGiftRule{
		RecipientID:           strings.TrimSpace(r.RecipientID),
		PendingRecipientEmail: strings.TrimSpace(r.PendingRecipientEmail),
		DateType:              strings.TrimSpace(r.DateType),
		OccasionMonth:         r.OccasionMonth,
		OccasionDay:           r.OccasionDay,
		ScheduledDate:         r.ScheduledDate,
		BudgetLimitCents:      r.BudgetLimitCents,
		Currency:              strings.ToUpper(strings.TrimSpace(r.Currency)),
		AutoApprove:           r.AutoApprove,
		PaymentMethodID:       strings.TrimSpace(r.PaymentMethodID),
		ShippingAddressID:     strings.TrimSpace(r.ShippingAddressID),
		AddressSource:         strings.TrimSpace(r.AddressSource),
		Criteria:              r.Criteria,
		NotifyEnabled:         r.NotifyEnabled,
		NotifyOffsets:         strings.TrimSpace(r.NotifyOffsets),
	}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListRulesResponse wraps a page of rules and pagination information.
type ListRulesResponse struct {
	Rules      []domain.AutoGiftRule `json:"rules"`
	Pagination Pagination            `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// paginate computes the response metadata for one page.
func paginate(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// ruleErrStatus maps rule validation errors onto HTTP status + code.
func ruleErrStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrRuleNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, services.ErrMissingPaymentMethod):
		return http.StatusBadRequest, ErrCodePaymentMethod
	case errors.Is(err, domain.ErrRuleTarget),
		errors.Is(err, domain.ErrUnknownSelectionSource),
		errors.Is(err, domain.ErrMissingSpecificProduct):
		return http.StatusBadRequest, ErrCodeBadRequest
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

//
// Handlers
//

// CreateRule godoc
// @ID          createRule
// @Summary     Create an auto-gift rule
// @Description Creates a standing gift instruction for the current user and returns the rule resource.
// @Tags        Rules
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.RuleRequest  true  "Create rule payload"
//
// @Success     201  {object}  domain.AutoGiftRule
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /rules [post]
func (h *Handlers) CreateRule(c *gin.Context) {
	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	rule, err := h.ruleSvc.Create(c.Request.Context(), userID(c), req.toDomain())
	if err != nil {
		status, code := ruleErrStatus(err)
		if status == http.StatusInternalServerError {
			code = ErrCodeCreateFailed
		}
		fail(c, status, code, err.Error())
		return
	}
	ok(c, http.StatusCreated, rule)
}

// ListRules godoc
// @ID          listRules
// @Summary     List rules (paginated)
// @Description Returns a page of the user's auto-gift rules.
// @Tags        Rules
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       page       query   int     false "Page number"            minimum(1) default(1)
// @Param       page_size  query   int     false "Items per page"         minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListRulesResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /rules [get]
func (h *Handlers) ListRules(c *gin.Context) {
	page, pageSize := clampPagination(c)

	items, total, err := h.ruleSvc.ListPage(c.Request.Context(), userID(c), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListRulesResponse{Rules: items, Pagination: paginate(page, pageSize, total)})
}

// GetRule godoc
// @ID          getRule
// @Summary     Fetch one rule
// @Description Returns a rule owned by the current user.
// @Tags        Rules
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Rule ID (UUID)"         format(uuid)
//
// @Success     200  {object} domain.AutoGiftRule
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Rule not found"
// @Router      /rules/{id} [get]
func (h *Handlers) GetRule(c *gin.Context) {
	ruleID := c.Param("id")
	if _, err := uuid.Parse(ruleID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "rule id must be a UUID")
		return
	}

	rule, err := h.ruleSvc.Get(c.Request.Context(), userID(c), ruleID)
	if err != nil {
		status, code := ruleErrStatus(err)
		fail(c, status, code, "rule not found")
		return
	}
	ok(c, http.StatusOK, rule)
}

// UpdateRule godoc
// @ID          updateRule
// @Summary     Update a rule
// @Description Replaces the mutable fields of a rule owned by the current user.
// @Description Replacing the payment method clears any sticky payment annotation and
// @Description re-arms executions suspended on a declined charge.
// @Tags        Rules
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Rule ID (UUID)"         format(uuid)
// @Param       body       body    handlers.RuleRequest  true  "Updated rule payload"
//
// @Success     200  {object} domain.AutoGiftRule
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Rule not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /rules/{id} [put]
func (h *Handlers) UpdateRule(c *gin.Context) {
	ruleID := c.Param("id")
	if _, err := uuid.Parse(ruleID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "rule id must be a UUID")
		return
	}

	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	rule, err := h.ruleSvc.Update(c.Request.Context(), userID(c), ruleID, req.toDomain())
	if err != nil {
		status, code := ruleErrStatus(err)
		fail(c, status, code, err.Error())
		return
	}
	ok(c, http.StatusOK, rule)
}

// DeleteRule godoc
// @ID          deleteRule
// @Summary     Deactivate a rule
// @Description Soft-retires a rule. Executions already in flight run to completion.
// @Tags        Rules
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Rule ID (UUID)"         format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Rule not found"
// @Router      /rules/{id} [delete]
func (h *Handlers) DeleteRule(c *gin.Context) {
	ruleID := c.Param("id")
	if _, err := uuid.Parse(ruleID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "rule id must be a UUID")
		return
	}

	if err := h.ruleSvc.Deactivate(c.Request.Context(), userID(c), ruleID); err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "rule not found")
		return
	}
	noContent(c)
}
