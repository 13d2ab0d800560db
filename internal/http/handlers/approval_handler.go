// Approval HTTP handlers.
//
// This file exposes the approval gateway endpoints:
//   - GET  /approvals                 (pending decisions for the current user)
//   - POST /executions/{id}/approve   (lock in a product subset, place the order)
//   - POST /executions/{id}/reject    (decline with an optional reason)
//
// Idempotency:
// Approve and Reject are naturally idempotent at the service level (duplicate
// calls return the current execution state). Additionally, if the client
// supplies an Idempotency-Key header and a previous successful result exists
// for (user, execution, key), the handler short-circuits to the stored state
// and sets `Idempotency-Replayed: true`.
package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/giftflow/go-autogift-backend/internal/domain"
	"github.com/giftflow/go-autogift-backend/internal/http/middleware"
	"github.com/giftflow/go-autogift-backend/internal/repo"
	"github.com/giftflow/go-autogift-backend/internal/services"
)

//
// DTOs
//

// ApproveRequest is the JSON payload for approving an execution. ProductIDs
// reference rows of the execution's candidate snapshot (execution.products[].id).
type ApproveRequest struct {
	ProductIDs []string `json:"product_ids" binding:"required,min=1"`
}

// RejectRequest is the optional JSON payload for rejecting an execution.
type RejectRequest struct {
	// Reason is recorded on the execution as status detail.
	Reason string `json:"reason" example:"wrong color"`
}

// ListApprovalsResponse wraps the executions awaiting a decision.
type ListApprovalsResponse struct {
	Executions []domain.Execution `json:"executions"`
}

// approvalErrStatus maps approval protocol errors onto HTTP status + code.
func approvalErrStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrExecutionNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, services.ErrInvalidStatus):
		return http.StatusConflict, ErrCodeInvalidStatus
	case errors.Is(err, services.ErrBudgetExceeded):
		return http.StatusUnprocessableEntity, ErrCodeBudgetExceeded
	case errors.Is(err, services.ErrEmptySelection):
		return http.StatusBadRequest, ErrCodeEmptySelection
	case errors.Is(err, services.ErrUnknownProduct):
		return http.StatusUnprocessableEntity, ErrCodeUnknownProduct
	case errors.Is(err, services.ErrMissingShippingAddress):
		return http.StatusUnprocessableEntity, ErrCodeMissingAddress
	default:
		return http.StatusInternalServerError, ErrCodeApproveFailed
	}
}

// idempotencyKey reads the validated key stashed by the middleware, falling
// back to the raw header when the middleware is not installed (tests).
func idempotencyKey(c *gin.Context) string {
	if k, ok := middleware.GetIdempotencyKey(c); ok {
		return k
	}
	return strings.TrimSpace(c.GetHeader(middleware.HeaderIdempotencyKey))
}

//
// Handlers
//

// ListApprovals godoc
// @ID          listApprovals
// @Summary     List pending approvals
// @Description Returns the user's executions awaiting a decision, oldest first,
// @Description with their candidate product snapshots attached.
// @Tags        Approvals
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
//
// @Success     200  {object} handlers.ListApprovalsResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /approvals [get]
func (h *Handlers) ListApprovals(c *gin.Context) {
	items, err := h.apprSvc.ListPending(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListApprovalsResponse{Executions: items})
}

// ApproveExecution godoc
// @ID          approveExecution
// @Summary     Approve an execution
// @Description Locks in the selected product subset, moves the execution to approved,
// @Description and attempts order placement synchronously. The selection must be a
// @Description non-empty subset of the candidate snapshot within the rule's budget.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Approvals
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (demo header)"  example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"
// @Param       id               path    string  true  "Execution ID (UUID)"    format(uuid)
// @Param       body             body    handlers.ApproveRequest  true  "Selected snapshot product IDs"
//
// @Success     200  {object} domain.Execution
// @Failure     400  {object} handlers.ErrorResponse "Bad request or empty selection"
// @Failure     404  {object} handlers.ErrorResponse "Execution not found"
// @Failure     409  {object} handlers.ErrorResponse "Status does not permit approval"
// @Failure     422  {object} handlers.ErrorResponse "Budget exceeded, unknown product, or no shipping address"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /executions/{id}/approve [post]
func (h *Handlers) ApproveExecution(c *gin.Context) {
	ctx := c.Request.Context()
	execID := c.Param("id")
	if _, err := uuid.Parse(execID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "execution id must be a UUID")
		return
	}

	var req ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "product_ids required")
		return
	}

	currentUser := userID(c)

	// Idempotency (replay path): the middleware already looked the key up;
	// a flagged request means a prior approval for this key succeeded, so the
	// current execution state is the result.
	idemKey := idempotencyKey(c)
	if idemKey != "" && middleware.IsReplay(c) {
		if exec, err := h.execSvc.Get(ctx, currentUser, execID); err == nil {
			c.Header("Idempotency-Replayed", "true")
			ok(c, http.StatusOK, exec)
			return
		}
	}

	exec, err := h.apprSvc.Approve(ctx, currentUser, execID, req.ProductIDs)
	if err != nil {
		status, code := approvalErrStatus(err)
		fail(c, status, code, err.Error())
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" {
		if svc, okSvc := h.apprSvc.(*services.ApprovalService); okSvc && svc.DB != nil {
			ttl := 24 * time.Hour
			_, _ = repo.CreateIdempotency(ctx, svc.DB, currentUser, execID, idemKey, http.StatusOK, ttl)
		}
	}

	ok(c, http.StatusOK, exec)
}

// RejectExecution godoc
// @ID          rejectExecution
// @Summary     Reject an execution
// @Description Declines a pending approval. Rejecting an execution that already
// @Description reached a terminal state returns that state unchanged.
// @Tags        Approvals
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Execution ID (UUID)"    format(uuid)
// @Param       body       body    handlers.RejectRequest  false "Optional rejection reason"
//
// @Success     200  {object} domain.Execution
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Execution not found"
// @Failure     409  {object} handlers.ErrorResponse "Status does not permit rejection"
// @Router      /executions/{id}/reject [post]
func (h *Handlers) RejectExecution(c *gin.Context) {
	execID := c.Param("id")
	if _, err := uuid.Parse(execID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "execution id must be a UUID")
		return
	}

	var req RejectRequest
	_ = c.ShouldBindJSON(&req) // body is optional

	exec, err := h.apprSvc.Reject(c.Request.Context(), userID(c), execID, strings.TrimSpace(req.Reason))
	if err != nil {
		status, code := approvalErrStatus(err)
		fail(c, status, code, err.Error())
		return
	}
	ok(c, http.StatusOK, exec)
}
