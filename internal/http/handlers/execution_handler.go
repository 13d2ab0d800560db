// Execution HTTP handlers.
//
// This file exposes REST endpoints for execution resources:
//   - GET  /executions               (list, paginated, status/rule filters)
//   - GET  /executions/{id}          (fetch one, with product snapshot)
//   - POST /executions/{id}/cancel   (user-initiated cancellation)
//   - POST /executions/{id}/confirm  (delivery confirmation)
//
// Executions are created by the trigger evaluator and advanced by the
// orchestrator; the HTTP surface only reads them and applies the two
// user-driven transitions (cancel, confirm).
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/giftflow/go-autogift-backend/internal/domain"
	"github.com/giftflow/go-autogift-backend/internal/services"
)

//
// DTOs
//

// CancelExecutionRequest is the optional JSON payload for a cancellation.
type CancelExecutionRequest struct {
	// Reason is recorded on the execution as status detail.
	Reason string `json:"reason" example:"recipient moved abroad"`
}

// ListExecutionsResponse wraps a page of executions and pagination metadata.
type ListExecutionsResponse struct {
	Executions []domain.Execution `json:"executions"`
	Pagination Pagination         `json:"pagination"`
}

// execErrStatus maps execution service errors onto HTTP status + code.
func execErrStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrExecutionNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, services.ErrInvalidStatus):
		return http.StatusConflict, ErrCodeInvalidStatus
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

//
// Handlers
//

// ListExecutions godoc
// @ID          listExecutions
// @Summary     List executions (paginated)
// @Description Returns a page of the user's executions, optionally filtered by status and rule.
// @Tags        Executions
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       status     query   string  false "Status filter"          Enums(pending, processing, pending_approval, approved, rejected, order_placed, order_failed, completed, failed, cancelled)
// @Param       rule_id    query   string  false "Rule filter (UUID)"     format(uuid)
// @Param       page       query   int     false "Page number"            minimum(1) default(1)
// @Param       page_size  query   int     false "Items per page"         minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListExecutionsResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /executions [get]
func (h *Handlers) ListExecutions(c *gin.Context) {
	page, pageSize := clampPagination(c)
	status := domain.ExecutionStatus(strings.TrimSpace(c.Query("status")))
	ruleID := strings.TrimSpace(c.Query("rule_id"))

	items, total, err := h.execSvc.ListPage(c.Request.Context(), userID(c), status, ruleID, page, pageSize)
	if err != nil {
		if errors.Is(err, services.ErrInvalidStatus) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown status filter")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListExecutionsResponse{Executions: items, Pagination: paginate(page, pageSize, total)})
}

// GetExecution godoc
// @ID          getExecution
// @Summary     Fetch one execution
// @Description Returns an execution owned by the current user, including its candidate product snapshot.
// @Tags        Executions
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Execution ID (UUID)"    format(uuid)
//
// @Success     200  {object} domain.Execution
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Execution not found"
// @Router      /executions/{id} [get]
func (h *Handlers) GetExecution(c *gin.Context) {
	execID := c.Param("id")
	if _, err := uuid.Parse(execID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "execution id must be a UUID")
		return
	}

	exec, err := h.execSvc.Get(c.Request.Context(), userID(c), execID)
	if err != nil {
		status, code := execErrStatus(err)
		fail(c, status, code, "execution not found")
		return
	}
	ok(c, http.StatusOK, exec)
}

// CancelExecution godoc
// @ID          cancelExecution
// @Summary     Cancel an execution
// @Description Marks a non-terminal execution cancelled. Cancelling an already
// @Description cancelled execution succeeds; other terminal states conflict.
// @Tags        Executions
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Execution ID (UUID)"    format(uuid)
// @Param       body       body    handlers.CancelExecutionRequest  false "Optional cancellation reason"
//
// @Success     200  {object} domain.Execution
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Execution not found"
// @Failure     409  {object} handlers.ErrorResponse "Status does not permit cancellation"
// @Router      /executions/{id}/cancel [post]
func (h *Handlers) CancelExecution(c *gin.Context) {
	execID := c.Param("id")
	if _, err := uuid.Parse(execID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "execution id must be a UUID")
		return
	}

	var req CancelExecutionRequest
	_ = c.ShouldBindJSON(&req) // body is optional

	exec, err := h.execSvc.Cancel(c.Request.Context(), userID(c), execID, strings.TrimSpace(req.Reason))
	if err != nil {
		status, code := execErrStatus(err)
		fail(c, status, code, err.Error())
		return
	}
	ok(c, http.StatusOK, exec)
}

// ConfirmExecution godoc
// @ID          confirmExecution
// @Summary     Confirm delivery
// @Description Marks a placed order completed. Confirming an already completed
// @Description execution is a no-op and returns the current state.
// @Tags        Executions
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Execution ID (UUID)"    format(uuid)
//
// @Success     200  {object} domain.Execution
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Execution not found"
// @Failure     409  {object} handlers.ErrorResponse "Order not placed yet"
// @Router      /executions/{id}/confirm [post]
func (h *Handlers) ConfirmExecution(c *gin.Context) {
	execID := c.Param("id")
	if _, err := uuid.Parse(execID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "execution id must be a UUID")
		return
	}

	exec, err := h.execSvc.Confirm(c.Request.Context(), userID(c), execID)
	if err != nil {
		status, code := execErrStatus(err)
		fail(c, status, code, err.Error())
		return
	}
	ok(c, http.StatusOK, exec)
}
