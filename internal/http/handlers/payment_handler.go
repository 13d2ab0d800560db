// Payment HTTP handlers.
//
// This file exposes payment-method storage and the derived health report:
//   - GET  /payment-methods   (stored references)
//   - POST /payment-methods   (store a new reference)
//   - GET  /payment-health    (per-method classification)
//
// Charging happens at the external gateway; these endpoints only manage local
// references (display metadata plus expiry) and the health read model built
// on top of them.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/giftflow/go-autogift-backend/internal/domain"
	"github.com/giftflow/go-autogift-backend/internal/services"
)

//
// DTOs
//

// CreatePaymentMethodRequest is the JSON payload for storing a payment-method
// reference.
type CreatePaymentMethodRequest struct {
	Label    string `json:"label" example:"personal visa"`
	Brand    string `json:"brand" example:"visa"`
	Last4    string `json:"last4" binding:"omitempty,len=4" example:"4242"`
	ExpMonth int    `json:"exp_month" binding:"required" example:"12"`
	ExpYear  int    `json:"exp_year" binding:"required" example:"2028"`
}

// ListPaymentMethodsResponse wraps the user's stored payment methods.
type ListPaymentMethodsResponse struct {
	PaymentMethods []domain.PaymentMethod `json:"payment_methods"`
}

// PaymentHealthResponse wraps the per-method health classification.
type PaymentHealthResponse struct {
	Methods []domain.PaymentMethodHealth `json:"methods"`
}

//
// Handlers
//

// ListPaymentMethods godoc
// @ID          listPaymentMethods
// @Summary     List stored payment methods
// @Description Returns the user's stored payment-method references, newest first.
// @Tags        Payments
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
//
// @Success     200  {object} handlers.ListPaymentMethodsResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /payment-methods [get]
func (h *Handlers) ListPaymentMethods(c *gin.Context) {
	items, err := h.paymentSvc.ListMethods(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListPaymentMethodsResponse{PaymentMethods: items})
}

// CreatePaymentMethod godoc
// @ID          createPaymentMethod
// @Summary     Store a payment method reference
// @Description Stores display metadata and expiry for a tokenized instrument.
// @Tags        Payments
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.CreatePaymentMethodRequest  true  "Payment method payload"
//
// @Success     201  {object} domain.PaymentMethod
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /payment-methods [post]
func (h *Handlers) CreatePaymentMethod(c *gin.Context) {
	var req CreatePaymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	m, err := h.paymentSvc.AddMethod(c.Request.Context(), userID(c), &domain.PaymentMethod{
		Label:    strings.TrimSpace(req.Label),
		Brand:    strings.ToLower(strings.TrimSpace(req.Brand)),
		Last4:    strings.TrimSpace(req.Last4),
		ExpMonth: req.ExpMonth,
		ExpYear:  req.ExpYear,
	})
	if err != nil {
		if errors.Is(err, services.ErrInvalidExpiry) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, m)
}

// PaymentHealth godoc
// @ID          paymentHealth
// @Summary     Payment health report
// @Description Classifies every stored payment method (valid, expiring_soon, expired,
// @Description invalid, detached) and counts the active rules referencing each.
// @Tags        Payments
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
//
// @Success     200  {object} handlers.PaymentHealthResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /payment-health [get]
func (h *Handlers) PaymentHealth(c *gin.Context) {
	methods, err := h.paymentSvc.Summary(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, PaymentHealthResponse{Methods: methods})
}
