// Package handlers provides HTTP handler implementations for the public API.
//
// This file holds the shared response helpers. Every endpoint, including the
// router's NoRoute/NoMethod fallbacks, answers failures with the same envelope:
//
//	HTTP/1.1 409 Conflict
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "invalid_status",
//	  "message": "execution is not awaiting approval"
//	}
//
// The code field is one of the stable constants in errors.go; clients branch
// on it, never on the message text.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/giftflow/go-autogift-backend/internal/http/middleware"
)

// ErrorResponse is the error envelope returned by all endpoints. RequestID is
// echoed from the X-Request-ID response header so a client-reported error can
// be matched to server logs.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"rule not found"`
}

// fail aborts the request with the standard envelope. Server-side failures
// (>= 500) are additionally logged through the request-scoped logger so they
// carry the request fields; 4xx outcomes are the caller's mistake and only
// show up in the access log.
func fail(c *gin.Context, status int, code, msg string) {
	reqID := c.Writer.Header().Get("X-Request-ID")

	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: reqID,
		Code:      code,
		Message:   msg,
	})
}

// Fail exposes fail to the router package for its NoRoute/NoMethod handlers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes body as JSON with the given status.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent writes 204 with an empty body.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
