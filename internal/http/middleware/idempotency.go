// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the Idempotency-Key handling for the approval routes.
// Approve and reject are unsafe POSTs that move money, so clients send a key
// and retry freely; the middleware validates the header, stashes the key, and
// consults a lookup to flag requests whose effect is already persisted. The
// handler then serves the replay from stored state. The middleware never
// caches payloads itself.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the client's dedup key.
// A client must reuse the same value when retrying one semantic operation.
const HeaderIdempotencyKey = "Idempotency-Key"

// Context keys stashed by IdempotencyValidator, read through the accessors
// below and by the rate limiter.
const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // bool: a stored result exists for this key
	ctxKeyRateBypass = "rate.bypass" // bool: skip rate limiting for this request
)

// GetIdempotencyKey returns the validated key for this request, if any.
// Handlers read it from here rather than from the raw header, so they only
// ever see keys that passed validation.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether this request duplicates an operation whose result
// is already persisted. Handlers use it to short-circuit to the stored state
// instead of re-running the approval.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures header validation. TTL expiry belongs in the
// lookup, which owns the persistence window.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. Nil selects a conservative
	// token pattern: ^[A-Za-z0-9._~\-:]+$
	Pattern *regexp.Regexp
}

// IdempotencyLookup answers whether a completed, unexpired result exists for
// (userID, executionID, key) at now. Lookup errors are treated as "no replay"
// so a flaky read never blocks a live approval.
type IdempotencyLookup func(ctx context.Context, userID, executionID, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator validates the Idempotency-Key header when present,
// stashes the key, and marks replays.
//
//   - No header: pass through untouched.
//   - Malformed key: 400 with a compact error body.
//   - Lookup hit: sets the replay and rate-bypass flags and continues; the
//     handler decides how to serve the replay.
//
// The execution id comes from the :id route param, which is where every
// idempotent route in this API carries it.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "bad_idempotency_key",
				"message": "invalid Idempotency-Key",
			})
			return
		}

		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			uid := UserID(c)
			executionID := c.Param("id")
			if exists, _ := lookup(c.Request.Context(), uid, executionID, key, time.Now().UTC()); exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}

// UserID resolves the acting user for a request: the context value set by
// upstream auth, then the X-User-ID demo header, then the demo fallback.
// Middleware and handlers must resolve identity through this one helper, or
// idempotency records would be stored and looked up under different users.
// Never touches c.Request when it is nil.
func UserID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}
