// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the access logger used in production.
// Requests in this API routinely carry recipient emails, phone numbers, card
// fragments, and account UUIDs in query strings and headers, so the logger
// scrubs those shapes before anything reaches the log sink. Bodies are never
// logged.
//
// Scrubbing lowers the blast radius of a leaked log stream; it does not make
// it safe to put card numbers in URLs.
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// PII patterns, applied strictest first: a UUID must be rewritten before the
// phone pattern can chew on its digit groups, and a card-shaped digit run
// before the phone pattern splits it.
var (
	piiUUIDRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	piiEmailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	piiCardRE  = regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)
	piiPhoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// redactPII rewrites identifier-shaped substrings with typed placeholders.
func redactPII(s string) string {
	if s == "" {
		return s
	}
	s = piiUUIDRE.ReplaceAllString(s, "[REDACTED:id]")
	s = piiEmailRE.ReplaceAllString(s, "[REDACTED:email]")
	s = piiCardRE.ReplaceAllString(s, "[REDACTED:pan]")
	s = piiPhoneRE.ReplaceAllString(s, "[REDACTED:phone]")
	return s
}

// RedactOptions configures RedactingLogger. MaskHeaders lists extra header
// names (case-insensitive) whose values are replaced wholesale with
// "[REDACTED]", on top of the built-in Authorization, Cookie, and Set-Cookie.
type RedactOptions struct {
	MaskHeaders []string
}

// RedactingLogger returns an access-log middleware with PII scrubbing. It
// records method, route path, scrubbed query, scrubbed headers, status, size,
// and latency, at info/warn/error depending on the response class. The
// request id is taken from the response header set by RequestID(), falling
// back to the inbound header when the middleware ran without it.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	masked := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		safeQuery := redactPII(c.Request.URL.RawQuery)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := masked[strings.ToLower(k)]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = redactPII(strings.Join(vv, ", "))
		}

		c.Next()

		status := c.Writer.Status()
		reqID := c.Writer.Header().Get("X-Request-ID")
		if reqID == "" {
			reqID = c.GetHeader("X-Request-ID")
		}

		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}

		ev.
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", safeQuery).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
