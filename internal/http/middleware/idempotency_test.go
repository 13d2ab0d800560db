package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestIdempotencyAccessors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	if k, ok := GetIdempotencyKey(c); k != "" || ok {
		t.Fatalf("expected no key on a fresh context")
	}
	if IsReplay(c) {
		t.Fatalf("expected IsReplay=false by default")
	}

	// Wrong-typed context values read as absent, never panic.
	c.Set(ctxKeyIdemKey, 123)
	if _, ok := GetIdempotencyKey(c); ok {
		t.Fatalf("non-string key value should read as absent")
	}
	c.Set(ctxKeyIdemReplay, "yes")
	if IsReplay(c) {
		t.Fatalf("non-bool replay value should read as false")
	}
	c.Set(ctxKeyIdemReplay, true)
	if !IsReplay(c) {
		t.Fatalf("expected IsReplay=true")
	}

	if got := UserID(c); got != "demo-user" {
		t.Fatalf("expected demo-user fallback, got %q", got)
	}
	// The demo header identifies the user when no auth context is set, same
	// as the handlers resolve it.
	c.Request.Header.Set("X-User-ID", "header-user")
	if got := UserID(c); got != "header-user" {
		t.Fatalf("expected header-user, got %q", got)
	}
	c.Set("userID", "u1")
	if got := UserID(c); got != "u1" {
		t.Fatalf("auth context must outrank the header, got %q", got)
	}
	c.Set("userID", 42)
	if got := UserID(c); got != "header-user" {
		t.Fatalf("wrong-typed userID must fall back to the header, got %q", got)
	}
}

func TestIdempotencyValidator_NoHeader_PassThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	lookupCalled := false
	lookup := func(_ context.Context, _, _, _ string, _ time.Time) (bool, error) {
		lookupCalled = true
		return false, nil
	}
	r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
	r.POST("/executions/:id/approve", func(c *gin.Context) {
		if _, ok := GetIdempotencyKey(c); ok {
			t.Fatalf("no key should be stashed without the header")
		}
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/executions/e1/approve", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if lookupCalled {
		t.Fatalf("lookup must not run without a key")
	}
}

func TestIdempotencyValidator_RejectsMalformedKeys(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("over max length", func(t *testing.T) {
		r := gin.New()
		r.Use(IdempotencyValidator(IdempotencyOptions{MaxLen: 5}, nil))
		r.POST("/executions/:id/approve", func(c *gin.Context) { c.Status(http.StatusOK) })

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/executions/e1/approve", nil)
		req.Header.Set(HeaderIdempotencyKey, "abcdef")
		r.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid json: %v", err)
		}
		if body["code"] != "bad_idempotency_key" {
			t.Fatalf("unexpected body: %v", body)
		}
	})

	t.Run("custom pattern", func(t *testing.T) {
		r := gin.New()
		r.Use(IdempotencyValidator(IdempotencyOptions{Pattern: regexp.MustCompile(`^[0-9]+$`)}, nil))
		r.POST("/executions/:id/reject", func(c *gin.Context) { c.Status(http.StatusOK) })

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/executions/e1/reject", nil)
		req.Header.Set(HeaderIdempotencyKey, "abc123")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})
}

func TestIdempotencyValidator_ValidKey_NilLookup(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// Defaults: MaxLen 200, token pattern.
	r.Use(IdempotencyValidator(IdempotencyOptions{}, nil))
	r.POST("/executions/:id/approve", func(c *gin.Context) {
		key, ok := GetIdempotencyKey(c)
		if !ok || key != "approve-2026-06-12" {
			t.Fatalf("stashed key = %q ok=%v", key, ok)
		}
		if IsReplay(c) || IsRateBypass(c) {
			t.Fatalf("no replay flags expected without a lookup")
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/executions/e1/approve", nil)
	req.Header.Set(HeaderIdempotencyKey, "approve-2026-06-12")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestIdempotencyValidator_LookupMissAndHit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("miss leaves flags unset", func(t *testing.T) {
		r := gin.New()
		lookup := func(_ context.Context, userID, executionID, key string, now time.Time) (bool, error) {
			if userID != "demo-user" {
				t.Fatalf("expected demo-user fallback, got %q", userID)
			}
			if executionID != "ex42" || key != "key-1" || now.IsZero() {
				t.Fatalf("lookup args: exec=%q key=%q now=%v", executionID, key, now)
			}
			return false, nil
		}
		r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
		r.POST("/executions/:id/approve", func(c *gin.Context) {
			if IsReplay(c) || IsRateBypass(c) {
				t.Fatalf("miss must not set replay or bypass")
			}
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/executions/ex42/approve", nil)
		req.Header.Set(HeaderIdempotencyKey, "key-1")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("miss: expected 200, got %d", w.Code)
		}
	})

	t.Run("hit keyed by header identity", func(t *testing.T) {
		r := gin.New()
		lookup := func(_ context.Context, userID, executionID, key string, _ time.Time) (bool, error) {
			if userID != "header-user" {
				t.Fatalf("lookup must use the header identity, got %q", userID)
			}
			return executionID == "ex7" && key == "k-7", nil
		}
		r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
		r.POST("/executions/:id/approve", func(c *gin.Context) {
			if !IsReplay(c) {
				t.Fatalf("replay must fire for a header-identified user")
			}
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/executions/ex7/approve", nil)
		req.Header.Set("X-User-ID", "header-user")
		req.Header.Set(HeaderIdempotencyKey, "k-7")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("header hit: expected 200, got %d", w.Code)
		}
	})

	t.Run("hit marks replay and rate bypass", func(t *testing.T) {
		r := gin.New()
		r.Use(func(c *gin.Context) { c.Set("userID", "u9"); c.Next() })
		lookup := func(_ context.Context, userID, executionID, key string, _ time.Time) (bool, error) {
			if userID != "u9" || executionID != "abc" || key != "k-9" {
				t.Fatalf("lookup args: uid=%q exec=%q key=%q", userID, executionID, key)
			}
			return true, nil
		}
		r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
		r.POST("/executions/:id/approve", func(c *gin.Context) {
			if !IsReplay(c) || !IsRateBypass(c) {
				t.Fatalf("hit must set both replay and bypass flags")
			}
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/executions/abc/approve", nil)
		req.Header.Set(HeaderIdempotencyKey, "k-9")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("hit: expected 200, got %d", w.Code)
		}
	})
}
