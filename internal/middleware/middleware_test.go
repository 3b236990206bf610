package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cohort-seat-sync/internal/token"
)

const testSecret = "test-secret"

func request(t *testing.T, mw echo.MiddlewareFunc, authorization string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	h := mw(func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if err := h(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestJWTAuth(t *testing.T) {
	t.Run("rejects a missing token", func(t *testing.T) {
		rec := request(t, JWTAuth(testSecret), "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("rejects a garbage token", func(t *testing.T) {
		rec := request(t, JWTAuth(testSecret), "Bearer not.a.jwt")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("rejects a token signed with another secret", func(t *testing.T) {
		at, err := token.New("other-secret", "alice", "student", time.Hour)
		if err != nil {
			t.Fatalf("token.New failed: %v", err)
		}
		rec := request(t, JWTAuth(testSecret), "Bearer "+at.Token)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("passes a valid token and exposes the claims", func(t *testing.T) {
		at, err := token.New(testSecret, "alice", "instructor", time.Hour)
		if err != nil {
			t.Fatalf("token.New failed: %v", err)
		}
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+at.Token)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		h := JWTAuth(testSecret)(func(c echo.Context) error {
			if c.Get("net_id") != "alice" {
				t.Errorf("expected net_id alice, got %v", c.Get("net_id"))
			}
			if c.Get("role") != "instructor" {
				t.Errorf("expected role instructor, got %v", c.Get("role"))
			}
			return c.String(http.StatusOK, "ok")
		})
		if err := h(c); err != nil {
			t.Fatalf("handler failed: %v", err)
		}
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})
}

func TestCacheKey(t *testing.T) {
	get := func(target string) *http.Request {
		return httptest.NewRequest(http.MethodGet, target, nil)
	}

	t.Run("distinct path parameters get distinct keys", func(t *testing.T) {
		a := cacheKey(get("/v1/contexts/ctxA/sections/1"))
		b := cacheKey(get("/v1/contexts/ctxB/sections/99"))
		if a == b {
			t.Fatalf("two different resolved paths share key %s", a)
		}
	})

	t.Run("same url yields a stable key", func(t *testing.T) {
		a := cacheKey(get("/v1/contexts/ctxA/sections?sort=stem"))
		b := cacheKey(get("/v1/contexts/ctxA/sections?sort=stem"))
		if a != b {
			t.Fatalf("same request hashed to %s and %s", a, b)
		}
	})

	t.Run("query string participates in the key", func(t *testing.T) {
		a := cacheKey(get("/v1/contexts/ctxA/sections"))
		b := cacheKey(get("/v1/contexts/ctxA/sections?page=2"))
		if a == b {
			t.Fatalf("query-only difference collapsed into key %s", a)
		}
	})
}

func TestRequireRole(t *testing.T) {
	run := func(role string, allowed ...string) int {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		if role != "" {
			c.Set("role", role)
		}
		h := RequireRole(allowed...)(func(c echo.Context) error {
			return c.String(http.StatusOK, "ok")
		})
		_ = h(c)
		return rec.Code
	}

	t.Run("allows a listed role", func(t *testing.T) {
		if code := run("admin", "instructor", "admin"); code != http.StatusOK {
			t.Errorf("expected 200, got %d", code)
		}
	})

	t.Run("blocks an unlisted role", func(t *testing.T) {
		if code := run("student", "instructor", "admin"); code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", code)
		}
	})

	t.Run("blocks a missing role", func(t *testing.T) {
		if code := run("", "instructor"); code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", code)
		}
	})
}
