package middleware

// cache.go provides a short-lived Redis cache for read-only section
// lookups.  Section detail pages are rebuilt by the sync loop at most once
// per tick, so serving a response that is a few seconds old is acceptable
// and spares the database a join-heavy query per page load.

import (
	"bytes"
	"context"
	"crypto/sha1"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// bodyRecorder tees the response body so a successful reply can be stored.
type bodyRecorder struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (br *bodyRecorder) WriteHeader(code int) {
	br.status = code
	br.ResponseWriter.WriteHeader(code)
}

func (br *bodyRecorder) Write(b []byte) (int, error) {
	br.buf.Write(b)
	return br.ResponseWriter.Write(b)
}

// cacheKey derives the Redis key from the resolved request URL.  The raw
// path must be used, not the registered route pattern, so requests that
// differ only in path parameters never share an entry.
func cacheKey(r *http.Request) string {
	sum := sha1.Sum([]byte(strings.Join([]string{r.URL.Path, r.URL.RawQuery}, "?")))
	return fmt.Sprintf("readcache:%x", sum[:])
}

// NewReadCache caches 200 responses to GET requests for ttl.  Only the JSON
// body is stored; every response from this service is application/json, so
// headers need not be replayed.  A nil Redis client disables caching.
func NewReadCache(ttl time.Duration, rdb *redis.Client) echo.MiddlewareFunc {
	if rdb == nil || ttl <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error { return next(c) }
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			r := c.Request()
			if r.Method != http.MethodGet {
				return next(c)
			}

			key := cacheKey(r)

			if body, err := rdb.Get(r.Context(), key).Bytes(); err == nil && len(body) > 0 {
				c.Response().Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
				c.Response().Header().Set("X-Cache", "HIT")
				return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, body)
			}

			rec := &bodyRecorder{ResponseWriter: c.Response().Writer, status: http.StatusOK}
			c.Response().Writer = rec
			c.Response().Header().Set("X-Cache", "MISS")

			if err := next(c); err != nil {
				return err
			}

			if rec.status == http.StatusOK && rec.buf.Len() > 0 {
				// Detached context: the write should survive request cancellation.
				_ = rdb.SetEx(context.Background(), key, rec.buf.Bytes(), ttl).Err()
			}
			return nil
		}
	}
}
