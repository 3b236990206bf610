package router // router defines how HTTP routes are registered for the API

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/cohort-seat-sync/internal/handler"
	"github.com/iliyamo/cohort-seat-sync/internal/middleware"
	"github.com/iliyamo/cohort-seat-sync/internal/model"
)

// Options carries the cross-cutting knobs routes need at registration time.
type Options struct {
	JWTSecret string
	Redis     *redis.Client // nil disables rate limiting and read caching
	RateLimit middleware.RateLimit
	CacheTTL  time.Duration
}

// Register mounts all routes on the provided Echo instance.  The health
// check is public; everything else lives under /v1 behind JWT auth, a
// shared token bucket and role checks.  Read endpoints additionally pass
// through a short-lived Redis cache.
func Register(e *echo.Echo, h *handler.Handler, opts Options) {
	e.GET("/healthz", handler.Health)

	limit := middleware.NewTokenBucket(opts.RateLimit, opts.Redis)
	cache := middleware.NewReadCache(opts.CacheTTL, opts.Redis)

	g := e.Group("/v1", middleware.JWTAuth(opts.JWTSecret), limit)

	// ---- Read model (any authenticated role) ----
	read := g.Group("", middleware.RequireRole(
		model.RoleStudent, model.RoleTA, model.RoleInstructor, model.RoleAdmin,
	), cache)
	read.GET("/contexts/:context_id/sections", h.ListSections)
	read.GET("/contexts/:context_id/sections/:id", h.GetSection)

	// ---- Seats (students act on themselves, staff on anyone) ----
	seats := g.Group("", middleware.RequireRole(
		model.RoleStudent, model.RoleTA, model.RoleInstructor, model.RoleAdmin,
	))
	seats.PUT("/meetings/:id/seat", h.SetSeat)
	seats.DELETE("/meetings/:id/seat", h.ClearSeat)

	// ---- Cohort administration (staff only) ----
	admin := g.Group("", middleware.RequireRole(model.RoleInstructor, model.RoleAdmin))
	admin.POST("/sections/:id/split", h.SplitSection)
	admin.POST("/sections/:id/groups", h.AddGroup)
	admin.DELETE("/groups/:id", h.DeleteGroup)
	admin.POST("/sections/:id/members", h.AddMember)
	admin.DELETE("/members/:id", h.RemoveMember)
	admin.POST("/members/:id/transfer", h.TransferMember)
}
