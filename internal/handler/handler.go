package handler // handler contains the HTTP handlers for the roster API

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cohort-seat-sync/internal/model"
	"github.com/iliyamo/cohort-seat-sync/internal/repository"
	"github.com/iliyamo/cohort-seat-sync/internal/service"
)

// Handler exposes the service layer over HTTP.  One instance serves all
// routes; it carries no per-request state.
type Handler struct {
	Svc *service.Service
}

// New constructs a Handler around the given service.
func New(svc *service.Service) *Handler {
	return &Handler{Svc: svc}
}

// Health is a liveness endpoint for load balancers and monitors.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// actor returns the authenticated caller's net ID for audit attribution.
func actor(c echo.Context) string {
	if v, ok := c.Get("net_id").(string); ok && v != "" {
		return v
	}
	return "unknown"
}

// privileged reports whether the caller may bypass seat edit restrictions.
func privileged(c echo.Context) bool {
	role, _ := c.Get("role").(string)
	return role == model.RoleInstructor || role == model.RoleAdmin
}

// pathID parses a numeric path parameter, returning 0 when malformed.
func pathID(c echo.Context, name string) uint64 {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// fail maps service errors onto HTTP status codes.  Unrecognized errors
// become opaque 500s so internal details never leak to clients.
func fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, service.ErrBusy):
		return c.JSON(http.StatusConflict, echo.Map{"error": "context busy, retry later"})
	case errors.Is(err, service.ErrNotEligible):
		return c.JSON(http.StatusConflict, echo.Map{"error": "section not eligible for splitting"})
	case errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "conflicting state"})
	default:
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
