package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cohort-seat-sync/internal/reconcile"
)

// ListSections handles GET /v1/contexts/:context_id/sections.
func (h *Handler) ListSections(c echo.Context) error {
	contextID := c.Param("context_id")
	if contextID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "context_id is required"})
	}
	sections, err := h.Svc.ListSections(c.Request().Context(), contextID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"sections": sections})
}

// GetSection handles GET /v1/contexts/:context_id/sections/:id and returns
// the section with its cohorts, members and meetings expanded.
func (h *Handler) GetSection(c echo.Context) error {
	contextID := c.Param("context_id")
	id := pathID(c, "id")
	if contextID == "" || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid section reference"})
	}
	detail, err := h.Svc.GetSection(c.Request().Context(), contextID, id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, detail)
}

// SplitSection handles POST /v1/sections/:id/split.  The body selects the
// cohort count and the partition strategy.
func (h *Handler) SplitSection(c echo.Context) error {
	id := pathID(c, "id")
	if id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid section id"})
	}
	var body struct {
		GroupCount int    `json:"group_count"`
		Strategy   string `json:"strategy"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.GroupCount < 1 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "group_count must be at least 1"})
	}
	var strategy reconcile.Strategy
	switch strings.ToUpper(strings.TrimSpace(body.Strategy)) {
	case "", string(reconcile.StrategyRandom):
		strategy = reconcile.StrategyRandom
	case string(reconcile.StrategyWeighted):
		strategy = reconcile.StrategyWeighted
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown strategy"})
	}
	if err := h.Svc.SplitSection(c.Request().Context(), actor(c), id, body.GroupCount, strategy); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "split", "group_count": body.GroupCount})
}
