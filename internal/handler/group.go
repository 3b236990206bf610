package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// AddGroup handles POST /v1/sections/:id/groups and appends one empty
// cohort to the section.
func (h *Handler) AddGroup(c echo.Context) error {
	id := pathID(c, "id")
	if id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid section id"})
	}
	var body struct {
		Description string `json:"description"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	g, err := h.Svc.AddGroup(c.Request().Context(), actor(c), id, body.Description)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, g)
}

// DeleteGroup handles DELETE /v1/groups/:id.  Members are redistributed
// into the remaining cohorts; the last cohort of a section cannot be
// deleted and yields 409.
func (h *Handler) DeleteGroup(c echo.Context) error {
	id := pathID(c, "id")
	if id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid group id"})
	}
	if err := h.Svc.DeleteGroup(c.Request().Context(), actor(c), id); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
