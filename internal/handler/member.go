package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cohort-seat-sync/internal/model"
)

// AddMember handles POST /v1/sections/:id/members.  The member is placed
// in the smallest cohort and marked manual so roster reconciliation will
// not drop them while they stay active in the context.
func (h *Handler) AddMember(c echo.Context) error {
	id := pathID(c, "id")
	if id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid section id"})
	}
	var body struct {
		NetID    string `json:"netid"`
		Role     string `json:"role"`
		Location string `json:"location"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	body.NetID = strings.TrimSpace(body.NetID)
	if body.NetID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "netid is required"})
	}
	switch body.Role {
	case "":
		body.Role = model.RoleStudent
	case model.RoleStudent, model.RoleTA, model.RoleInstructor:
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown role"})
	}
	m, err := h.Svc.AddMember(c.Request().Context(), actor(c), id, body.NetID, body.Role, body.Location)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, m)
}

// RemoveMember handles DELETE /v1/members/:id.
func (h *Handler) RemoveMember(c echo.Context) error {
	id := pathID(c, "id")
	if id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid member id"})
	}
	if err := h.Svc.RemoveMember(c.Request().Context(), actor(c), id); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// TransferMember handles POST /v1/members/:id/transfer and moves the
// member to another cohort of the same section.
func (h *Handler) TransferMember(c echo.Context) error {
	id := pathID(c, "id")
	if id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid member id"})
	}
	var body struct {
		GroupID uint64 `json:"group_id"`
	}
	if err := c.Bind(&body); err != nil || body.GroupID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "group_id is required"})
	}
	if err := h.Svc.TransferMember(c.Request().Context(), actor(c), id, body.GroupID); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "transferred", "group_id": body.GroupID})
}
