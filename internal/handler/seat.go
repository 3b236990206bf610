package handler

// seat.go maps the seating state machine's typed results onto HTTP.  Seat
// writes never hold the context lock; conflicts surface as 409s the client
// resolves by refreshing and retrying with the new expected value.

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cohort-seat-sync/internal/seating"
)

// SetSeat handles PUT /v1/meetings/:id/seat.  Students may only change
// their own seat inside the edit window; instructors and admins edit any
// seat at any time.  The expected field carries the seat value the client
// last saw, enabling first-writer-wins conflict detection.
func (h *Handler) SetSeat(c echo.Context) error {
	id := pathID(c, "id")
	if id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid meeting id"})
	}
	var body struct {
		NetID    string `json:"netid"`
		Seat     string `json:"seat"`
		Expected string `json:"expected"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	body.Seat = strings.TrimSpace(body.Seat)
	if body.Seat == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seat is required"})
	}
	priv := privileged(c)
	netID := body.NetID
	if netID == "" || !priv {
		// Non-privileged callers always act on their own seat.
		netID = actor(c)
	}

	res, err := h.Svc.SetSeat(c.Request().Context(), actor(c), id, netID, body.Seat, body.Expected, priv)
	if err != nil {
		return fail(c, err)
	}
	switch res {
	case seating.ResultOK:
		return c.JSON(http.StatusOK, echo.Map{"result": res, "seat": body.Seat})
	case seating.ResultEditClosed:
		return c.JSON(http.StatusForbidden, echo.Map{"result": res, "error": "seat edit window closed"})
	case seating.ResultSeatTaken:
		return c.JSON(http.StatusConflict, echo.Map{"result": res, "error": "seat already taken"})
	case seating.ResultConcurrentUpdate:
		return c.JSON(http.StatusConflict, echo.Map{"result": res, "error": "seat changed since last read"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}

// ClearSeat handles DELETE /v1/meetings/:id/seat.
func (h *Handler) ClearSeat(c echo.Context) error {
	id := pathID(c, "id")
	if id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid meeting id"})
	}
	netID := actor(c)
	if privileged(c) {
		if q := c.QueryParam("netid"); q != "" {
			netID = q
		}
	}
	if err := h.Svc.ClearSeat(c.Request().Context(), actor(c), id, netID); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
