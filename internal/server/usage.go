package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/deepcounsel/deepcounsel/internal/store"
)

// UsageReader exposes the ledger's read path. Satisfied by
// *ledger.Ledger.
type UsageReader interface {
	Usage(ctx context.Context, userID string) (store.UserUsage, error)
}

// UsageHandler serves per-user quota figures.
type UsageHandler struct {
	Ledger UsageReader
}

// Register mounts the handler on the API group.
func (h *UsageHandler) Register(g *echo.Group) {
	g.GET("/usage/:user_id", h.usage)
}

type usageResponse struct {
	UserID        string    `json:"user_id"`
	Plan          string    `json:"plan"`
	DailyLimit    int       `json:"daily_limit"`
	RequestsToday int       `json:"requests_today"`
	Remaining     int       `json:"remaining"`
	LastReset     time.Time `json:"last_reset"`
}

func (h *UsageHandler) usage(c echo.Context) error {
	userID := c.Param("user_id")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "user_id is required", Code: "invalid_request"})
	}

	u, err := h.Ledger.Usage(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "usage lookup failed")
	}
	return c.JSON(http.StatusOK, usageResponse{
		UserID:        u.UserID,
		Plan:          u.Plan,
		DailyLimit:    u.DailyLimit,
		RequestsToday: u.RequestsToday,
		Remaining:     u.Remaining(),
		LastReset:     u.LastReset,
	})
}
