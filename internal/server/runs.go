package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/deepcounsel/deepcounsel/internal/store"
)

const defaultRunsLimit = 20

// RunsHandler serves a user's recent research runs.
type RunsHandler struct {
	Store *store.Store
}

// Register mounts the handler on the API group.
func (h *RunsHandler) Register(g *echo.Group) {
	g.GET("/runs/:user_id", h.list)
}

type runResponse struct {
	ID            string            `json:"id"`
	Query         string            `json:"query"`
	Tier          string            `json:"tier"`
	Workflow      string            `json:"workflow"`
	Status        string            `json:"status"`
	Sources       []store.SourceRef `json:"sources"`
	TokensUsed    int               `json:"tokens_used"`
	GroundingRate float64           `json:"grounding_rate"`
	DurationMs    int64             `json:"duration_ms"`
	CreatedAt     time.Time         `json:"created_at"`
}

func (h *RunsHandler) list(c echo.Context) error {
	userID := c.Param("user_id")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "user_id is required", Code: "invalid_request"})
	}
	limit := defaultRunsLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer", Code: "invalid_request"})
		}
		limit = n
	}

	recs, err := h.Store.ListRunsByUser(c.Request().Context(), userID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "run listing failed")
	}

	out := make([]runResponse, 0, len(recs))
	for _, r := range recs {
		out = append(out, runResponse{
			ID:            r.ID,
			Query:         r.Query,
			Tier:          r.Tier,
			Workflow:      r.Workflow,
			Status:        r.Status,
			Sources:       r.Sources,
			TokensUsed:    r.TokensUsed,
			GroundingRate: r.GroundingRate,
			DurationMs:    r.DurationMs,
			CreatedAt:     r.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"runs": out})
}
