package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/deepcounsel/deepcounsel/internal/budget"
	"github.com/deepcounsel/deepcounsel/internal/ledger"
	"github.com/deepcounsel/deepcounsel/internal/research"
)

// Researcher runs one research request. Satisfied by *research.Engine.
type Researcher interface {
	Research(ctx context.Context, req research.Request) (research.Response, error)
}

// ResearchHandler serves the research endpoint.
type ResearchHandler struct {
	Engine Researcher
}

// Register mounts the handler on the API group.
func (h *ResearchHandler) Register(g *echo.Group) {
	g.POST("/research", h.research)
}

type researchResponse struct {
	Response string           `json:"response"`
	Sources  []sourceResponse `json:"sources"`
	Metadata researchMetadata `json:"metadata"`
}

type sourceResponse struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type researchMetadata struct {
	Tier          string       `json:"tier"`
	Workflow      string       `json:"workflow"`
	TokensUsed    int          `json:"tokens_used"`
	GroundingRate float64      `json:"grounding_rate"`
	RunID         string       `json:"run_id"`
	Fallback      bool         `json:"fallback,omitempty"`
	Usage         usagePayload `json:"usage"`
}

type usagePayload struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

type errorResponse struct {
	Error string        `json:"error"`
	Code  string        `json:"code"`
	Usage *usagePayload `json:"usage,omitempty"`
}

func (h *ResearchHandler) research(c echo.Context) error {
	var req research.Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request body", Code: "invalid_request"})
	}

	resp, err := h.Engine.Research(c.Request().Context(), req)
	if err != nil {
		return writeResearchError(c, err)
	}

	sources := make([]sourceResponse, 0, len(resp.Sources))
	for _, s := range resp.Sources {
		sources = append(sources, sourceResponse{Title: s.Title, URL: s.URL})
	}
	return c.JSON(http.StatusOK, researchResponse{
		Response: resp.Answer,
		Sources:  sources,
		Metadata: researchMetadata{
			Tier:          resp.Tier,
			Workflow:      resp.Workflow,
			TokensUsed:    resp.TokensUsed,
			GroundingRate: resp.GroundingRate,
			RunID:         resp.RunID,
			Fallback:      resp.Fallback,
			Usage:         usagePayload{Used: resp.Usage.Used, Limit: resp.Usage.Limit},
		},
	})
}

// writeResearchError maps the engine's typed conditions onto status
// codes. Rate and budget exhaustion share 429 but carry distinct codes:
// the remediation differs (wait for the day to roll vs. spend less).
func writeResearchError(c echo.Context, err error) error {
	var vErr research.ErrValidation
	if errors.As(err, &vErr) {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: vErr.Error(), Code: "invalid_request"})
	}

	var rlErr ledger.ErrRateLimited
	if errors.As(err, &rlErr) {
		return c.JSON(http.StatusTooManyRequests, errorResponse{
			Error: rlErr.Error(),
			Code:  "rate_limited",
			Usage: &usagePayload{Used: rlErr.Used, Limit: rlErr.Limit},
		})
	}

	var bErr budget.ErrExceeded
	if errors.As(err, &bErr) {
		return c.JSON(http.StatusTooManyRequests, errorResponse{Error: bErr.Error(), Code: "budget_exceeded"})
	}

	return echo.NewHTTPError(http.StatusInternalServerError, "research failed")
}
