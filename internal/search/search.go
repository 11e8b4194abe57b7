// Package search wraps the external web-search provider in fixed tier
// configurations with domain policy, result capping, and graceful
// degradation on provider failure.
package search

import "context"

// Search depths understood by the provider.
const (
	DepthBasic    = "basic"
	DepthAdvanced = "advanced"
)

// Result is one raw search hit as returned by the provider. Raw results
// are owned by the workflow run that fetched them and are what citation
// verification checks against.
type Result struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"published_date,omitempty"`
}

// Request is the provider-facing call shape.
type Request struct {
	Query             string
	MaxResults        int
	Depth             string
	IncludeAnswer     bool
	IncludeRawContent bool
	IncludeDomains    []string
	ExcludeDomains    []string
}

// Response carries the provider answer, the raw results, and the
// approximate token weight of both. Degraded marks a response produced
// after provider failure: empty, zero tokens, still a valid outcome.
type Response struct {
	Answer   string   `json:"answer,omitempty"`
	Results  []Result `json:"results"`
	Tokens   int      `json:"tokens"`
	Degraded bool     `json:"degraded,omitempty"`
}

// Searcher is the outbound search provider boundary.
type Searcher interface {
	Search(ctx context.Context, req Request) (Response, error)
}
