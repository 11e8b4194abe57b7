// Package tavily implements the Searcher boundary against the Tavily
// web-search API.
package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/deepcounsel/deepcounsel/internal/retry"
	"github.com/deepcounsel/deepcounsel/internal/search"
)

const defaultBaseURL = "https://api.tavily.com"

// Client talks to the Tavily /search endpoint. One call per Search; the
// retry policy lives in the calling tool.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// New builds a Client. baseURL is overridable for tests and proxies;
// timeout guards every call.
func New(apiKey, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type searchPayload struct {
	APIKey            string   `json:"api_key"`
	Query             string   `json:"query"`
	SearchDepth       string   `json:"search_depth,omitempty"`
	IncludeAnswer     bool     `json:"include_answer"`
	IncludeRawContent bool     `json:"include_raw_content"`
	MaxResults        int      `json:"max_results,omitempty"`
	IncludeDomains    []string `json:"include_domains,omitempty"`
	ExcludeDomains    []string `json:"exclude_domains,omitempty"`
}

type searchResult struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	RawContent    string  `json:"raw_content"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"published_date"`
}

// Search issues one provider call. Rate limiting and 5xx responses come
// back as transient errors so the caller's retry policy can decide.
func (c *Client) Search(ctx context.Context, req search.Request) (search.Response, error) {
	payload, err := json.Marshal(searchPayload{
		APIKey:            c.apiKey,
		Query:             req.Query,
		SearchDepth:       req.Depth,
		IncludeAnswer:     req.IncludeAnswer,
		IncludeRawContent: req.IncludeRawContent,
		MaxResults:        req.MaxResults,
		IncludeDomains:    req.IncludeDomains,
		ExcludeDomains:    req.ExcludeDomains,
	})
	if err != nil {
		return search.Response{}, fmt.Errorf("tavily: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return search.Response{}, fmt.Errorf("tavily: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return search.Response{}, retry.Transient("tavily search", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return search.Response{}, retry.Transient("tavily search", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return search.Response{}, fmt.Errorf("tavily search: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var raw struct {
		Answer  string         `json:"answer"`
		Results []searchResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return search.Response{}, fmt.Errorf("tavily search: decode response: %w", err)
	}

	out := search.Response{Answer: raw.Answer}
	for _, r := range raw.Results {
		content := r.Content
		if req.IncludeRawContent && r.RawContent != "" {
			content = r.RawContent
		}
		out.Results = append(out.Results, search.Result{
			Title:         r.Title,
			URL:           r.URL,
			Content:       content,
			Score:         r.Score,
			PublishedDate: r.PublishedDate,
		})
	}
	return out, nil
}

var _ search.Searcher = (*Client)(nil)
