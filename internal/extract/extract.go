// Package extract pulls readable article text out of source URLs for the
// research workflows. Fetch failures are absorbed into a Failed
// extraction; only invalid input is an error.
package extract

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-shiori/go-readability"

	"github.com/deepcounsel/deepcounsel/internal/tokens"
)

const (
	DefaultTimeout  = 15 * time.Second
	DefaultMaxChars = 20000

	userAgent = "DeepCounselBot/1.0 (+https://deepcounsel.co.zw/bot)"
)

// Extraction is the readable content of one source page.
type Extraction struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`
	Tokens  int    `json:"tokens"`
	Failed  bool   `json:"failed,omitempty"`
}

// Extractor fetches one URL's readable content. Transport failures come
// back as a Failed extraction with a nil error.
type Extractor interface {
	Extract(ctx context.Context, url string) (Extraction, error)
}

// Renderer variants.
const (
	RendererHTTP     = "http"
	RendererChromedp = "chromedp"
)

// New builds the configured extractor variant. The chromedp renderer is
// for JS-heavy sites; plain HTTP covers the statute and case-law sources.
func New(renderer string, timeout time.Duration, maxChars int) (Extractor, error) {
	switch strings.ToLower(strings.TrimSpace(renderer)) {
	case "", RendererHTTP:
		return NewHTTP(timeout, maxChars), nil
	case RendererChromedp:
		return NewChrome(timeout, maxChars), nil
	default:
		return nil, fmt.Errorf("unsupported extract renderer %q", renderer)
	}
}

// readable runs readability over fetched HTML and shapes the Extraction.
func readable(rawURL, html string, maxChars int, est tokens.Estimator) Extraction {
	article, err := readability.FromReader(strings.NewReader(html), parseURL(rawURL))
	if err != nil {
		return Extraction{URL: rawURL, Failed: true}
	}
	text := strings.TrimSpace(article.TextContent)
	if maxChars > 0 && len(text) > maxChars {
		// Back off to a rune start so the cut never leaves a partial
		// UTF-8 sequence at the tail.
		cut := maxChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return Extraction{
		URL:     rawURL,
		Title:   strings.TrimSpace(article.Title),
		Content: text,
		Tokens:  est.Estimate(text),
	}
}

func parseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
