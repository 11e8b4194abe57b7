package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/deepcounsel/deepcounsel/internal/retry"
	"github.com/deepcounsel/deepcounsel/internal/tokens"
)

// maxFetchBytes bounds how much of a page is read before readability.
const maxFetchBytes = 2 << 20

// HTTPExtractor fetches pages with a plain GET and runs readability over
// the response body.
type HTTPExtractor struct {
	client   *http.Client
	maxChars int
	retry    retry.Policy
	est      tokens.Estimator
}

// NewHTTP builds the default extractor.
func NewHTTP(timeout time.Duration, maxChars int) *HTTPExtractor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &HTTPExtractor{
		client:   &http.Client{Timeout: timeout},
		maxChars: maxChars,
		retry:    retry.Default(),
	}
}

// Extract fetches rawURL with one retry. Transport and HTTP failures
// yield a Failed extraction with a nil error.
func (e *HTTPExtractor) Extract(ctx context.Context, rawURL string) (Extraction, error) {
	if strings.TrimSpace(rawURL) == "" {
		return Extraction{}, errors.New("extract: empty url")
	}

	var html string
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml")

		resp, err := e.client.Do(req)
		if err != nil {
			return retry.Transient("fetch "+rawURL, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			io.Copy(io.Discard, resp.Body)
			return retry.Transient("fetch "+rawURL, fmt.Errorf("status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
		if err != nil {
			return retry.Transient("read "+rawURL, err)
		}
		html = string(body)
		return nil
	})
	if err != nil {
		return Extraction{URL: rawURL, Failed: true}, nil
	}
	return readable(rawURL, html, e.maxChars, e.est), nil
}

var _ Extractor = (*HTTPExtractor)(nil)
