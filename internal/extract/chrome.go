package extract

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/deepcounsel/deepcounsel/internal/tokens"
)

// ChromeExtractor renders pages in headless Chrome before readability.
// Needed for the JS-heavy commercial law-report sites; substantially
// slower than the HTTP extractor.
type ChromeExtractor struct {
	timeout  time.Duration
	maxChars int
	est      tokens.Estimator
}

// NewChrome builds the headless-browser extractor.
func NewChrome(timeout time.Duration, maxChars int) *ChromeExtractor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &ChromeExtractor{timeout: timeout, maxChars: maxChars}
}

// Extract renders rawURL and extracts readable text. Render failures
// yield a Failed extraction with a nil error.
func (e *ChromeExtractor) Extract(ctx context.Context, rawURL string) (Extraction, error) {
	if strings.TrimSpace(rawURL) == "" {
		return Extraction{}, errors.New("extract: empty url")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	html, err := renderHTML(ctx, rawURL)
	if err != nil {
		return Extraction{URL: rawURL, Failed: true}, nil
	}
	return readable(rawURL, html, e.maxChars, e.est), nil
}

func renderHTML(ctx context.Context, rawURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(userAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

var _ Extractor = (*ChromeExtractor)(nil)
