package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/deepcounsel/deepcounsel/internal/retry"
	"github.com/deepcounsel/deepcounsel/internal/tokens"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head><title>Labour Act [Chapter 28:01] - section 12B</title></head>
<body>
<article>
<h1>Labour Act [Chapter 28:01]</h1>
<p>Section 12B of the Labour Act provides that an employee is unfairly dismissed
if the employer fails to show that the dismissal was carried out in terms of an
applicable employment code, or in the absence of such a code, in terms of the
model code published by the Minister.</p>
<p>An employee who is unfairly dismissed is entitled to reinstatement or to
damages in lieu of reinstatement. The quantum of damages is assessed with
reference to the period the employee would have remained in employment.</p>
<p>The Labour Court has exclusive jurisdiction over applications arising from
this section in the first instance, subject to appeal on questions of law.</p>
</article>
</body>
</html>`

func fastHTTP(timeout time.Duration, maxChars int) *HTTPExtractor {
	e := NewHTTP(timeout, maxChars)
	e.retry = retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}
	return e
}

func TestExtractReadsArticle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.Contains(ua, "DeepCounselBot") {
			t.Errorf("unexpected user agent %q", ua)
		}
		w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	got, err := fastHTTP(time.Second, 0).Extract(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Failed {
		t.Fatal("extraction marked failed for a healthy page")
	}
	if !strings.Contains(got.Content, "unfairly dismissed") {
		t.Fatalf("article text missing from content: %q", got.Content)
	}
	if !strings.Contains(got.Title, "Labour Act") {
		t.Fatalf("title = %q", got.Title)
	}
	if want := (tokens.Estimator{}).Estimate(got.Content); got.Tokens != want {
		t.Fatalf("token estimate = %d, want %d", got.Tokens, want)
	}
}

func TestExtractTruncatesLongContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	got, err := fastHTTP(time.Second, 50).Extract(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(got.Content) > 50 {
		t.Fatalf("content not truncated: %d chars", len(got.Content))
	}
}

func TestExtractTruncatesOnRuneBoundary(t *testing.T) {
	// "section § " is eleven bytes per repeat; a 53-byte cap lands on
	// the second byte of a section sign.
	html := `<!DOCTYPE html><html><head><title>Statutes</title></head><body><article><p>` +
		strings.Repeat("section § ", 40) + `</p></article></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(html))
	}))
	defer srv.Close()

	got, err := fastHTTP(time.Second, 53).Extract(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Failed || got.Content == "" {
		t.Fatalf("extraction did not produce content: %+v", got)
	}
	if !utf8.ValidString(got.Content) {
		t.Fatalf("truncation split a rune: %q", got.Content)
	}
	if len(got.Content) > 53 {
		t.Fatalf("content not truncated: %d bytes", len(got.Content))
	}
}

func TestExtractRetriesThenDegrades(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	got, err := fastHTTP(time.Second, 0).Extract(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("failed fetch must not surface an error, got %v", err)
	}
	if !got.Failed || got.Content != "" || got.Tokens != 0 {
		t.Fatalf("degraded extraction = %+v", got)
	}
	if calls != 2 {
		t.Fatalf("server called %d times, want 2 (one retry)", calls)
	}
}

func TestExtractRecoversAfterTransient(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	got, err := fastHTTP(time.Second, 0).Extract(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Failed {
		t.Fatal("retry should have recovered the fetch")
	}
	if calls != 2 {
		t.Fatalf("server called %d times, want 2", calls)
	}
}

func TestExtractDoesNotRetryNotFound(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.NotFound(w, r)
	}))
	defer srv.Close()

	got, err := fastHTTP(time.Second, 0).Extract(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !got.Failed {
		t.Fatal("404 should mark the extraction failed")
	}
	if calls != 1 {
		t.Fatalf("server called %d times, want 1 (404 is permanent)", calls)
	}
}

func TestExtractRejectsEmptyURL(t *testing.T) {
	if _, err := fastHTTP(time.Second, 0).Extract(context.Background(), "  "); err == nil {
		t.Fatal("empty url must be rejected")
	}
}

func TestNewSelectsRenderer(t *testing.T) {
	e, err := New("", 0, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := e.(*HTTPExtractor); !ok {
		t.Fatalf("default renderer = %T, want *HTTPExtractor", e)
	}

	e, err = New(RendererChromedp, 0, 0)
	if err != nil {
		t.Fatalf("New(chromedp): %v", err)
	}
	if _, ok := e.(*ChromeExtractor); !ok {
		t.Fatalf("renderer = %T, want *ChromeExtractor", e)
	}

	if _, err := New("wget", 0, 0); err == nil {
		t.Fatal("unknown renderer must be rejected")
	}
}
