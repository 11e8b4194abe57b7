package workflow

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/deepcounsel/deepcounsel/internal/extract"
	"github.com/deepcounsel/deepcounsel/internal/search"
)

func TestSynthesisPromptSections(t *testing.T) {
	t.Parallel()

	results := []search.Result{
		{
			Title:         "Labour Act [Chapter 28:01]",
			URL:           "https://www.veritaszim.net/node/5520",
			Content:       "Section 12 governs notice periods on termination of employment.",
			PublishedDate: "2023-04-12",
		},
		{
			Title:   "Nyamande v Zuva Petroleum (Pvt) Ltd [2015] ZWSC 43",
			URL:     "https://zimlii.org/zw/judgment/2015-zwsc-43",
			Content: "The Supreme Court held that employers may terminate on notice at common law.",
		},
	}
	extractions := []extract.Extraction{
		{URL: "https://zimlii.org/zw/judgment/2015-zwsc-43", Content: "Full judgment text on termination on notice.", Tokens: 11},
	}

	got := SynthesisPrompt("Can my employer dismiss me without notice?", "Zimbabwe", results, extractions, KindAdvanced)

	for _, want := range []string{
		"Question: Can my employer dismiss me without notice?",
		"Jurisdiction: Zimbabwe",
		"[S1] Labour Act [Chapter 28:01] (veritaszim.net, 2023-04-12) <https://www.veritaszim.net/node/5520>",
		"[S2] Nyamande v Zuva Petroleum (Pvt) Ltd [2015] ZWSC 43 (zimlii.org) <https://zimlii.org/zw/judgment/2015-zwsc-43>",
		"Section 12 governs notice periods",
		"Extracted content:",
		"--- [S2] https://zimlii.org/zw/judgment/2015-zwsc-43 ---",
		"Full judgment text on termination on notice.",
		"Cite every proposition of law to a source above",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("prompt missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "research memorandum") {
		t.Fatalf("advanced prompt should not ask for a memorandum")
	}
}

func TestSynthesisPromptNoSources(t *testing.T) {
	t.Parallel()

	got := SynthesisPrompt("What is the minimum wage?", "Zimbabwe", nil, nil, KindBasic)
	if !strings.Contains(got, "No sources could be retrieved") {
		t.Fatalf("expected the no-sources instruction, got:\n%s", got)
	}
	if strings.Contains(got, "Sources:") {
		t.Fatalf("no-sources prompt should not carry a sources block")
	}
}

func TestSynthesisPromptComprehensiveAsksForMemo(t *testing.T) {
	t.Parallel()

	results := []search.Result{{Title: "Companies and Other Business Entities Act", URL: "https://www.veritaszim.net/node/9000", Content: "Registration requirements."}}
	got := SynthesisPrompt("How do I register a private business corporation?", "", results, nil, KindComprehensive)
	if !strings.Contains(got, "research memorandum") {
		t.Fatalf("comprehensive prompt missing memorandum instruction:\n%s", got)
	}
}

func TestSynthesisPromptSkipsFailedExtractions(t *testing.T) {
	t.Parallel()

	results := []search.Result{{Title: "Case", URL: "https://zimlii.org/x", Content: "Holding."}}
	extractions := []extract.Extraction{
		{URL: "https://zimlii.org/x", Failed: true},
		{URL: "https://zimlii.org/y", Content: "   "},
	}
	got := SynthesisPrompt("q", "", results, extractions, KindAdvanced)
	if strings.Contains(got, "Extracted content:") {
		t.Fatalf("failed extractions should not produce an extracted block:\n%s", got)
	}
}

func TestGapPrompt(t *testing.T) {
	t.Parallel()

	got := GapPrompt("What remedies exist for unfair dismissal?", "Zimbabwe", 5)
	for _, want := range []string{"At most 5", "one per line", "Question: What remedies exist for unfair dismissal?", "Jurisdiction: Zimbabwe"} {
		if !strings.Contains(got, want) {
			t.Fatalf("gap prompt missing %q:\n%s", want, got)
		}
	}
}

func TestParseIssues(t *testing.T) {
	t.Parallel()

	text := "1. Notice requirements\n- Severance pay\n\n• Prescription periods\n2) Reinstatement\n* Damages in lieu\nConstitutional remedies"
	got := parseIssues(text, 5)
	want := []string{"Notice requirements", "Severance pay", "Prescription periods", "Reinstatement", "Damages in lieu"}
	if len(got) != len(want) {
		t.Fatalf("parseIssues returned %d issues, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("issue %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseIssuesKeepsInlineDigits(t *testing.T) {
	t.Parallel()

	got := parseIssues("48-hour detention limit under section 50", 5)
	if len(got) != 1 || got[0] != "48-hour detention limit under section 50" {
		t.Fatalf("inline digits mangled: %v", got)
	}
}

func TestFallbackResponseListsSources(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("The employer must follow the retrenchment procedure. ", 8)
	results := []search.Result{
		{Title: "Labour Act [Chapter 28:01]", URL: "https://www.veritaszim.net/node/5520", Content: long},
		{Title: "Retrenchment guide", URL: "https://zimlii.org/guide", Content: "Short note."},
	}

	got := fallbackResponse(results)
	for _, want := range []string{
		"could not generate a full analysis",
		"[S1] Labour Act [Chapter 28:01]",
		"(veritaszim.net)",
		"<https://www.veritaszim.net/node/5520>",
		`[S2] Retrenchment guide — "Short note." (zimlii.org) <https://zimlii.org/guide>`,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("fallback missing %q:\n%s", want, got)
		}
	}
	if !strings.Contains(got, "…") {
		t.Fatalf("long excerpt should be truncated with an ellipsis:\n%s", got)
	}
}

func TestFallbackResponseNoSources(t *testing.T) {
	t.Parallel()

	got := fallbackResponse(nil)
	if !strings.Contains(got, "no sources were retrieved") {
		t.Fatalf("unexpected empty fallback: %q", got)
	}
}

func TestClipKeepsRunesWhole(t *testing.T) {
	t.Parallel()

	// § is two bytes; a five-byte limit lands inside the third one.
	text := strings.Repeat("§", 10)
	got := clip(text, 5)
	if !utf8.ValidString(got) {
		t.Fatalf("clip produced invalid UTF-8: %q", got)
	}
	if want := "§§…"; got != want {
		t.Fatalf("clip = %q, want %q", got, want)
	}

	q := quoteSnippet(text, 5)
	if !utf8.ValidString(q) {
		t.Fatalf("quoteSnippet produced invalid UTF-8: %q", q)
	}
	if want := `"§§…"`; q != want {
		t.Fatalf("quoteSnippet = %q, want %q", q, want)
	}
}

func TestCitationLineLayout(t *testing.T) {
	t.Parallel()

	r := search.Result{Title: "Minimum wage notice", URL: "https://www.veritaszim.net/node/5521", Content: "SI 81 of 2024 sets the minimum wage."}
	got := citationLine(3, r)
	want := `[S3] Minimum wage notice — "SI 81 of 2024 sets the minimum wage." (veritaszim.net) <https://www.veritaszim.net/node/5521>`
	if got != want {
		t.Fatalf("citation line = %q, want %q", got, want)
	}
}
