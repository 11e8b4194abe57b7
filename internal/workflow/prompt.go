package workflow

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/deepcounsel/deepcounsel/internal/extract"
	"github.com/deepcounsel/deepcounsel/internal/search"
)

// SystemPrompt frames every generation call in the research workflows.
const SystemPrompt = `You are DeepCounsel, a legal research assistant specialising in the law of Zimbabwe.

Answer strictly from the numbered sources supplied with each question, citing the ones you rely on by their [S#] labels. Give statutory references with their chapter numbers (for example, Labour Act [Chapter 28:01]) and case references with their neutral citations when a source provides them. Where the sources do not cover part of the question, say so plainly instead of speculating. You provide legal information, not legal advice.`

const (
	promptExcerptChars   = 1200
	fallbackSnippetChars = 180
)

// SynthesisPrompt assembles the final-answer prompt: the question, the
// numbered sources, extracted page content, and the answer rules. Pure
// function over its inputs.
func SynthesisPrompt(question, jurisdiction string, results []search.Result, extractions []extract.Extraction, kind Kind) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n")
	if jurisdiction != "" {
		fmt.Fprintf(&b, "Jurisdiction: %s\n", jurisdiction)
	}

	if len(results) == 0 {
		b.WriteString("\nNo sources could be retrieved for this question. Say so, suggest how the question could be narrowed or rephrased, and do not cite any authority from memory.\n")
		return b.String()
	}

	b.WriteString("\nSources:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "\n%s\n", sourceHeading(i+1, r))
		if excerpt := clip(r.Content, promptExcerptChars); excerpt != "" {
			b.WriteString(excerpt)
			b.WriteString("\n")
		}
	}

	if block := extractedBlock(results, extractions); block != "" {
		b.WriteString(block)
	}

	b.WriteString("\nWrite the answer now.")
	if kind == KindComprehensive {
		b.WriteString(" Structure it as a research memorandum: the issues raised, the governing law, the analysis, and a short conclusion.")
	}
	b.WriteString(" Cite every proposition of law to a source above, and note anything the sources leave open.\n")
	return b.String()
}

// GapPrompt asks for the distinct sub-issues a question raises, one per
// line, for coverage checking against the run corpus.
func GapPrompt(question, jurisdiction string, max int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "List the distinct legal sub-issues that must be resolved to answer the question below. At most %d, one per line, no numbering and no commentary.\n\nQuestion: %s\n", max, strings.TrimSpace(question))
	if jurisdiction != "" {
		fmt.Fprintf(&b, "Jurisdiction: %s\n", jurisdiction)
	}
	return b.String()
}

var issueLead = regexp.MustCompile(`^(?:[-*•]+|\d+[.)])\s*`)

// parseIssues reads the model's issue list: one issue per line, bullet
// and numbering prefixes stripped, blank lines dropped.
func parseIssues(text string, max int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(issueLead.ReplaceAllString(strings.TrimSpace(line), ""))
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) >= max {
			break
		}
	}
	return out
}

// fallbackResponse is the template answer used when no provider could
// synthesize: the retrieved sources listed with short excerpts, no
// analysis claimed.
func fallbackResponse(results []search.Result) string {
	if len(results) == 0 {
		return "I could not complete the research for this question right now, and no sources were retrieved. Please try again shortly, or narrow the question."
	}
	var b strings.Builder
	b.WriteString("I could not generate a full analysis for this question right now. These sources were retrieved and may help:\n")
	for i, r := range results {
		b.WriteString("\n")
		b.WriteString(citationLine(i+1, r))
	}
	b.WriteString("\n\nPlease try again shortly for a full answer.")
	return b.String()
}

// sourceHeading renders one labelled source line:
// [S1] Title (domain, 2024-05-01) <URL>
func sourceHeading(n int, r search.Result) string {
	parts := []string{fmt.Sprintf("[S%d]", n)}
	if title := strings.TrimSpace(r.Title); title != "" {
		parts = append(parts, title)
	}
	if domain := domainOf(r.URL); domain != "" {
		meta := domain
		if d := strings.TrimSpace(r.PublishedDate); d != "" {
			meta += ", " + d
		}
		parts = append(parts, "("+meta+")")
	}
	if link := strings.TrimSpace(r.URL); link != "" {
		parts = append(parts, "<"+link+">")
	}
	return strings.Join(parts, " ")
}

// citationLine renders one source with a quoted excerpt:
// [S1] Title — "excerpt…" (domain) <URL>
func citationLine(n int, r search.Result) string {
	parts := []string{fmt.Sprintf("[S%d]", n)}
	if title := strings.TrimSpace(r.Title); title != "" {
		parts = append(parts, title)
	}
	if snippet := quoteSnippet(r.Content, fallbackSnippetChars); snippet != "" {
		parts = append(parts, "— "+snippet)
	}
	if domain := domainOf(r.URL); domain != "" {
		parts = append(parts, "("+domain+")")
	}
	if link := strings.TrimSpace(r.URL); link != "" {
		parts = append(parts, "<"+link+">")
	}
	return strings.Join(parts, " ")
}

// extractedBlock renders the extracted page content, labelled to match
// the source numbering. Failed and empty extractions are skipped.
func extractedBlock(results []search.Result, extractions []extract.Extraction) string {
	var b strings.Builder
	for _, ext := range extractions {
		if ext.Failed || strings.TrimSpace(ext.Content) == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("\nExtracted content:\n")
		}
		fmt.Fprintf(&b, "\n--- %s %s ---\n%s\n", labelFor(results, ext.URL), ext.URL, ext.Content)
	}
	return b.String()
}

// labelFor finds the source label for a URL so extracted content shares
// the numbering of its search hit.
func labelFor(results []search.Result, u string) string {
	for i, r := range results {
		if r.URL == u {
			return fmt.Sprintf("[S%d]", i+1)
		}
	}
	return "[source]"
}

// quoteSnippet collapses whitespace, truncates, and quotes an excerpt.
func quoteSnippet(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return ""
	}
	if limit > 0 && len(text) > limit {
		text = truncate(text, limit) + "…"
	}
	return `"` + text + `"`
}

// clip trims and truncates prompt excerpts, keeping line structure.
func clip(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit > 0 && len(text) > limit {
		text = truncate(text, limit) + "…"
	}
	return text
}

// truncate cuts text to at most limit bytes without splitting a rune.
func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit]
}

func domainOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimSuffix(host, ":80")
	host = strings.TrimSuffix(host, ":443")
	return strings.TrimPrefix(host, "www.")
}
