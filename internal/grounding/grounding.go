// Package grounding checks a synthesized answer against the raw
// search results it was built from. Extraction is heuristic pattern
// matching over citation-shaped substrings: a missed citation is
// acceptable, a false positive is not, so every pattern demands real
// citation structure rather than bare proper nouns.
package grounding

import (
	"regexp"
	"strings"

	"github.com/deepcounsel/deepcounsel/internal/search"
)

// Citation is one citation-shaped substring found in a response.
type Citation struct {
	Text             string `json:"citation"`
	URL              string `json:"url,omitempty"`
	Verified         bool   `json:"verified"`
	MatchedSourceURL string `json:"matched_source_url,omitempty"`
}

// Report aggregates the per-citation checks for one response. It is
// advisory: callers record it and decide separately whether to warn
// or block.
type Report struct {
	Rate       float64    `json:"source_grounding_rate"`
	Verified   []Citation `json:"verified_citations"`
	Unverified []Citation `json:"unverified_citations"`
}

// Total returns the number of citations inspected.
func (r Report) Total() int { return len(r.Verified) + len(r.Unverified) }

// caseParty matches one party name in a case citation: a run of
// capitalised words with the connectors law reports actually use
// ("Minister of Justice", "Zuva Petroleum (Pvt) Ltd").
const caseParty = `\(?[A-Z][\w().&'-]*(?:\s+(?:of|and|the|t/a|\(?[A-Z][\w().&'-]*))*`

// statuteName matches the short title before "Act": capitalised words,
// "of", and parenthesised qualifiers ("Criminal Law (Codification and
// Reform)"). "and" outside parens is excluded so a list of statutes
// does not collapse into one match.
const statuteName = `(?:(?:[A-Z][\w'&-]*|of|\([A-Za-z &,-]+\))\s+)+`

var (
	// [label](https://...) links emitted by the synthesis prompt.
	markdownLink = regexp.MustCompile(`\[([^\[\]\n]+)\]\((https?://[^)\s]+)\)`)

	// Neutral citations ("Smith v Jones [2020] ZWSC 5") and report
	// series citations ("S v Ncube 1998 (2) ZLR 377 (S)").
	caseCitation = regexp.MustCompile(caseParty + `\s+v\s+` + caseParty +
		`\s+(?:\[\d{4}\]\s+[A-Z]{2,6}\s+\d+|\d{4}\s+\(\d+\)\s+ZLR\s+\d+(?:\s+\([A-Z]+\))?)`)

	// Acts cited with their chapter number ("Labour Act [Chapter 28:01]").
	statuteCitation = regexp.MustCompile(statuteName + `Act\s+\[Chapter\s+\d+:\d+\]`)

	// Statutory instruments ("SI 81 of 2024").
	instrumentCitation = regexp.MustCompile(`\b(?:SI|Statutory Instrument)\s+\d+\s+of\s+\d{4}\b`)

	// Sentence lead-ins that the leftmost-match rule drags into a
	// citation ("In Smith v Jones ...", "The Labour Act ...").
	leadWords = map[string]bool{
		"in": true, "see": true, "but": true, "and": true, "the": true,
		"as": true, "per": true, "under": true, "however": true,
		"compare": true, "following": true, "also": true,
	}
)

// trimLead strips sentence lead-in words from the front of a match as
// long as the remainder is still a citation on its own.
func trimLead(s string, pat *regexp.Regexp) string {
	for {
		parts := strings.SplitN(s, " ", 2)
		if len(parts) != 2 || !leadWords[strings.ToLower(parts[0])] {
			return s
		}
		rest := strings.TrimSpace(parts[1])
		if !pat.MatchString(rest) {
			return s
		}
		s = rest
	}
}

// Extract scans a response for citation-shaped substrings. Markdown
// links carry their URL; textual citations carry only their text.
// Duplicates (after whitespace normalisation) are reported once.
func Extract(response string) []Citation {
	var out []Citation
	seen := map[string]bool{}

	add := func(text, url string) {
		key := normalize(text)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, Citation{Text: strings.TrimSpace(text), URL: url})
	}

	for _, m := range markdownLink.FindAllStringSubmatch(response, -1) {
		add(m[1], m[2])
	}
	for _, pat := range []*regexp.Regexp{caseCitation, statuteCitation, instrumentCitation} {
		for _, m := range pat.FindAllString(response, -1) {
			add(trimLead(m, pat), "")
		}
	}
	return out
}

// Verify extracts the citations from a response and checks each one
// against the raw results the synthesis step saw. A citation counts
// as verified when its URL or its text appears in some result's
// title, URL, or content. The rate is verified/total, defined as 1.0
// for a response that cites nothing.
func Verify(response string, results []search.Result) Report {
	citations := Extract(response)
	report := Report{Rate: 1.0}
	if len(citations) == 0 {
		return report
	}

	for _, c := range citations {
		if url, ok := matchSource(c, results); ok {
			c.Verified = true
			c.MatchedSourceURL = url
			report.Verified = append(report.Verified, c)
		} else {
			report.Unverified = append(report.Unverified, c)
		}
	}
	report.Rate = float64(len(report.Verified)) / float64(len(citations))
	return report
}

func matchSource(c Citation, results []search.Result) (string, bool) {
	text := normalize(c.Text)
	url := normalizeURL(c.URL)
	for _, r := range results {
		if url != "" && (strings.Contains(normalizeURL(r.URL), url) ||
			strings.Contains(strings.ToLower(r.Content), url)) {
			return r.URL, true
		}
		if text == "" {
			continue
		}
		if strings.Contains(normalize(r.Title), text) ||
			strings.Contains(normalize(r.URL), text) ||
			strings.Contains(normalize(r.Content), text) {
			return r.URL, true
		}
	}
	return "", false
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func normalizeURL(raw string) string {
	raw = strings.TrimSpace(strings.ToLower(raw))
	raw = strings.TrimPrefix(raw, "https://")
	raw = strings.TrimPrefix(raw, "http://")
	raw = strings.TrimPrefix(raw, "www.")
	return strings.TrimSuffix(raw, "/")
}
