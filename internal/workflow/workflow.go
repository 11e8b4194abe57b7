// Package workflow runs the tiered research strategies: basic search
// and synthesis, advanced with source extraction, and comprehensive
// with corpus-backed gap analysis. Every external call is gated by the
// run's budget monitor, and failures degrade the run to the best answer
// available instead of aborting it: a template fallback built from raw
// results is a valid terminal state.
package workflow

import (
	"github.com/deepcounsel/deepcounsel/internal/extract"
	"github.com/deepcounsel/deepcounsel/internal/search"
)

// Kind selects a research strategy. The simple tier's direct answer has
// no workflow; the research engine handles it without tools.
type Kind string

const (
	KindBasic         Kind = "basic"
	KindAdvanced      Kind = "advanced"
	KindComprehensive Kind = "comprehensive"
)

// Source is one distinct cited search hit, in the order sources were
// presented to the model.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Outcome is the terminal state of one workflow run. Every Sources URL
// comes from RawResults; grounding verification checks the response
// against the same RawResults slice.
type Outcome struct {
	Response          string
	Sources           []Source
	RawResults        []search.Result
	Extractions       []extract.Extraction
	ExtractionSkipped bool
	GapQueries        []string
	TotalTokens       int
	Steps             int
	Fallback          bool
	Degraded          bool
}
