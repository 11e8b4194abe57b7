package search

import "fmt"

// Tier selects one of the fixed search configurations. Each tier trades
// latency and token weight for coverage.
type Tier string

const (
	TierQuickFact     Tier = "quick_fact"
	TierStandard      Tier = "standard"
	TierAdvanced      Tier = "advanced"
	TierComprehensive Tier = "comprehensive"
)

// MaxResultsCap is the hard ceiling on results per call, applied after
// the tier ceiling. Protects downstream token budgets regardless of what
// a caller asks for.
const MaxResultsCap = 20

type tierSpec struct {
	depth         string
	maxResults    int
	includeAnswer bool
	rawContent    bool
}

// tierSpecs is the closed tier table. Adding a tier means adding a row
// here; there is no fallthrough default.
var tierSpecs = map[Tier]tierSpec{
	TierQuickFact:     {depth: DepthBasic, maxResults: 3, includeAnswer: true},
	TierStandard:      {depth: DepthBasic, maxResults: 5, includeAnswer: true},
	TierAdvanced:      {depth: DepthAdvanced, maxResults: 7, includeAnswer: true, rawContent: true},
	TierComprehensive: {depth: DepthAdvanced, maxResults: 10, includeAnswer: true, rawContent: true},
}

// SpecFor resolves a tier to its fixed configuration.
func SpecFor(tier Tier) (depth string, maxResults int, err error) {
	spec, ok := tierSpecs[tier]
	if !ok {
		return "", 0, fmt.Errorf("unknown search tier %q", tier)
	}
	return spec.depth, spec.maxResults, nil
}
