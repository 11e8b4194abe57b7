package search

import (
	"context"
	"log"
	"strings"

	"github.com/deepcounsel/deepcounsel/config"
	"github.com/deepcounsel/deepcounsel/internal/retry"
	"github.com/deepcounsel/deepcounsel/internal/tokens"
)

// Query is one tiered search request from a workflow step.
type Query struct {
	Tier         Tier
	Text         string
	Jurisdiction string // optional qualifier appended to the provider query
	MaxResults   int    // 0 means the tier default; always clamped to MaxResultsCap
}

// Tool applies tier budgets and domain policy on top of a Searcher.
// Provider failures are absorbed: after the retry policy is exhausted the
// caller gets an empty degraded Response, never an error.
type Tool struct {
	searcher Searcher
	policy   config.DomainPolicyConfig
	retry    retry.Policy
	est      tokens.Estimator
	logger   *log.Logger
}

// NewTool wires a Searcher with a domain policy. The policy is normalized
// once here; logger may be nil.
func NewTool(searcher Searcher, policy config.DomainPolicyConfig, logger *log.Logger) *Tool {
	if logger == nil {
		logger = log.New(log.Writer(), "[SEARCH] ", log.LstdFlags)
	}
	return &Tool{
		searcher: searcher,
		policy:   policy.Normalize(),
		retry:    retry.Default(),
		est:      tokens.Estimator{},
		logger:   logger,
	}
}

// Run executes one tiered search. The returned Response always carries a
// token estimate; Degraded marks a provider failure that was absorbed.
func (t *Tool) Run(ctx context.Context, q Query) Response {
	spec, ok := tierSpecs[q.Tier]
	if !ok {
		t.logger.Printf("unknown search tier %q, using standard", q.Tier)
		spec = tierSpecs[TierStandard]
	}
	limit := q.MaxResults
	if limit <= 0 {
		limit = spec.maxResults
	}
	if limit > MaxResultsCap {
		limit = MaxResultsCap
	}

	req := Request{
		Query:             t.providerQuery(q),
		MaxResults:        limit,
		Depth:             spec.depth,
		IncludeAnswer:     spec.includeAnswer,
		IncludeRawContent: spec.rawContent,
	}
	switch t.policy.Mode {
	case config.DomainModeStrict:
		req.IncludeDomains = t.policy.Allow
	default:
		req.ExcludeDomains = t.policy.Block
	}

	var resp Response
	err := t.retry.Do(ctx, func(ctx context.Context) error {
		var serr error
		resp, serr = t.searcher.Search(ctx, req)
		return serr
	})
	if err != nil {
		t.logger.Printf("search degraded (tier=%s): %v", q.Tier, err)
		return Response{Degraded: true}
	}

	resp.Results = t.applyPolicy(resp.Results)
	if len(resp.Results) > limit {
		resp.Results = resp.Results[:limit]
	}
	resp.Tokens = t.estimate(resp)
	return resp
}

func (t *Tool) providerQuery(q Query) string {
	if q.Jurisdiction == "" {
		return q.Text
	}
	return strings.TrimSpace(q.Text + " " + q.Jurisdiction)
}

// applyPolicy drops block-listed hits the provider let through and, in
// prioritized mode, moves allow-listed sources to the front without
// reordering within each group.
func (t *Tool) applyPolicy(results []Result) []Result {
	kept := results[:0:0]
	for _, r := range results {
		if t.policy.Blocked(r.URL) {
			continue
		}
		kept = append(kept, r)
	}
	if t.policy.Mode != config.DomainModePrioritized || len(kept) < 2 {
		return kept
	}
	preferred := make([]Result, 0, len(kept))
	rest := make([]Result, 0, len(kept))
	for _, r := range kept {
		if t.policy.Allowed(r.URL) {
			preferred = append(preferred, r)
		} else {
			rest = append(rest, r)
		}
	}
	return append(preferred, rest...)
}

// estimate weighs the answer plus concatenated result content at the
// configured characters-per-token ratio. An approximation, not a
// tokenizer count.
func (t *Tool) estimate(resp Response) int {
	total := t.est.Estimate(resp.Answer)
	for _, r := range resp.Results {
		total += t.est.Estimate(r.Content)
	}
	return total
}
