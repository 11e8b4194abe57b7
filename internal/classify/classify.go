// Package classify maps a free-text legal question to a complexity tier.
//
// Classification is pure keyword/length heuristics: identical input always
// yields the identical tier. The keyword tables are tunable configuration,
// not contract; the tier set and ordering of the rules are.
package classify

import (
	"fmt"
	"strings"

	"github.com/deepcounsel/deepcounsel/internal/llm"
)

// Tier is the coarse complexity classification driving workflow selection
// and token budgets.
type Tier int

const (
	TierSimple Tier = iota
	TierLight
	TierMedium
	TierDeep
)

func (t Tier) String() string {
	switch t {
	case TierSimple:
		return "simple"
	case TierLight:
		return "light"
	case TierMedium:
		return "medium"
	case TierDeep:
		return "deep"
	default:
		return "unknown"
	}
}

// ParseTier converts a user-supplied tier name. Used for explicit tier
// overrides arriving over the API or CLI.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "simple":
		return TierSimple, nil
	case "light":
		return TierLight, nil
	case "medium":
		return TierMedium, nil
	case "deep":
		return TierDeep, nil
	default:
		return TierSimple, fmt.Errorf("unknown tier %q", s)
	}
}

// Recommended workflow identifiers carried in an Analysis. The router owns
// the authoritative mapping; these are hints mirroring the tier rules.
const (
	WorkflowDirect        = "direct"
	WorkflowBasic         = "basic"
	WorkflowAdvanced      = "advanced"
	WorkflowComprehensive = "comprehensive"
)

// Analysis is the classifier's verdict for one query. Recomputed per
// request, never persisted.
type Analysis struct {
	Tier            Tier   `json:"tier"`
	Reasoning       string `json:"reasoning"`
	EstimatedTokens int    `json:"estimated_tokens"`
	Workflow        string `json:"recommended_workflow"`
}

// Budgets holds the fixed per-tier token budget constants. These are
// configuration, not computed values.
type Budgets struct {
	Simple int
	Light  int
	Medium int
	Deep   int
}

// DefaultBudgets returns the production tier budgets.
func DefaultBudgets() Budgets {
	return Budgets{Simple: 1750, Light: 1750, Medium: 6000, Deep: 19000}
}

// ForTier returns the token budget for t. Unknown tiers get the
// simple budget.
func (b Budgets) ForTier(t Tier) int {
	switch t {
	case TierLight:
		return b.Light
	case TierMedium:
		return b.Medium
	case TierDeep:
		return b.Deep
	default:
		return b.Simple
	}
}

// Keywords holds the heuristic vocabularies. Empty slices fall back to the
// defaults below.
type Keywords struct {
	Deep          []string
	Comparison    []string
	LegalTopics   []string
	TimeSensitive []string
	Greetings     []string
}

// DefaultKeywords returns the vocabularies tuned for the Zimbabwean legal
// research corpus.
func DefaultKeywords() Keywords {
	return Keywords{
		Deep: []string{
			"comprehensive", "exhaustive", "full analysis", "in depth",
			"in-depth", "detailed memo", "memorandum", "thorough",
			"complete review", "everything about",
		},
		Comparison: []string{
			"compare", "comparison", "versus", " vs ", "vs.",
			"difference between", "distinguish", "implications",
			"analyse", "analyze", "analysis", "evaluate", "assess",
		},
		LegalTopics: []string{
			"constitutional", "constitution", "precedent", "judicial review",
			"ultra vires", "statutory interpretation", "common law",
			"customary law", "delict", "estoppel", "fiduciary",
			"jurisdiction", "arbitration", "interdict",
		},
		TimeSensitive: []string{
			"latest", "current", "recent", "recently", "today",
			"this year", "2024", "2025", "amendment", "gazette", "new law",
		},
		Greetings: []string{
			"hello", "hi", "hey", "good morning", "good afternoon",
			"good evening", "thanks", "thank you", "makadii", "mhoro",
		},
	}
}

// Word-count thresholds from the tier rules.
const (
	deepWordThreshold   = 15
	mediumWordThreshold = 6
)

// followUpMarkers open queries that lean on earlier turns for their
// subject. They only matter when history is present.
var followUpMarkers = []string{
	"what about", "how about", "what if", "and what",
	"also ", "same for", "does that",
}

// Classifier applies the ordered tier rules. The zero value uses the
// default keywords and budgets.
type Classifier struct {
	keywords Keywords
	budgets  Budgets
}

// New builds a Classifier, filling any empty keyword table or zero budget
// from the defaults.
func New(kw Keywords, budgets Budgets) *Classifier {
	def := DefaultKeywords()
	if len(kw.Deep) == 0 {
		kw.Deep = def.Deep
	}
	if len(kw.Comparison) == 0 {
		kw.Comparison = def.Comparison
	}
	if len(kw.LegalTopics) == 0 {
		kw.LegalTopics = def.LegalTopics
	}
	if len(kw.TimeSensitive) == 0 {
		kw.TimeSensitive = def.TimeSensitive
	}
	if len(kw.Greetings) == 0 {
		kw.Greetings = def.Greetings
	}
	defBudgets := DefaultBudgets()
	if budgets.Simple <= 0 {
		budgets.Simple = defBudgets.Simple
	}
	if budgets.Light <= 0 {
		budgets.Light = defBudgets.Light
	}
	if budgets.Medium <= 0 {
		budgets.Medium = defBudgets.Medium
	}
	if budgets.Deep <= 0 {
		budgets.Deep = defBudgets.Deep
	}
	return &Classifier{keywords: kw, budgets: budgets}
}

// Classify applies the ordered heuristics to query. Pure and
// deterministic: no randomness, no clock, no I/O. The history carries
// prior turns; a short follow-up that leans on them is not treated as a
// standalone factual question.
func (c *Classifier) Classify(query string, history []llm.Message) Analysis {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return c.analysis(TierSimple, WorkflowDirect, "empty query, defaulting to simple")
	}

	lower := strings.ToLower(trimmed)
	words := len(strings.Fields(lower))

	if c.isGreetingOnly(lower) {
		return c.analysis(TierSimple, WorkflowDirect, "greeting, no research needed")
	}

	if kw, ok := containsAny(lower, c.keywords.Deep); ok {
		return c.analysis(TierDeep, WorkflowComprehensive, fmt.Sprintf("comprehensive vocabulary (%q)", kw))
	}
	if words > deepWordThreshold {
		return c.analysis(TierDeep, WorkflowComprehensive, fmt.Sprintf("long query (%d words)", words))
	}

	if kw, ok := containsAny(lower, c.keywords.Comparison); ok {
		return c.analysis(TierMedium, WorkflowAdvanced, fmt.Sprintf("comparison vocabulary (%q)", kw))
	}
	if words > mediumWordThreshold {
		if kw, ok := containsAny(lower, c.keywords.LegalTopics); ok {
			return c.analysis(TierMedium, WorkflowAdvanced, fmt.Sprintf("complex legal topic (%q, %d words)", kw, words))
		}
	}

	if kw, ok := containsAny(lower, c.keywords.TimeSensitive); ok {
		return c.analysis(TierLight, WorkflowBasic, fmt.Sprintf("time-sensitive vocabulary (%q)", kw))
	}

	if len(history) > 0 && isFollowUp(lower) {
		return c.analysis(TierLight, WorkflowBasic, "follow-up to an earlier turn")
	}

	return c.analysis(TierSimple, WorkflowBasic, "short factual query")
}

func isFollowUp(lower string) bool {
	for _, m := range followUpMarkers {
		if strings.HasPrefix(lower, m) {
			return true
		}
	}
	return false
}

// ClassifyWithOverride short-circuits the heuristics with an explicit tier
// choice. The override always wins.
func (c *Classifier) ClassifyWithOverride(query string, override Tier) Analysis {
	a := c.analysis(override, workflowForTier(override), "user override")
	if strings.TrimSpace(query) == "" && override == TierSimple {
		a.Workflow = WorkflowDirect
	}
	return a
}

func (c *Classifier) analysis(tier Tier, workflow, reasoning string) Analysis {
	return Analysis{
		Tier:            tier,
		Reasoning:       reasoning,
		EstimatedTokens: c.budgets.ForTier(tier),
		Workflow:        workflow,
	}
}

// isGreetingOnly reports whether the query consists solely of greeting
// vocabulary and punctuation.
func (c *Classifier) isGreetingOnly(lower string) bool {
	found := false
	rest := lower
	for _, g := range c.keywords.Greetings {
		if strings.Contains(rest, g) {
			found = true
			rest = strings.ReplaceAll(rest, g, " ")
		}
	}
	if !found {
		return false
	}
	rest = strings.Map(func(r rune) rune {
		switch r {
		case '!', '.', ',', '?':
			return ' '
		}
		return r
	}, rest)
	return strings.TrimSpace(rest) == ""
}

func containsAny(haystack string, needles []string) (string, bool) {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return n, true
		}
	}
	return "", false
}

func workflowForTier(t Tier) string {
	switch t {
	case TierDeep:
		return WorkflowComprehensive
	case TierMedium:
		return WorkflowAdvanced
	default:
		return WorkflowBasic
	}
}
