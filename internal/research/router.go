package research

import (
	"fmt"
	"strings"

	"github.com/deepcounsel/deepcounsel/internal/classify"
	"github.com/deepcounsel/deepcounsel/internal/search"
	"github.com/deepcounsel/deepcounsel/internal/workflow"
)

// Mode overrides let a caller pin the execution strategy regardless of
// what the classifier thinks of the query.
const (
	ModeFast     = "fast"
	ModeBalanced = "balanced"
	ModeThorough = "thorough"
)

// Route is the resolved execution plan for one request: which workflow
// runs, under which step and token budgets, and at which search tier.
// Direct marks the no-tools answer path; Workflow is meaningless there.
type Route struct {
	Workflow    workflow.Kind
	StepBudget  int
	TokenBudget int
	SearchTier  search.Tier
	Tier        classify.Tier
	Direct      bool
}

// routeSpec is one row of the dispatch table.
type routeSpec struct {
	workflow   workflow.Kind
	stepBudget int
	searchTier search.Tier
}

// tierRoutes is the closed tier dispatch table. The simple row is the
// non-greeting case; greetings take the direct path instead.
var tierRoutes = map[classify.Tier]routeSpec{
	classify.TierSimple: {workflow.KindBasic, 3, search.TierQuickFact},
	classify.TierLight:  {workflow.KindBasic, 3, search.TierStandard},
	classify.TierMedium: {workflow.KindAdvanced, 6, search.TierAdvanced},
	classify.TierDeep:   {workflow.KindComprehensive, 10, search.TierComprehensive},
}

// modeTiers maps a mode override to the tier whose route it borrows.
var modeTiers = map[string]classify.Tier{
	ModeFast:     classify.TierLight,
	ModeBalanced: classify.TierMedium,
	ModeThorough: classify.TierDeep,
}

// ParseMode normalizes a mode override. The empty string is a valid
// "no override".
func ParseMode(s string) (string, error) {
	mode := strings.ToLower(strings.TrimSpace(s))
	if mode == "" {
		return "", nil
	}
	if _, ok := modeTiers[mode]; !ok {
		return "", fmt.Errorf("unknown mode %q (want fast, balanced or thorough)", s)
	}
	return mode, nil
}

// Router turns a classification into an execution plan. Token budgets
// come from the same table the classifier estimates with, so a route's
// budget always matches what guard admission was checked against.
type Router struct {
	budgets classify.Budgets
	steps   map[workflow.Kind]int
}

// NewRouter builds a Router over the given tier budgets.
func NewRouter(budgets classify.Budgets) *Router {
	return &Router{budgets: budgets}
}

// WithStepBudgets overrides the per-workflow step ceilings. Non-positive
// values keep the dispatch table defaults.
func (r *Router) WithStepBudgets(basic, advanced, comprehensive int) *Router {
	r.steps = make(map[workflow.Kind]int, 3)
	if basic > 0 {
		r.steps[workflow.KindBasic] = basic
	}
	if advanced > 0 {
		r.steps[workflow.KindAdvanced] = advanced
	}
	if comprehensive > 0 {
		r.steps[workflow.KindComprehensive] = comprehensive
	}
	return r
}

// Route resolves the plan for an analyzed query. A mode override
// bypasses the tier mapping entirely, budgets included. modeOverride
// must be empty or already validated by ParseMode.
func (r *Router) Route(a classify.Analysis, modeOverride string) (Route, error) {
	tier := a.Tier
	hint := a.Workflow
	if modeOverride != "" {
		t, ok := modeTiers[modeOverride]
		if !ok {
			return Route{}, fmt.Errorf("unknown mode %q", modeOverride)
		}
		// An override always runs the full workflow for its tier,
		// even when the query itself looked like a greeting.
		tier = t
		hint = ""
	}

	spec, ok := tierRoutes[tier]
	if !ok {
		return Route{}, fmt.Errorf("no route for tier %d", tier)
	}
	stepBudget := spec.stepBudget
	if n, ok := r.steps[spec.workflow]; ok {
		stepBudget = n
	}
	route := Route{
		Workflow:    spec.workflow,
		StepBudget:  stepBudget,
		TokenBudget: r.budgets.ForTier(tier),
		SearchTier:  spec.searchTier,
		Tier:        tier,
	}
	if tier == classify.TierSimple && hint == classify.WorkflowDirect {
		route.Direct = true
		route.Workflow = ""
		route.SearchTier = ""
	}
	return route, nil
}
