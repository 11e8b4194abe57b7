// Package research is the orchestration core. One Research call takes a
// user's question through admission, classification, routing, workflow
// execution, grounding verification, and persistence, and settles the
// usage transaction it opened.
package research

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/deepcounsel/deepcounsel/internal/budget"
	"github.com/deepcounsel/deepcounsel/internal/classify"
	"github.com/deepcounsel/deepcounsel/internal/grounding"
	"github.com/deepcounsel/deepcounsel/internal/ledger"
	"github.com/deepcounsel/deepcounsel/internal/llm"
	"github.com/deepcounsel/deepcounsel/internal/retry"
	"github.com/deepcounsel/deepcounsel/internal/store"
	"github.com/deepcounsel/deepcounsel/internal/telemetry"
	"github.com/deepcounsel/deepcounsel/internal/tokens"
	"github.com/deepcounsel/deepcounsel/internal/workflow"
)

const (
	defaultMaxQueryChars = 2000
	defaultJurisdiction  = "Zimbabwe"
	defaultDirectTokens  = 256
)

// directSystem frames the no-tools path: greetings and small talk get a
// short reply and a nudge toward a concrete legal question.
const directSystem = `You are DeepCounsel, a legal research assistant for Zimbabwean law.
The user's message needs no research. Reply briefly and naturally, and invite a
specific question about Zimbabwean law when that fits. Do not invent case law,
statutes, or citations. You provide legal information, not legal advice.`

// directFallback answers when every provider fails on the direct path.
const directFallback = "Hello! I am DeepCounsel, a research assistant for Zimbabwean law. " +
	"Ask me about a statute, a case, or a legal topic and I will look into it."

// WorkflowRunner executes one research workflow. Satisfied by
// *workflow.Engine.
type WorkflowRunner interface {
	Run(ctx context.Context, kind workflow.Kind, req workflow.Request) workflow.Outcome
}

// RunStore persists finished runs.
type RunStore interface {
	InsertRun(ctx context.Context, rec store.RunRecord) (store.RunRecord, error)
}

// Options wires the research engine.
type Options struct {
	Classifier *classify.Classifier
	Router     *Router
	Workflows  WorkflowRunner
	Ledger     *ledger.Ledger
	Guard      *budget.Guard // optional; token caps are skipped when nil
	Runs       RunStore
	Primary    llm.Provider
	Fallback   llm.Provider // optional second provider for the direct path
	Metrics    *telemetry.Metrics
	Logger     *log.Logger

	MaxQueryChars int     // accepted question length, default 2000
	Jurisdiction  string  // default search jurisdiction, default "Zimbabwe"
	DirectTokens  int     // direct path completion cap
	WarnBelow     float64 // grounding rate that triggers a log line, 0 disables
}

// Engine is the orchestration core. Construct once and share; it keeps
// no per-request state.
type Engine struct {
	classifier *classify.Classifier
	router     *Router
	workflows  WorkflowRunner
	ledger     *ledger.Ledger
	guard      *budget.Guard
	runs       RunStore
	primary    llm.Provider
	fallback   llm.Provider
	metrics    *telemetry.Metrics
	logger     *log.Logger
	retry      retry.Policy
	est        tokens.Estimator

	maxQueryChars int
	jurisdiction  string
	directTokens  int
	warnBelow     float64
}

// NewEngine wires the research engine from its collaborators.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags)
	}
	e := &Engine{
		classifier:    opts.Classifier,
		router:        opts.Router,
		workflows:     opts.Workflows,
		ledger:        opts.Ledger,
		guard:         opts.Guard,
		runs:          opts.Runs,
		primary:       opts.Primary,
		fallback:      opts.Fallback,
		metrics:       opts.Metrics,
		logger:        logger,
		retry:         retry.Default(),
		maxQueryChars: opts.MaxQueryChars,
		jurisdiction:  opts.Jurisdiction,
		directTokens:  opts.DirectTokens,
		warnBelow:     opts.WarnBelow,
	}
	if e.maxQueryChars <= 0 {
		e.maxQueryChars = defaultMaxQueryChars
	}
	if e.jurisdiction == "" {
		e.jurisdiction = defaultJurisdiction
	}
	if e.directTokens <= 0 {
		e.directTokens = defaultDirectTokens
	}
	return e
}

// Request is one research question as received from the API or CLI.
type Request struct {
	Query        string        `json:"query"`
	History      []llm.Message `json:"conversation_history,omitempty"`
	UserID       string        `json:"user_id"`
	Mode         string        `json:"mode,omitempty"`
	Tier         string        `json:"tier,omitempty"`
	Jurisdiction string        `json:"jurisdiction,omitempty"`
}

// Response is the finished run as returned to the caller.
type Response struct {
	Answer        string            `json:"response"`
	Sources       []workflow.Source `json:"sources"`
	Tier          string            `json:"tier"`
	Workflow      string            `json:"workflow"`
	TokensUsed    int               `json:"tokens_used"`
	GroundingRate float64           `json:"grounding_rate"`
	Usage         UsageFigures      `json:"usage"`
	RunID         string            `json:"run_id"`
	Fallback      bool              `json:"fallback,omitempty"`
}

// UsageFigures is the caller's request quota after this run.
type UsageFigures struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

// Research runs the full pipeline for one question. Provider and tool
// failures never surface as errors: the worst case is a fallback
// response with status recorded accordingly. The returned error is one
// of ErrValidation, ledger.ErrRateLimited, budget.ErrExceeded, or an
// internal persistence failure.
func (e *Engine) Research(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	query := strings.TrimSpace(req.Query)
	userID := strings.TrimSpace(req.UserID)
	switch {
	case query == "":
		return Response{}, ErrValidation{Reason: "query is empty"}
	case len(query) > e.maxQueryChars:
		return Response{}, ErrValidation{Reason: fmt.Sprintf("query exceeds %d characters", e.maxQueryChars)}
	case userID == "":
		return Response{}, ErrValidation{Reason: "user_id is required"}
	}

	var tierOverride *classify.Tier
	if strings.TrimSpace(req.Tier) != "" {
		t, err := classify.ParseTier(req.Tier)
		if err != nil {
			return Response{}, ErrValidation{Reason: err.Error()}
		}
		tierOverride = &t
	}
	mode, err := ParseMode(req.Mode)
	if err != nil {
		return Response{}, ErrValidation{Reason: err.Error()}
	}

	begin, err := e.ledger.Begin(ctx, userID)
	if err != nil {
		return Response{}, fmt.Errorf("usage admission: %w", err)
	}
	if !begin.Allowed {
		return Response{}, ledger.ErrRateLimited{
			UserID: userID,
			Used:   begin.Usage.RequestsToday,
			Limit:  begin.Usage.DailyLimit,
		}
	}

	var analysis classify.Analysis
	if tierOverride != nil {
		analysis = e.classifier.ClassifyWithOverride(query, *tierOverride)
	} else {
		analysis = e.classifier.Classify(query, req.History)
	}
	route, err := e.router.Route(analysis, mode)
	if err != nil {
		e.rollback(ctx, begin.Txn.ID)
		return Response{}, fmt.Errorf("routing: %w", err)
	}
	label := workflowLabel(route)
	e.logger.Printf("user=%s tier=%s workflow=%s budget=%d steps=%d: %s",
		userID, route.Tier, label, route.TokenBudget, route.StepBudget, analysis.Reasoning)

	if e.guard != nil {
		// The tier budget caps the workflow's spend; the prompt itself
		// costs input tokens on top of it. The direct path skips the
		// workflow entirely, so its estimate is just prompt plus the
		// completion cap.
		estimated := route.TokenBudget + e.est.EstimateConversation(query, messageTexts(req.History))
		if route.Direct {
			estimated = e.est.EstimateAll(directSystem, query) + e.directTokens
		}
		if err := e.guard.Check(ctx, userID, estimated); err != nil {
			e.rollback(ctx, begin.Txn.ID)
			return Response{}, err
		}
	}

	var out workflow.Outcome
	if route.Direct {
		out = e.direct(ctx, query, req.History, route)
	} else {
		out = e.workflows.Run(ctx, route.Workflow, workflow.Request{
			Query:        query,
			Jurisdiction: e.jurisdictionFor(req),
			History:      req.History,
			SearchTier:   route.SearchTier,
			Monitor:      budget.NewMonitor(route.TokenBudget, route.StepBudget),
		})
	}

	// The direct path retrieves nothing, so there is nothing to verify
	// and its rate is 1 by definition.
	report := grounding.Report{Rate: 1}
	if !route.Direct {
		report = grounding.Verify(out.Response, out.RawResults)
		for _, c := range report.Unverified {
			e.logger.Printf("unverified citation %q (user=%s)", c.Text, userID)
		}
		if e.warnBelow > 0 && report.Rate < e.warnBelow {
			e.logger.Printf("grounding rate %.2f below %.2f (user=%s, workflow=%s)",
				report.Rate, e.warnBelow, userID, label)
		}
	}

	status := store.RunStatusCompleted
	if out.Fallback {
		status = store.RunStatusFallback
	}
	elapsed := time.Since(start)

	rec, err := e.runs.InsertRun(ctx, store.RunRecord{
		UserID:        userID,
		Query:         query,
		Tier:          route.Tier.String(),
		Workflow:      label,
		Status:        status,
		Response:      out.Response,
		Sources:       sourceRefs(out.Sources),
		TokensUsed:    out.TotalTokens,
		GroundingRate: report.Rate,
		DurationMs:    elapsed.Milliseconds(),
	})
	if err != nil {
		e.rollback(ctx, begin.Txn.ID)
		return Response{}, fmt.Errorf("persist run: %w", err)
	}

	if err := e.ledger.Commit(ctx, begin.Txn.ID); err != nil {
		// The answer is already persisted and about to be served; an
		// uncounted request is the lesser harm here.
		e.logger.Printf("commit txn %s: %v", begin.Txn.ID, err)
	}
	if e.guard != nil {
		e.guard.Record(ctx, userID, out.TotalTokens)
	}

	e.metrics.RecordRun(route.Tier.String(), label, status, elapsed)
	e.metrics.ObserveGrounding(report.Rate)

	return Response{
		Answer:        out.Response,
		Sources:       out.Sources,
		Tier:          route.Tier.String(),
		Workflow:      label,
		TokensUsed:    out.TotalTokens,
		GroundingRate: report.Rate,
		Usage:         UsageFigures{Used: begin.Usage.RequestsToday + 1, Limit: begin.Usage.DailyLimit},
		RunID:         rec.ID,
		Fallback:      out.Fallback,
	}, nil
}

// direct answers greetings and small talk with a single generation and
// no tools. Provider failures fall back to a canned reply.
func (e *Engine) direct(ctx context.Context, query string, history []llm.Message, route Route) workflow.Outcome {
	mon := budget.NewMonitor(route.TokenBudget, route.StepBudget)
	out := workflow.Outcome{ExtractionSkipped: true}

	if err := mon.BeginStep(); err != nil {
		e.logger.Printf("direct answer skipped: %v", err)
		out.Response = directFallback
		out.Fallback = true
		out.TotalTokens, out.Steps = mon.Usage()
		return out
	}

	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: query})
	lreq := llm.Request{
		System:    directSystem,
		Messages:  messages,
		MaxTokens: e.directTokens,
	}

	resp, err := e.generate(ctx, e.primary, lreq, mon)
	if err != nil && e.fallback != nil {
		e.logger.Printf("direct answer on %s failed: %v; trying %s", e.primary.Name(), err, e.fallback.Name())
		resp, err = e.generate(ctx, e.fallback, lreq, mon)
	}
	if err != nil {
		e.logger.Printf("direct answer failed on all providers: %v", err)
		out.Response = directFallback
		out.Fallback = true
	} else {
		out.Response = resp.Text
	}
	out.TotalTokens, out.Steps = mon.Usage()
	return out
}

// generate is one provider call under the retry policy, with usage
// recorded against the monitor on success.
func (e *Engine) generate(ctx context.Context, p llm.Provider, lreq llm.Request, mon *budget.Monitor) (llm.Response, error) {
	var resp llm.Response
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		var gerr error
		resp, gerr = p.Generate(ctx, lreq)
		return gerr
	})
	e.metrics.ObserveLLM(telemetry.TokenKindSynthesis, p, resp, err)
	if err != nil {
		return llm.Response{}, err
	}
	if berr := mon.AddTokens(resp.TotalTokens()); berr != nil {
		e.logger.Printf("token budget breached after direct answer: %v", berr)
	}
	return resp, nil
}

// rollback releases an admission slot on a failed pipeline. Best
// effort: transaction pruning covers anything this misses.
func (e *Engine) rollback(ctx context.Context, txnID string) {
	if err := e.ledger.Rollback(ctx, txnID); err != nil {
		e.logger.Printf("rollback txn %s: %v", txnID, err)
	}
}

func (e *Engine) jurisdictionFor(req Request) string {
	if j := strings.TrimSpace(req.Jurisdiction); j != "" {
		return j
	}
	return e.jurisdiction
}

// workflowLabel names the execution path for persistence and metrics.
func workflowLabel(route Route) string {
	if route.Direct {
		return classify.WorkflowDirect
	}
	return string(route.Workflow)
}

func messageTexts(history []llm.Message) []string {
	if len(history) == 0 {
		return nil
	}
	texts := make([]string, len(history))
	for i, m := range history {
		texts[i] = m.Content
	}
	return texts
}

func sourceRefs(sources []workflow.Source) []store.SourceRef {
	if len(sources) == 0 {
		return nil
	}
	refs := make([]store.SourceRef, len(sources))
	for i, s := range sources {
		refs[i] = store.SourceRef{Title: s.Title, URL: s.URL}
	}
	return refs
}
