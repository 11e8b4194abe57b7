package research

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/deepcounsel/deepcounsel/internal/budget"
	"github.com/deepcounsel/deepcounsel/internal/classify"
	"github.com/deepcounsel/deepcounsel/internal/ledger"
	"github.com/deepcounsel/deepcounsel/internal/llm"
	"github.com/deepcounsel/deepcounsel/internal/search"
	"github.com/deepcounsel/deepcounsel/internal/store"
	"github.com/deepcounsel/deepcounsel/internal/workflow"
)

type fakeUsage struct {
	mu       sync.Mutex
	usage    store.UserUsage
	incErr   error
	getCalls int
	incCalls int
}

func (f *fakeUsage) GetOrCreateUserUsage(_ context.Context, userID, plan string, dailyLimit int) (store.UserUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	u := f.usage
	if u.UserID == "" {
		u = store.UserUsage{UserID: userID, Plan: plan, DailyLimit: dailyLimit}
	}
	return u, nil
}

func (f *fakeUsage) IncrementRequests(_ context.Context, userID string) (store.UserUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.incErr != nil {
		return store.UserUsage{}, f.incErr
	}
	f.incCalls++
	f.usage.RequestsToday++
	return f.usage, nil
}

func (f *fakeUsage) increments() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.incCalls
}

type fakeCounters struct {
	mu   sync.Mutex
	vals map[string]int64
}

func (f *fakeCounters) Get(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vals[key], nil
}

func (f *fakeCounters) IncrBy(_ context.Context, key string, n int64, _ time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.vals == nil {
		f.vals = make(map[string]int64)
	}
	f.vals[key] += n
	return f.vals[key], nil
}

func (f *fakeCounters) snapshot() map[string]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64, len(f.vals))
	for k, v := range f.vals {
		out[k] = v
	}
	return out
}

type fakeRuns struct {
	mu   sync.Mutex
	recs []store.RunRecord
	err  error
}

func (f *fakeRuns) InsertRun(_ context.Context, rec store.RunRecord) (store.RunRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return store.RunRecord{}, f.err
	}
	rec.ID = "run-42"
	rec.CreatedAt = time.Now()
	f.recs = append(f.recs, rec)
	return rec, nil
}

func (f *fakeRuns) last(t *testing.T) store.RunRecord {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.recs) == 0 {
		t.Fatal("no run was persisted")
	}
	return f.recs[len(f.recs)-1]
}

type fakeWorkflows struct {
	mu    sync.Mutex
	kinds []workflow.Kind
	reqs  []workflow.Request
	out   workflow.Outcome
}

func (f *fakeWorkflows) Run(_ context.Context, kind workflow.Kind, req workflow.Request) workflow.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, kind)
	f.reqs = append(f.reqs, req)
	return f.out
}

func (f *fakeWorkflows) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.kinds)
}

func (f *fakeWorkflows) lastReq(t *testing.T) workflow.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reqs) == 0 {
		t.Fatal("no workflow was run")
	}
	return f.reqs[len(f.reqs)-1]
}

type fakeProvider struct {
	mu    sync.Mutex
	name  string
	err   error
	text  string
	calls []llm.Request
}

func (p *fakeProvider) Name() string  { return p.name }
func (p *fakeProvider) Model() string { return p.name + "-model" }

func (p *fakeProvider) Generate(_ context.Context, req llm.Request) (llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	if p.err != nil {
		return llm.Response{}, p.err
	}
	return llm.Response{Text: p.text, InputTokens: 100, OutputTokens: 200}, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

// deps bundles one test's collaborators so assertions can reach them.
type deps struct {
	usage    *fakeUsage
	counters *fakeCounters
	runs     *fakeRuns
	flows    *fakeWorkflows
	primary  *fakeProvider
}

func newTestEngine(t *testing.T, mutate func(*deps, *Options)) (*Engine, *deps) {
	t.Helper()
	d := &deps{
		usage:    &fakeUsage{usage: store.UserUsage{UserID: "u1", Plan: store.PlanFree, DailyLimit: 20, RequestsToday: 3}},
		counters: &fakeCounters{},
		runs:     &fakeRuns{},
		flows:    &fakeWorkflows{},
		primary:  &fakeProvider{name: "openai", text: "Hello! Ask me about Zimbabwean law."},
	}
	opts := Options{
		Classifier: classify.New(classify.Keywords{}, classify.Budgets{}),
		Router:     NewRouter(classify.DefaultBudgets()),
		Workflows:  d.flows,
		Ledger:     ledger.New(d.usage, ledger.Config{Logger: quietLogger()}),
		Runs:       d.runs,
		Primary:    d.primary,
		Logger:     quietLogger(),
	}
	if mutate != nil {
		mutate(d, &opts)
	}
	return NewEngine(opts), d
}

// groundableOutcome cites one verifiable and one fabricated authority
// against a single source, which pins the grounding rate at 0.5.
func groundableOutcome() workflow.Outcome {
	return workflow.Outcome{
		Response: "Per Moyo v Chirwa [2019] ZWHHC 999, wages are set by SI 81 of 2024.",
		Sources:  []workflow.Source{{Title: "Minimum wage notice", URL: "https://zimlii.org/akn/zw/doc/1"}},
		RawResults: []search.Result{{
			Title:   "Minimum wage notice",
			URL:     "https://zimlii.org/akn/zw/doc/1",
			Content: "SI 81 of 2024 sets the national minimum wage.",
		}},
		TotalTokens: 1234,
		Steps:       4,
	}
}

func TestResearchValidation(t *testing.T) {
	t.Parallel()
	e, d := newTestEngine(t, nil)

	tests := []struct {
		name string
		req  Request
	}{
		{"empty query", Request{UserID: "u1"}},
		{"whitespace query", Request{Query: "   ", UserID: "u1"}},
		{"oversized query", Request{Query: strings.Repeat("a", 2001), UserID: "u1"}},
		{"missing user", Request{Query: "What is the minimum wage?"}},
		{"unknown tier", Request{Query: "What is the minimum wage?", UserID: "u1", Tier: "galactic"}},
		{"unknown mode", Request{Query: "What is the minimum wage?", UserID: "u1", Mode: "turbo"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Research(context.Background(), tc.req)
			if !IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	if d.usage.getCalls != 0 {
		t.Fatalf("validation failures must not touch the ledger, saw %d reads", d.usage.getCalls)
	}
}

func TestResearchMediumWorkflowHappyPath(t *testing.T) {
	t.Parallel()
	e, d := newTestEngine(t, func(d *deps, _ *Options) {
		d.flows.out = groundableOutcome()
	})

	resp, err := e.Research(context.Background(), Request{
		Query:  "Compare minimum wage and overtime rules",
		UserID: "u1",
	})
	if err != nil {
		t.Fatalf("Research: %v", err)
	}

	if resp.Tier != "medium" || resp.Workflow != "advanced" {
		t.Fatalf("routed to %s/%s, want medium/advanced", resp.Tier, resp.Workflow)
	}
	wreq := d.flows.lastReq(t)
	if got := d.flows.kinds[0]; got != workflow.KindAdvanced {
		t.Fatalf("workflow kind = %q, want %q", got, workflow.KindAdvanced)
	}
	if wreq.SearchTier != search.TierAdvanced {
		t.Fatalf("SearchTier = %q, want %q", wreq.SearchTier, search.TierAdvanced)
	}
	if wreq.Jurisdiction != "Zimbabwe" {
		t.Fatalf("Jurisdiction = %q, want the default", wreq.Jurisdiction)
	}
	if wreq.Monitor == nil {
		t.Fatal("workflow must run under a per-run monitor")
	}
	if got := wreq.Monitor.Remaining(); got != 6000 {
		t.Fatalf("monitor token budget = %d, want 6000", got)
	}
	for i := 0; i < 6; i++ {
		if err := wreq.Monitor.BeginStep(); err != nil {
			t.Fatalf("step %d refused: %v", i+1, err)
		}
	}
	if err := wreq.Monitor.BeginStep(); err == nil {
		t.Fatal("monitor must cap the run at 6 steps")
	}

	if resp.Answer != d.flows.out.Response {
		t.Fatalf("Answer = %q", resp.Answer)
	}
	if resp.GroundingRate != 0.5 {
		t.Fatalf("GroundingRate = %v, want 0.5", resp.GroundingRate)
	}
	if resp.TokensUsed != 1234 {
		t.Fatalf("TokensUsed = %d, want 1234", resp.TokensUsed)
	}
	if resp.RunID != "run-42" {
		t.Fatalf("RunID = %q", resp.RunID)
	}
	if resp.Usage.Used != 4 || resp.Usage.Limit != 20 {
		t.Fatalf("Usage = %+v, want 4/20", resp.Usage)
	}

	rec := d.runs.last(t)
	if rec.Tier != "medium" || rec.Workflow != "advanced" || rec.Status != store.RunStatusCompleted {
		t.Fatalf("persisted %s/%s/%s", rec.Tier, rec.Workflow, rec.Status)
	}
	if rec.TokensUsed != 1234 || rec.GroundingRate != 0.5 {
		t.Fatalf("persisted tokens=%d rate=%v", rec.TokensUsed, rec.GroundingRate)
	}
	if len(rec.Sources) != 1 || rec.Sources[0].URL != "https://zimlii.org/akn/zw/doc/1" {
		t.Fatalf("persisted sources %#v", rec.Sources)
	}
	if d.usage.increments() != 1 {
		t.Fatalf("expected exactly one committed request, got %d", d.usage.increments())
	}
}

func TestResearchDirectPath(t *testing.T) {
	t.Parallel()
	e, d := newTestEngine(t, nil)

	resp, err := e.Research(context.Background(), Request{Query: "Hello", UserID: "u1"})
	if err != nil {
		t.Fatalf("Research: %v", err)
	}

	if d.flows.calls() != 0 {
		t.Fatal("a greeting must not start a workflow")
	}
	if resp.Tier != "simple" || resp.Workflow != "direct" {
		t.Fatalf("routed to %s/%s, want simple/direct", resp.Tier, resp.Workflow)
	}
	if len(resp.Sources) != 0 {
		t.Fatalf("direct answers carry no sources, got %#v", resp.Sources)
	}
	if resp.GroundingRate != 1.0 {
		t.Fatalf("GroundingRate = %v, want 1.0", resp.GroundingRate)
	}
	if resp.TokensUsed != 300 {
		t.Fatalf("TokensUsed = %d, want the provider's 300", resp.TokensUsed)
	}
	if resp.Fallback {
		t.Fatal("healthy provider must not be marked fallback")
	}

	if d.primary.callCount() != 1 {
		t.Fatalf("provider calls = %d, want 1", d.primary.callCount())
	}
	call := d.primary.calls[0]
	if call.System != directSystem {
		t.Fatalf("direct call used system prompt %q", call.System)
	}
	if len(call.Messages) != 1 || call.Messages[0].Content != "Hello" {
		t.Fatalf("direct call messages %#v", call.Messages)
	}

	rec := d.runs.last(t)
	if rec.Status != store.RunStatusCompleted || rec.Workflow != "direct" {
		t.Fatalf("persisted %s/%s", rec.Workflow, rec.Status)
	}
}

func TestResearchDirectAllProvidersFail(t *testing.T) {
	t.Parallel()
	e, d := newTestEngine(t, func(d *deps, opts *Options) {
		d.primary.err = errors.New("model overloaded")
		opts.Fallback = &fakeProvider{name: "anthropic", err: errors.New("also down")}
	})

	resp, err := e.Research(context.Background(), Request{Query: "Hello", UserID: "u1"})
	if err != nil {
		t.Fatalf("provider failures must not surface, got %v", err)
	}
	if resp.Answer != directFallback {
		t.Fatalf("Answer = %q, want the canned fallback", resp.Answer)
	}
	if !resp.Fallback {
		t.Fatal("expected the fallback flag")
	}
	if rec := d.runs.last(t); rec.Status != store.RunStatusFallback {
		t.Fatalf("persisted status %q, want %q", rec.Status, store.RunStatusFallback)
	}
	if d.usage.increments() != 1 {
		t.Fatal("a fallback answer still commits the request")
	}
}

func TestResearchRateLimited(t *testing.T) {
	t.Parallel()
	e, d := newTestEngine(t, func(d *deps, _ *Options) {
		d.usage.usage.RequestsToday = 20
	})

	_, err := e.Research(context.Background(), Request{Query: "What is the minimum wage?", UserID: "u1"})
	var rle ledger.ErrRateLimited
	if !errors.As(err, &rle) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if rle.Used != 20 || rle.Limit != 20 {
		t.Fatalf("rate limit figures %d/%d, want 20/20", rle.Used, rle.Limit)
	}
	if d.flows.calls() != 0 || d.primary.callCount() != 0 {
		t.Fatal("a rejected request must not run anything")
	}
	if len(d.runs.recs) != 0 {
		t.Fatal("a rejected request must not be persisted")
	}
}

func TestResearchTokenBudgetExceeded(t *testing.T) {
	t.Parallel()
	e, d := newTestEngine(t, func(d *deps, opts *Options) {
		opts.Guard = budget.NewGuard(budget.Limits{DailyTokens: 100}, d.counters, quietLogger())
	})

	_, err := e.Research(context.Background(), Request{
		Query:  "Compare minimum wage and overtime rules",
		UserID: "u1",
	})
	if !budget.IsExceeded(err) {
		t.Fatalf("expected budget.ErrExceeded, got %v", err)
	}
	if d.flows.calls() != 0 {
		t.Fatal("an over-budget request must not start a workflow")
	}
	if d.usage.increments() != 0 {
		t.Fatal("the admission slot must be rolled back, not committed")
	}
}

func TestResearchEstimateCountsHistory(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, func(d *deps, opts *Options) {
		d.flows.out = groundableOutcome()
		// Ten tokens of headroom over the medium tier budget: the bare
		// query fits, the same query with a long history does not.
		opts.Guard = budget.NewGuard(budget.Limits{DailyTokens: 6010}, d.counters, quietLogger())
	})

	if _, err := e.Research(context.Background(), Request{
		Query:  "Compare minimum wage and overtime rules",
		UserID: "u1",
	}); err != nil {
		t.Fatalf("bare query must fit the cap: %v", err)
	}

	_, err := e.Research(context.Background(), Request{
		Query:  "Compare minimum wage and overtime rules",
		UserID: "u2",
		History: []llm.Message{
			{Role: llm.RoleAssistant, Content: strings.Repeat("prior turn ", 40)},
		},
	})
	if !budget.IsExceeded(err) {
		t.Fatalf("history must count toward the estimate, got %v", err)
	}
}

func TestResearchDirectEstimateSkipsTierBudget(t *testing.T) {
	t.Parallel()
	e, d := newTestEngine(t, func(d *deps, opts *Options) {
		// Well under the simple tier budget, but the direct path only
		// spends its prompt plus the completion cap.
		opts.Guard = budget.NewGuard(budget.Limits{DailyTokens: 600}, d.counters, quietLogger())
	})

	resp, err := e.Research(context.Background(), Request{Query: "Hello", UserID: "u1"})
	if err != nil {
		t.Fatalf("direct path must fit a cap the tier budget would breach: %v", err)
	}
	if resp.Workflow != "direct" {
		t.Fatalf("expected the direct path, got %q", resp.Workflow)
	}
	if vals := d.counters.snapshot(); len(vals) != 1 {
		t.Fatalf("expected the actual spend to be recorded, got %#v", vals)
	}
}

func TestResearchGuardRecordsSpend(t *testing.T) {
	t.Parallel()
	e, d := newTestEngine(t, func(d *deps, opts *Options) {
		d.flows.out = groundableOutcome()
		opts.Guard = budget.NewGuard(budget.Limits{DailyTokens: 150000}, d.counters, quietLogger())
	})

	if _, err := e.Research(context.Background(), Request{
		Query:  "Compare minimum wage and overtime rules",
		UserID: "u1",
	}); err != nil {
		t.Fatalf("Research: %v", err)
	}

	vals := d.counters.snapshot()
	if len(vals) != 1 {
		t.Fatalf("expected one daily counter, got %#v", vals)
	}
	for key, v := range vals {
		if v != 1234 {
			t.Fatalf("counter %s = %d, want the run's 1234", key, v)
		}
	}
}

func TestResearchTierOverride(t *testing.T) {
	t.Parallel()
	e, d := newTestEngine(t, func(d *deps, _ *Options) {
		d.flows.out = groundableOutcome()
	})

	resp, err := e.Research(context.Background(), Request{Query: "Hello", UserID: "u1", Tier: "deep"})
	if err != nil {
		t.Fatalf("Research: %v", err)
	}
	if resp.Tier != "deep" || resp.Workflow != "comprehensive" {
		t.Fatalf("routed to %s/%s, want deep/comprehensive", resp.Tier, resp.Workflow)
	}
	if got := d.flows.kinds[0]; got != workflow.KindComprehensive {
		t.Fatalf("workflow kind = %q", got)
	}
}

func TestResearchModeOverride(t *testing.T) {
	t.Parallel()
	e, d := newTestEngine(t, func(d *deps, _ *Options) {
		d.flows.out = groundableOutcome()
	})

	resp, err := e.Research(context.Background(), Request{Query: "Hello", UserID: "u1", Mode: "balanced"})
	if err != nil {
		t.Fatalf("Research: %v", err)
	}
	if resp.Tier != "medium" || resp.Workflow != "advanced" {
		t.Fatalf("routed to %s/%s, want medium/advanced", resp.Tier, resp.Workflow)
	}
	if d.primary.callCount() != 0 {
		t.Fatal("a mode override must bypass the direct path")
	}
	if wreq := d.flows.lastReq(t); wreq.Monitor.Remaining() != 6000 {
		t.Fatalf("override budget = %d, want the balanced tier's 6000", wreq.Monitor.Remaining())
	}
}

func TestResearchJurisdictionOverride(t *testing.T) {
	t.Parallel()
	e, d := newTestEngine(t, func(d *deps, _ *Options) {
		d.flows.out = groundableOutcome()
	})

	if _, err := e.Research(context.Background(), Request{
		Query:        "Compare minimum wage and overtime rules",
		UserID:       "u1",
		Jurisdiction: "Botswana",
	}); err != nil {
		t.Fatalf("Research: %v", err)
	}
	if wreq := d.flows.lastReq(t); wreq.Jurisdiction != "Botswana" {
		t.Fatalf("Jurisdiction = %q, want the request's override", wreq.Jurisdiction)
	}
}

func TestResearchPersistFailureRollsBack(t *testing.T) {
	t.Parallel()
	e, d := newTestEngine(t, func(d *deps, _ *Options) {
		d.flows.out = groundableOutcome()
		d.runs.err = errors.New("connection refused")
	})

	_, err := e.Research(context.Background(), Request{
		Query:  "Compare minimum wage and overtime rules",
		UserID: "u1",
	})
	if err == nil {
		t.Fatal("expected the persistence failure to surface")
	}
	if IsValidation(err) || budget.IsExceeded(err) {
		t.Fatalf("persistence failure mapped to the wrong class: %v", err)
	}
	if d.usage.increments() != 0 {
		t.Fatal("the admission slot must be rolled back")
	}
}

func TestResearchCommitFailureStillServes(t *testing.T) {
	t.Parallel()
	e, d := newTestEngine(t, func(d *deps, _ *Options) {
		d.flows.out = groundableOutcome()
		d.usage.incErr = errors.New("write timeout")
	})

	resp, err := e.Research(context.Background(), Request{
		Query:  "Compare minimum wage and overtime rules",
		UserID: "u1",
	})
	if err != nil {
		t.Fatalf("a commit failure must not fail the served request, got %v", err)
	}
	if resp.Answer == "" || resp.RunID == "" {
		t.Fatalf("response incomplete: %+v", resp)
	}
	if rec := d.runs.last(t); rec.UserID != "u1" {
		t.Fatalf("run persisted for the wrong user: %+v", rec)
	}
}

func TestResearchHistoryReachesWorkflow(t *testing.T) {
	t.Parallel()
	e, d := newTestEngine(t, func(d *deps, _ *Options) {
		d.flows.out = groundableOutcome()
	})

	history := []llm.Message{
		{Role: llm.RoleUser, Content: "What is retrenchment?"},
		{Role: llm.RoleAssistant, Content: "Termination for operational reasons."},
	}
	if _, err := e.Research(context.Background(), Request{
		Query:   "Compare minimum wage and overtime rules",
		UserID:  "u1",
		History: history,
	}); err != nil {
		t.Fatalf("Research: %v", err)
	}
	wreq := d.flows.lastReq(t)
	if len(wreq.History) != 2 || wreq.History[0].Content != "What is retrenchment?" {
		t.Fatalf("history not forwarded: %#v", wreq.History)
	}
}
