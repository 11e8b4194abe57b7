package workflow

import (
	"context"
	"log"
	"strings"

	"github.com/deepcounsel/deepcounsel/internal/budget"
	"github.com/deepcounsel/deepcounsel/internal/corpus"
	"github.com/deepcounsel/deepcounsel/internal/extract"
	"github.com/deepcounsel/deepcounsel/internal/llm"
	"github.com/deepcounsel/deepcounsel/internal/retry"
	"github.com/deepcounsel/deepcounsel/internal/search"
	"github.com/deepcounsel/deepcounsel/internal/telemetry"
)

const (
	defaultMaxExtract     = 2
	defaultMaxGapSearches = 2
	defaultMaxSubIssues   = 5
	defaultAnswerTokens   = 2000
	gapAnswerTokens       = 300
)

// Options configures an Engine. Zero limits take the defaults above.
type Options struct {
	Search    *search.Tool
	Extractor extract.Extractor
	Primary   llm.Provider
	Fallback  llm.Provider // optional second provider for synthesis
	Metrics   *telemetry.Metrics
	Logger    *log.Logger

	MaxExtract     int     // sources extracted per run
	MaxGapSearches int     // comprehensive follow-up searches
	MaxSubIssues   int     // gap analysis issue cap
	AnswerTokens   int     // synthesis completion cap
	Temperature    float32 // synthesis temperature
}

// Engine runs research workflows. Construct once and share: it keeps no
// per-run state, so concurrent Run calls are safe.
type Engine struct {
	search    *search.Tool
	extractor extract.Extractor
	primary   llm.Provider
	fallback  llm.Provider
	metrics   *telemetry.Metrics
	logger    *log.Logger
	retry     retry.Policy

	maxExtract     int
	maxGapSearches int
	maxSubIssues   int
	answerTokens   int
	temperature    float32
}

// NewEngine wires the workflow engine from its tool set.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[WORKFLOW] ", log.LstdFlags)
	}
	e := &Engine{
		search:         opts.Search,
		extractor:      opts.Extractor,
		primary:        opts.Primary,
		fallback:       opts.Fallback,
		metrics:        opts.Metrics,
		logger:         logger,
		retry:          retry.Default(),
		maxExtract:     opts.MaxExtract,
		maxGapSearches: opts.MaxGapSearches,
		maxSubIssues:   opts.MaxSubIssues,
		answerTokens:   opts.AnswerTokens,
		temperature:    opts.Temperature,
	}
	if e.maxExtract <= 0 {
		e.maxExtract = defaultMaxExtract
	}
	if e.maxGapSearches <= 0 {
		e.maxGapSearches = defaultMaxGapSearches
	}
	if e.maxSubIssues <= 0 {
		e.maxSubIssues = defaultMaxSubIssues
	}
	if e.answerTokens <= 0 {
		e.answerTokens = defaultAnswerTokens
	}
	return e
}

// Request is one research question handed to a workflow run.
type Request struct {
	Query        string
	Jurisdiction string
	History      []llm.Message
	SearchTier   search.Tier     // empty selects the kind's default tier
	Monitor      *budget.Monitor // nil runs uncapped
}

var defaultTiers = map[Kind]search.Tier{
	KindBasic:         search.TierStandard,
	KindAdvanced:      search.TierAdvanced,
	KindComprehensive: search.TierComprehensive,
}

// Run executes one workflow. It never returns an error: budget
// exhaustion, provider failures, and empty searches all land in the
// Outcome with the appropriate flags set.
func (e *Engine) Run(ctx context.Context, kind Kind, req Request) Outcome {
	if req.Monitor == nil {
		req.Monitor = budget.NewMonitor(0, 0)
	}
	var out Outcome
	switch kind {
	case KindAdvanced:
		out = e.runAdvanced(ctx, req)
	case KindComprehensive:
		out = e.runComprehensive(ctx, req)
	case KindBasic:
		out = e.runBasic(ctx, req)
	default:
		e.logger.Printf("unknown workflow kind %q, running basic", kind)
		out = e.runBasic(ctx, req)
	}
	out.TotalTokens, out.Steps = req.Monitor.Usage()
	return out
}

func (e *Engine) runBasic(ctx context.Context, req Request) Outcome {
	resp, _ := e.searchStep(ctx, req, e.tierFor(KindBasic, req), req.Query)
	out := Outcome{
		RawResults:        dedupeResults(resp.Results),
		ExtractionSkipped: true,
		Degraded:          resp.Degraded,
	}
	e.synthesize(ctx, req, &out, KindBasic)
	return out
}

func (e *Engine) runAdvanced(ctx context.Context, req Request) Outcome {
	resp, ok := e.searchStep(ctx, req, e.tierFor(KindAdvanced, req), req.Query)
	out := Outcome{RawResults: dedupeResults(resp.Results), Degraded: resp.Degraded}
	if ok {
		e.extractTop(ctx, req, &out)
	} else {
		out.ExtractionSkipped = true
	}
	e.synthesize(ctx, req, &out, KindAdvanced)
	return out
}

func (e *Engine) runComprehensive(ctx context.Context, req Request) Outcome {
	resp, ok := e.searchStep(ctx, req, e.tierFor(KindComprehensive, req), req.Query)
	out := Outcome{RawResults: dedupeResults(resp.Results), Degraded: resp.Degraded}
	if ok && len(out.RawResults) > 0 {
		e.fillGaps(ctx, req, &out)
	}
	if ok {
		e.extractTop(ctx, req, &out)
	} else {
		out.ExtractionSkipped = true
	}
	e.synthesize(ctx, req, &out, KindComprehensive)
	return out
}

func (e *Engine) tierFor(kind Kind, req Request) search.Tier {
	if req.SearchTier != "" {
		return req.SearchTier
	}
	return defaultTiers[kind]
}

// searchStep runs one gated search call. A false ok means the step
// budget refused the call; the caller proceeds with what it has.
func (e *Engine) searchStep(ctx context.Context, req Request, tier search.Tier, text string) (search.Response, bool) {
	if err := req.Monitor.BeginStep(); err != nil {
		e.logger.Printf("search skipped: %v", err)
		return search.Response{}, false
	}
	resp := e.search.Run(ctx, search.Query{Tier: tier, Text: text, Jurisdiction: req.Jurisdiction})
	if err := req.Monitor.AddTokens(resp.Tokens); err != nil {
		e.logger.Printf("token budget breached after search: %v", err)
	}
	e.metrics.RecordSearch(string(tier), resp.Degraded)
	e.metrics.AddTokens(telemetry.TokenKindSearch, resp.Tokens)
	return resp, true
}

// extractTop pulls readable text from the leading result URLs. Failed
// extractions stay in the outcome for visibility but never stop the
// run; a run that extracted nothing is marked skipped.
func (e *Engine) extractTop(ctx context.Context, req Request, out *Outcome) {
	urls := extractableURLs(out.RawResults, e.maxExtract)
	if len(urls) == 0 {
		out.ExtractionSkipped = true
		return
	}
	for _, u := range urls {
		if err := req.Monitor.BeginStep(); err != nil {
			e.logger.Printf("extraction stopped: %v", err)
			break
		}
		ext, err := e.extractor.Extract(ctx, u)
		if err != nil {
			e.logger.Printf("extract %s: %v", u, err)
			continue
		}
		if err := req.Monitor.AddTokens(ext.Tokens); err != nil {
			e.logger.Printf("token budget breached after extraction: %v", err)
		}
		e.metrics.AddTokens(telemetry.TokenKindExtract, ext.Tokens)
		out.Extractions = append(out.Extractions, ext)
	}
	if len(out.Extractions) == 0 {
		out.ExtractionSkipped = true
	}
}

// fillGaps asks the model for the question's sub-issues, checks each
// against a corpus of what the context search returned, and runs
// bounded follow-up searches for the ones with no coverage.
func (e *Engine) fillGaps(ctx context.Context, req Request, out *Outcome) {
	issues := e.subIssues(ctx, req)
	if len(issues) == 0 {
		return
	}

	idx, err := corpus.New()
	if err != nil {
		e.logger.Printf("gap analysis skipped: %v", err)
		return
	}
	defer idx.Close()

	seen := make(map[string]struct{}, len(out.RawResults))
	for _, r := range out.RawResults {
		seen[r.URL] = struct{}{}
		e.indexResult(idx, r)
	}

	for _, issue := range issues {
		if len(out.GapQueries) >= e.maxGapSearches {
			break
		}
		covered, err := idx.Covered(issue)
		if err != nil {
			e.logger.Printf("coverage check %q: %v", issue, err)
			continue
		}
		if covered {
			continue
		}
		resp, ok := e.searchStep(ctx, req, search.TierStandard, issue)
		if !ok {
			break
		}
		out.GapQueries = append(out.GapQueries, issue)
		for _, r := range resp.Results {
			if _, dup := seen[r.URL]; dup {
				continue
			}
			seen[r.URL] = struct{}{}
			out.RawResults = append(out.RawResults, r)
			e.indexResult(idx, r)
		}
	}
}

func (e *Engine) indexResult(idx *corpus.Corpus, r search.Result) {
	err := idx.Add(corpus.Document{ID: r.URL, Title: r.Title, URL: r.URL, Content: r.Content})
	if err != nil {
		e.logger.Printf("corpus add %s: %v", r.URL, err)
	}
}

// subIssues asks the primary provider to split the question into
// distinct legal sub-issues. Gap analysis is best-effort: any failure
// returns no issues and the run stays on the context search alone.
func (e *Engine) subIssues(ctx context.Context, req Request) []string {
	if err := req.Monitor.BeginStep(); err != nil {
		e.logger.Printf("gap analysis skipped: %v", err)
		return nil
	}
	lreq := llm.Request{
		System: SystemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: GapPrompt(req.Query, req.Jurisdiction, e.maxSubIssues)},
		},
		MaxTokens: gapAnswerTokens,
	}
	resp, err := e.generate(ctx, e.primary, lreq, telemetry.TokenKindGap, req.Monitor)
	if err != nil {
		e.logger.Printf("gap analysis failed: %v", err)
		return nil
	}
	return parseIssues(resp.Text, e.maxSubIssues)
}

// synthesize produces the final answer from whatever the run gathered:
// the primary provider under the retry policy, then the fallback
// provider, then the source-list template. The template path sets
// Fallback; it is a terminal state, not an error. Retries and the
// provider switch happen inside the one synthesis step.
func (e *Engine) synthesize(ctx context.Context, req Request, out *Outcome, kind Kind) {
	out.Sources = sourcesFrom(out.RawResults)

	if err := req.Monitor.BeginStep(); err != nil {
		e.logger.Printf("synthesis skipped: %v", err)
		out.Response = fallbackResponse(out.RawResults)
		out.Fallback = true
		return
	}

	prompt := SynthesisPrompt(req.Query, req.Jurisdiction, out.RawResults, out.Extractions, kind)
	messages := make([]llm.Message, 0, len(req.History)+1)
	messages = append(messages, req.History...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})
	lreq := llm.Request{
		System:      SystemPrompt,
		Messages:    messages,
		Temperature: e.temperature,
		MaxTokens:   e.answerTokens,
	}

	resp, err := e.generate(ctx, e.primary, lreq, telemetry.TokenKindSynthesis, req.Monitor)
	if err != nil && e.fallback != nil {
		e.logger.Printf("synthesis on %s failed: %v; trying %s", e.primary.Name(), err, e.fallback.Name())
		resp, err = e.generate(ctx, e.fallback, lreq, telemetry.TokenKindSynthesis, req.Monitor)
	}
	if err != nil {
		e.logger.Printf("synthesis failed on all providers: %v", err)
		out.Response = fallbackResponse(out.RawResults)
		out.Fallback = true
		return
	}
	out.Response = resp.Text
}

// generate is one provider call under the retry policy, with usage
// recorded against the monitor on success.
func (e *Engine) generate(ctx context.Context, p llm.Provider, lreq llm.Request, stage string, mon *budget.Monitor) (llm.Response, error) {
	var resp llm.Response
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		var gerr error
		resp, gerr = p.Generate(ctx, lreq)
		return gerr
	})
	e.metrics.ObserveLLM(stage, p, resp, err)
	if err != nil {
		return llm.Response{}, err
	}
	if berr := mon.AddTokens(resp.TotalTokens()); berr != nil {
		e.logger.Printf("token budget breached after %s: %v", stage, berr)
	}
	return resp, nil
}

// sourcesFrom lists the distinct result URLs in presentation order.
// Persisted alongside the response, so it must stay a subset of the raw
// results it came from.
func sourcesFrom(results []search.Result) []Source {
	seen := make(map[string]struct{}, len(results))
	out := make([]Source, 0, len(results))
	for _, r := range results {
		u := strings.TrimSpace(r.URL)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, Source{Title: r.Title, URL: r.URL})
	}
	return out
}

// dedupeResults drops repeated URLs, keeping first occurrence order.
func dedupeResults(results []search.Result) []search.Result {
	seen := make(map[string]struct{}, len(results))
	out := results[:0:0]
	for _, r := range results {
		key := strings.TrimSpace(r.URL)
		if key != "" {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, r)
	}
	return out
}

// extractableURLs selects up to n distinct fetchable URLs from the top
// of the result list.
func extractableURLs(results []search.Result, n int) []string {
	seen := make(map[string]struct{}, n)
	urls := make([]string, 0, n)
	for _, r := range results {
		if len(urls) >= n {
			break
		}
		u := strings.TrimSpace(r.URL)
		if u == "" || !strings.HasPrefix(u, "http") {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	return urls
}
