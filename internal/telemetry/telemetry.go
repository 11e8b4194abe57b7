// Package telemetry exposes the research pipeline's Prometheus metrics:
// request outcomes, token consumption per stage, grounding rates, search
// and LLM call accounting, and approximate LLM spend. A nil *Metrics is
// a no-op so components can take one unconditionally.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/deepcounsel/deepcounsel/internal/ledger"
	"github.com/deepcounsel/deepcounsel/internal/llm"
)

const namespace = "deepcounsel"

// Call outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeError    = "error"
)

// Token kinds, one per pipeline stage that consumes tokens.
const (
	TokenKindSearch    = "search"
	TokenKindExtract   = "extract"
	TokenKindSynthesis = "synthesis"
	TokenKindGap       = "gap_analysis"
)

// Metrics is the collector set for one process. Construct once and share;
// the collectors are safe for concurrent use.
type Metrics struct {
	pricing map[string]llm.Pricing
	reg     prometheus.Registerer

	runs      *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	grounding prometheus.Histogram
	tokens    *prometheus.CounterVec
	searches  *prometheus.CounterVec
	llmCalls  *prometheus.CounterVec
	llmCost   *prometheus.CounterVec
}

// New registers the pipeline collectors on reg (the default registerer
// when nil). pricing maps provider name to per-1K prices for the cost
// counter; providers missing from it report calls but no spend.
func New(reg prometheus.Registerer, pricing map[string]llm.Pricing) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{pricing: pricing, reg: reg}

	m.runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "research_requests_total",
		Help:      "Research requests by tier, workflow, and terminal status.",
	}, []string{"tier", "workflow", "status"})

	m.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_duration_seconds",
		Help:      "End-to-end research latency by workflow.",
		Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
	}, []string{"workflow"})

	m.grounding = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "grounding_rate",
		Help:      "Share of response citations verified against run sources.",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})

	m.tokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tokens_total",
		Help:      "Tokens consumed by pipeline stage.",
	}, []string{"kind"})

	m.searches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "search_calls_total",
		Help:      "Search tool calls by tier and outcome.",
	}, []string{"tier", "outcome"})

	m.llmCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_calls_total",
		Help:      "Generation calls by provider, model, and outcome.",
	}, []string{"provider", "model", "outcome"})

	m.llmCost = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_cost_usd_total",
		Help:      "Approximate LLM spend in USD from configured pricing.",
	}, []string{"provider", "model"})

	reg.MustRegister(m.runs, m.duration, m.grounding, m.tokens, m.searches, m.llmCalls, m.llmCost)
	return m
}

// RecordRun counts one finished research request.
func (m *Metrics) RecordRun(tier, workflow, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(tier, workflow, status).Inc()
	m.duration.WithLabelValues(workflow).Observe(elapsed.Seconds())
}

// ObserveGrounding records one verified response's grounding rate.
func (m *Metrics) ObserveGrounding(rate float64) {
	if m == nil {
		return
	}
	m.grounding.Observe(rate)
}

// AddTokens charges n tokens to a stage.
func (m *Metrics) AddTokens(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tokens.WithLabelValues(kind).Add(float64(n))
}

// RecordSearch counts one search tool call.
func (m *Metrics) RecordSearch(tier string, degraded bool) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if degraded {
		outcome = OutcomeDegraded
	}
	m.searches.WithLabelValues(tier, outcome).Inc()
}

// ObserveLLM records one generation call: the call itself, and on
// success the stage's token usage and the provider spend.
func (m *Metrics) ObserveLLM(stage string, p llm.Provider, resp llm.Response, genErr error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if genErr != nil {
		outcome = OutcomeError
	}
	m.llmCalls.WithLabelValues(p.Name(), p.Model(), outcome).Inc()
	if genErr != nil {
		return
	}
	m.tokens.WithLabelValues(stage).Add(float64(resp.TotalTokens()))
	if pricing, ok := m.pricing[p.Name()]; ok {
		m.llmCost.WithLabelValues(p.Name(), p.Model()).Add(pricing.Cost(resp.InputTokens, resp.OutputTokens))
	}
}

// WatchUsageCache registers collectors over the ledger's usage cache
// counters. Call once at wiring time.
func (m *Metrics) WatchUsageCache(stats func() ledger.CacheStats) {
	if m == nil || stats == nil {
		return
	}
	m.reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_cache_hits_total",
			Help:      "Usage cache lookups served from memory.",
		}, func() float64 { return float64(stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_cache_misses_total",
			Help:      "Usage cache lookups that fell through to the store.",
		}, func() float64 { return float64(stats().Misses) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_cache_evictions_total",
			Help:      "Usage cache entries evicted by the size cap.",
		}, func() float64 { return float64(stats().Evictions) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "usage_cache_entries",
			Help:      "Usage cache entries currently held.",
		}, func() float64 { return float64(stats().Entries) }),
	)
}
