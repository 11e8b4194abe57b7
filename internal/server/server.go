// Package server wires the research stack and exposes it over HTTP.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/deepcounsel/deepcounsel/config"
	"github.com/deepcounsel/deepcounsel/internal/budget"
	"github.com/deepcounsel/deepcounsel/internal/classify"
	"github.com/deepcounsel/deepcounsel/internal/extract"
	"github.com/deepcounsel/deepcounsel/internal/ledger"
	"github.com/deepcounsel/deepcounsel/internal/llm"
	"github.com/deepcounsel/deepcounsel/internal/research"
	"github.com/deepcounsel/deepcounsel/internal/search"
	"github.com/deepcounsel/deepcounsel/internal/search/tavily"
	"github.com/deepcounsel/deepcounsel/internal/store"
	"github.com/deepcounsel/deepcounsel/internal/telemetry"
	"github.com/deepcounsel/deepcounsel/internal/workflow"
)

// Core is the wired research stack, shared by the HTTP server and
// one-shot CLI runs.
type Core struct {
	Store   *store.Store
	Redis   *redis.Client
	Ledger  *ledger.Ledger
	Guard   *budget.Guard
	Engine  *research.Engine
	Metrics *telemetry.Metrics
}

// Close releases the Core's connections.
func (c *Core) Close() {
	if c.Store != nil && c.Store.DB != nil {
		_ = c.Store.DB.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}

// BuildCore constructs the full pipeline from config: store, redis,
// ledger, guard, search, extraction, providers, workflow engine, and the
// research engine on top.
func BuildCore(ctx context.Context, cfg *config.Config) (*Core, error) {
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return nil, err
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connection failed: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr(),
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
	}

	led := ledger.New(st, ledger.Config{
		CacheTTL:          cfg.Cache.TTL,
		CacheMaxEntries:   cfg.Cache.MaxEntries,
		DefaultPlan:       cfg.Limits.DefaultPlan,
		DefaultDailyLimit: cfg.Limits.PlanLimit(cfg.Limits.DefaultPlan),
	})

	limits := budget.Limits{
		DailyTokens:  cfg.Limits.DailyTokenBudget,
		WindowTokens: cfg.Limits.WindowTokens,
		Window:       cfg.Limits.Window,
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	guard := budget.NewGuard(limits, budget.NewRedisCounters(rdb), nil)

	if cfg.Search.APIKey == "" {
		return nil, fmt.Errorf("search api key not configured (TAVILY_API_KEY or search.api_key)")
	}
	searcher := tavily.New(cfg.Search.APIKey, cfg.Search.BaseURL, cfg.Search.Timeout)
	tool := search.NewTool(searcher, cfg.Search.Domains, nil)

	extractor, err := extract.New(cfg.Extract.Renderer, cfg.Extract.Timeout, cfg.Extract.MaxChars)
	if err != nil {
		return nil, err
	}

	primary, err := buildProvider(cfg, cfg.LLM.Routing.Synthesis)
	if err != nil {
		return nil, err
	}
	var fallback llm.Provider
	if name := cfg.LLM.Routing.Fallback; name != "" {
		fallback, err = buildProvider(cfg, name)
		if err != nil {
			// A dead fallback should not block startup; the primary
			// retry path still works without it.
			log.Printf("[SERVER] fallback provider %q unavailable: %v", name, err)
			fallback = nil
		}
	}

	var metrics *telemetry.Metrics
	if cfg.Telemetry.Enabled {
		pricing := make(map[string]llm.Pricing, len(cfg.LLM.Providers))
		for _, p := range cfg.LLM.Providers {
			pricing[p.Type] = llm.Pricing{InputPer1K: p.CostPer1KInput, OutputPer1K: p.CostPer1KOutput}
		}
		metrics = telemetry.New(nil, pricing)
		metrics.WatchUsageCache(led.CacheStats)
	}

	workflows := workflow.NewEngine(workflow.Options{
		Search:      tool,
		Extractor:   extractor,
		Primary:     primary,
		Fallback:    fallback,
		Metrics:     metrics,
		MaxExtract:  cfg.Extract.MaxURLs,
		Temperature: float32(cfg.LLM.Temperature),
	})

	budgets := classify.Budgets{
		Simple: cfg.Research.Budgets.Simple,
		Light:  cfg.Research.Budgets.Light,
		Medium: cfg.Research.Budgets.Medium,
		Deep:   cfg.Research.Budgets.Deep,
	}
	keywords := classify.Keywords{
		Deep:          cfg.Research.Keywords.Deep,
		Comparison:    cfg.Research.Keywords.Comparison,
		LegalTopics:   cfg.Research.Keywords.LegalTopics,
		TimeSensitive: cfg.Research.Keywords.TimeSensitive,
		Greetings:     cfg.Research.Keywords.Greetings,
	}
	router := research.NewRouter(budgets).WithStepBudgets(
		cfg.Research.Steps.Basic,
		cfg.Research.Steps.Advanced,
		cfg.Research.Steps.Comprehensive,
	)

	engine := research.NewEngine(research.Options{
		Classifier:    classify.New(keywords, budgets),
		Router:        router,
		Workflows:     workflows,
		Ledger:        led,
		Guard:         guard,
		Runs:          st,
		Primary:       primary,
		Fallback:      fallback,
		Metrics:       metrics,
		MaxQueryChars: cfg.General.MaxQueryChars,
		Jurisdiction:  cfg.General.Jurisdiction,
		WarnBelow:     cfg.Research.Grounding.WarnBelow,
	})

	return &Core{
		Store:   st,
		Redis:   rdb,
		Ledger:  led,
		Guard:   guard,
		Engine:  engine,
		Metrics: metrics,
	}, nil
}

func buildProvider(cfg *config.Config, name string) (llm.Provider, error) {
	pc, ok := cfg.LLM.Providers[name]
	if !ok {
		return nil, fmt.Errorf("llm provider %q not configured", name)
	}
	if pc.APIKey == "" {
		return nil, fmt.Errorf("llm provider %q has no api key (OPENAI_API_KEY / ANTHROPIC_API_KEY)", name)
	}
	return llm.New(llm.Config{
		Provider:    pc.Type,
		APIKey:      pc.APIKey,
		BaseURL:     pc.BaseURL,
		Model:       pc.Model,
		MaxTokens:   pc.MaxTokens,
		Temperature: float32(cfg.LLM.Temperature),
		Timeout:     pc.Timeout,
		Pricing:     llm.Pricing{InputPer1K: pc.CostPer1KInput, OutputPer1K: pc.CostPer1KOutput},
	})
}

// Run migrates the usage schema, wires the Core, and serves the HTTP API
// until the listener stops.
func Run(cfg *config.Config) error {
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	ctx := context.Background()
	core, err := BuildCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer core.Close()

	sched := &Scheduler{
		Store: core.Store,
		Rdb:   core.Redis,
		Spec:  cfg.Scheduler.UsageReset,
		Stop:  make(chan struct{}),
	}
	sched.Start()
	defer close(sched.Stop)

	e := newEcho()
	api := e.Group("/api")
	(&ResearchHandler{Engine: core.Engine}).Register(api)
	(&UsageHandler{Ledger: core.Ledger}).Register(api)
	(&RunsHandler{Store: core.Store}).Register(api)

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":8880"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// newEcho builds the echo instance with recovery, CORS, the unified JSON
// error handler, and the operational endpoints.
func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	httpLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		httpLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]any{"error": msg})
		}
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}
