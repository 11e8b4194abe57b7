// Package config holds the process-wide configuration tree. It is read
// once at startup from an optional YAML file plus environment overrides;
// there is no hot reload.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full configuration for the DeepCounsel service.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Search    SearchConfig    `mapstructure:"search"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Research  ResearchConfig  `mapstructure:"research"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// GeneralConfig contains application-wide settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	MaxQueryChars  int           `mapstructure:"max_query_chars"`
	Jurisdiction   string        `mapstructure:"jurisdiction"`
}

// ServerConfig contains the HTTP listener settings.
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// SearchConfig configures the external search provider and the domain
// policy applied to its results.
type SearchConfig struct {
	Provider      string             `mapstructure:"provider"`
	APIKey        string             `mapstructure:"api_key"`
	BaseURL       string             `mapstructure:"base_url"`
	Timeout       time.Duration      `mapstructure:"timeout"`
	MaxResultsCap int                `mapstructure:"max_results_cap"`
	Domains       DomainPolicyConfig `mapstructure:"domains"`
}

// ExtractConfig configures URL content extraction.
type ExtractConfig struct {
	Renderer string        `mapstructure:"renderer"` // http or chromedp
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxChars int           `mapstructure:"max_chars"`
	MaxURLs  int           `mapstructure:"max_urls"`
}

// LLMConfig contains the generation provider configurations and the
// routing between them.
type LLMConfig struct {
	Providers   map[string]LLMProvider `mapstructure:"providers"`
	Routing     LLMRoutingConfig       `mapstructure:"routing"`
	Temperature float64                `mapstructure:"temperature"`
}

// LLMProvider is a single generation backend.
type LLMProvider struct {
	Type            string        `mapstructure:"type"` // openai or anthropic
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	Model           string        `mapstructure:"model"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
	CostPer1KInput  float64       `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64       `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig names the provider entries used for each role.
type LLMRoutingConfig struct {
	Synthesis string `mapstructure:"synthesis"`
	Fallback  string `mapstructure:"fallback"`
}

// ResearchConfig holds the tier budgets and classifier vocabularies.
// The keyword lists are tunable heuristics, not a behavioral contract.
type ResearchConfig struct {
	Budgets   TierBudgets     `mapstructure:"budgets"`
	Steps     StepBudgets     `mapstructure:"steps"`
	Keywords  KeywordConfig   `mapstructure:"keywords"`
	Grounding GroundingConfig `mapstructure:"grounding"`
}

// TierBudgets are the approximate per-tier token budgets.
type TierBudgets struct {
	Simple int `mapstructure:"simple"`
	Light  int `mapstructure:"light"`
	Medium int `mapstructure:"medium"`
	Deep   int `mapstructure:"deep"`
}

// StepBudgets are the hard per-workflow step ceilings.
type StepBudgets struct {
	Basic         int `mapstructure:"basic"`
	Advanced      int `mapstructure:"advanced"`
	Comprehensive int `mapstructure:"comprehensive"`
}

// KeywordConfig overrides the classifier vocabularies. Empty lists keep
// the built-in defaults.
type KeywordConfig struct {
	Deep          []string `mapstructure:"deep"`
	Comparison    []string `mapstructure:"comparison"`
	LegalTopics   []string `mapstructure:"legal_topics"`
	TimeSensitive []string `mapstructure:"time_sensitive"`
	Greetings     []string `mapstructure:"greetings"`
}

// GroundingConfig tunes citation verification reporting.
type GroundingConfig struct {
	WarnBelow float64 `mapstructure:"warn_below"`
}

// LimitsConfig holds the shared spending caps and plan quotas.
type LimitsConfig struct {
	DailyTokenBudget int64          `mapstructure:"daily_token_budget"`
	WindowTokens     int64          `mapstructure:"window_tokens"`
	Window           time.Duration  `mapstructure:"window"`
	Plans            map[string]int `mapstructure:"plans"`
	DefaultPlan      string         `mapstructure:"default_plan"`
}

// PlanLimit returns the daily request limit for plan, falling back to
// the free tier when the plan is unknown.
func (l LimitsConfig) PlanLimit(plan string) int {
	if n, ok := l.Plans[strings.ToLower(plan)]; ok && n > 0 {
		return n
	}
	if n, ok := l.Plans["free"]; ok && n > 0 {
		return n
	}
	return 20
}

// CacheConfig tunes the usage read cache.
type CacheConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
}

// StorageConfig contains persistence settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN assembles a connection string, preferring the explicit URL.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == 0 {
		port = 5432
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Addr is the host:port dial address.
func (r RedisConfig) Addr() string {
	port := r.Port
	if port == 0 {
		port = 6379
	}
	return fmt.Sprintf("%s:%d", r.Host, port)
}

// TelemetryConfig controls metrics exposure.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// SchedulerConfig controls the usage-reset sweep.
type SchedulerConfig struct {
	UsageReset string `mapstructure:"usage_reset"` // "@daily", "@hourly", or a cron expression
}

// Load reads configuration from the optional file at path (a file or a
// directory to search), environment variables, and defaults, in
// ascending precedence of defaults < file < env.
func Load(path string) (*Config, error) {
	// Dev convenience; a missing .env is not an error.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("deepcounsel")
	v.SetConfigType("yaml")
	if path != "" {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			v.SetConfigFile(path)
		} else {
			v.AddConfigPath(path)
		}
	}
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("DEEPCOUNSEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	overrideFromEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Search.Domains = cfg.Search.Domains.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.default_timeout", "30s")
	v.SetDefault("general.max_query_chars", 2000)
	v.SetDefault("general.jurisdiction", "Zimbabwe")

	v.SetDefault("server.address", ":8880")

	v.SetDefault("search.provider", "tavily")
	v.SetDefault("search.timeout", "20s")
	v.SetDefault("search.max_results_cap", 20)
	v.SetDefault("search.domains.mode", DomainModePrioritized)
	v.SetDefault("search.domains.allow", DefaultAllowedDomains())
	v.SetDefault("search.domains.block", DefaultBlockedDomains())

	v.SetDefault("extract.renderer", "http")
	v.SetDefault("extract.timeout", "15s")
	v.SetDefault("extract.max_chars", 20000)
	v.SetDefault("extract.max_urls", 2)

	v.SetDefault("llm.routing.synthesis", "openai")
	v.SetDefault("llm.routing.fallback", "anthropic")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.providers.openai.type", "openai")
	v.SetDefault("llm.providers.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.providers.openai.max_tokens", 4096)
	v.SetDefault("llm.providers.openai.timeout", "60s")
	v.SetDefault("llm.providers.openai.cost_per_1k_input", 0.00015)
	v.SetDefault("llm.providers.openai.cost_per_1k_output", 0.0006)
	v.SetDefault("llm.providers.anthropic.type", "anthropic")
	v.SetDefault("llm.providers.anthropic.model", "claude-3-5-haiku-latest")
	v.SetDefault("llm.providers.anthropic.max_tokens", 4096)
	v.SetDefault("llm.providers.anthropic.timeout", "60s")
	v.SetDefault("llm.providers.anthropic.cost_per_1k_input", 0.0008)
	v.SetDefault("llm.providers.anthropic.cost_per_1k_output", 0.004)

	v.SetDefault("research.budgets.simple", 1750)
	v.SetDefault("research.budgets.light", 1750)
	v.SetDefault("research.budgets.medium", 6000)
	v.SetDefault("research.budgets.deep", 19000)
	v.SetDefault("research.steps.basic", 3)
	v.SetDefault("research.steps.advanced", 6)
	v.SetDefault("research.steps.comprehensive", 10)
	v.SetDefault("research.grounding.warn_below", 0.6)

	v.SetDefault("limits.daily_token_budget", 150000)
	v.SetDefault("limits.window_tokens", 40000)
	v.SetDefault("limits.window", "10m")
	v.SetDefault("limits.default_plan", "free")
	v.SetDefault("limits.plans", map[string]int{"free": 20, "pro": 200, "chambers": 2000})

	v.SetDefault("cache.ttl", "5s")
	v.SetDefault("cache.max_entries", 10000)

	v.SetDefault("storage.postgres.host", "")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.timeout", "5s")

	v.SetDefault("telemetry.enabled", true)

	v.SetDefault("scheduler.usage_reset", "@daily")
}

// overrideFromEnv maps the conventional secret variables onto their
// config slots. These win over the file but keep secrets out of it.
func overrideFromEnv(v *viper.Viper) {
	if key := os.Getenv("TAVILY_API_KEY"); key != "" {
		v.Set("search.api_key", key)
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		v.Set("llm.providers.openai.api_key", key)
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		v.Set("llm.providers.anthropic.api_key", key)
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		v.Set("storage.postgres.url", url)
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		v.Set("storage.postgres.host", host)
	}
	if port := os.Getenv("POSTGRES_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.Set("storage.postgres.port", p)
		}
	}
	if user := os.Getenv("POSTGRES_USER"); user != "" {
		v.Set("storage.postgres.user", user)
	}
	if pass := os.Getenv("POSTGRES_PASSWORD"); pass != "" {
		v.Set("storage.postgres.password", pass)
	}
	if db := os.Getenv("POSTGRES_DB"); db != "" {
		v.Set("storage.postgres.dbname", db)
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		v.Set("storage.redis.host", host)
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.Set("storage.redis.port", p)
		}
	}
	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		v.Set("storage.redis.password", pass)
	}
}

// Validate checks the tree for internal consistency. It does not require
// secrets: their absence fails at wiring time with a pointed message.
func (c *Config) Validate() error {
	if err := c.Search.Domains.Validate(); err != nil {
		return err
	}
	if len(c.LLM.Providers) == 0 {
		return fmt.Errorf("at least one llm provider must be configured")
	}
	if c.LLM.Routing.Synthesis == "" {
		return fmt.Errorf("llm.routing.synthesis is required")
	}
	if _, ok := c.LLM.Providers[c.LLM.Routing.Synthesis]; !ok {
		return fmt.Errorf("llm.routing.synthesis %q not found in llm.providers", c.LLM.Routing.Synthesis)
	}
	if f := c.LLM.Routing.Fallback; f != "" {
		if _, ok := c.LLM.Providers[f]; !ok {
			return fmt.Errorf("llm.routing.fallback %q not found in llm.providers", f)
		}
	}
	for name, b := range map[string]int{
		"simple": c.Research.Budgets.Simple,
		"light":  c.Research.Budgets.Light,
		"medium": c.Research.Budgets.Medium,
		"deep":   c.Research.Budgets.Deep,
	} {
		if b < 0 {
			return fmt.Errorf("research.budgets.%s cannot be negative", name)
		}
	}
	if c.Limits.DailyTokenBudget < 0 || c.Limits.WindowTokens < 0 {
		return fmt.Errorf("limits cannot be negative")
	}
	if c.Limits.WindowTokens > 0 && c.Limits.Window <= 0 {
		return fmt.Errorf("limits.window_tokens requires limits.window")
	}
	if c.Cache.TTL < 0 || c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache settings cannot be negative")
	}
	if c.General.MaxQueryChars <= 0 {
		return fmt.Errorf("general.max_query_chars must be positive")
	}
	return nil
}
