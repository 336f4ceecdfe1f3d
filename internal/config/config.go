package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Jina      JinaConfig      `yaml:"jina" mapstructure:"jina"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Scrape    ScrapeConfig    `yaml:"scrape" mapstructure:"scrape"`
	Discovery DiscoveryConfig `yaml:"discovery" mapstructure:"discovery"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Circuit   CircuitConfig   `yaml:"circuit" mapstructure:"circuit"`
	Dedupe    DedupeConfig    `yaml:"dedupe" mapstructure:"dedupe"`
	DLQ       DLQConfig       `yaml:"dlq" mapstructure:"dlq"`
	Cron      CronConfig      `yaml:"cron" mapstructure:"cron"`
	Monitor   MonitorConfig   `yaml:"monitor" mapstructure:"monitor"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int    `yaml:"max_conns" mapstructure:"max_conns"`
}

// CacheConfig configures process-wide TTL state. An empty RedisURL keeps
// everything in memory.
type CacheConfig struct {
	RedisURL         string `yaml:"redis_url" mapstructure:"redis_url"`
	ScrapeTTLMins    int    `yaml:"scrape_ttl_mins" mapstructure:"scrape_ttl_mins"`
	KeyPrefix        string `yaml:"key_prefix" mapstructure:"key_prefix"`
	MaxMemoryEntries int    `yaml:"max_memory_entries" mapstructure:"max_memory_entries"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key              string `yaml:"key" mapstructure:"key"`
	DiscoveryModel   string `yaml:"discovery_model" mapstructure:"discovery_model"`
	ExtractionModel  string `yaml:"extraction_model" mapstructure:"extraction_model"`
	AdjudicatorModel string `yaml:"adjudicator_model" mapstructure:"adjudicator_model"`
	MaxTokens        int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// JinaConfig holds Jina AI Reader settings.
type JinaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// PricingConfig holds per-model token pricing used for job cost tracking.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// ScrapeConfig configures page fetching.
type ScrapeConfig struct {
	Browser         bool     `yaml:"browser" mapstructure:"browser"`
	ChromePath      string   `yaml:"chrome_path" mapstructure:"chrome_path"`
	PageTimeoutSecs int      `yaml:"page_timeout_secs" mapstructure:"page_timeout_secs"`
	ScrollSteps     int      `yaml:"scroll_steps" mapstructure:"scroll_steps"`
	ScrollDelayMs   int      `yaml:"scroll_delay_ms" mapstructure:"scroll_delay_ms"`
	MaxLinks        int      `yaml:"max_links" mapstructure:"max_links"`
	MaxMarkdownKB   int      `yaml:"max_markdown_kb" mapstructure:"max_markdown_kb"`
	HostRPS         float64  `yaml:"host_rps" mapstructure:"host_rps"`
	UserAgent       string   `yaml:"user_agent" mapstructure:"user_agent"`
	// ExcludePatterns replaces the built-in path exclusions when set.
	ExcludePatterns []string `yaml:"exclude_patterns" mapstructure:"exclude_patterns"`
}

// DiscoveryConfig bounds discovery and detail-page follow-up.
type DiscoveryConfig struct {
	MaxSuggestedPages int `yaml:"max_suggested_pages" mapstructure:"max_suggested_pages"`
	MaxDetailPages    int `yaml:"max_detail_pages" mapstructure:"max_detail_pages"`
}

// BatchConfig configures deep-dive batching.
type BatchConfig struct {
	Size       int `yaml:"size" mapstructure:"size"`
	MinDelayMs int `yaml:"min_delay_ms" mapstructure:"min_delay_ms"`
	MaxDelayMs int `yaml:"max_delay_ms" mapstructure:"max_delay_ms"`
}

// RetryConfig overrides the retry presets.
type RetryConfig struct {
	Scrape PolicyConfig `yaml:"scrape" mapstructure:"scrape"`
	LLM    PolicyConfig `yaml:"llm" mapstructure:"llm"`
	DB     PolicyConfig `yaml:"db" mapstructure:"db"`
}

// PolicyConfig is one retry policy. Delays are per retry in milliseconds.
type PolicyConfig struct {
	MaxRetries int   `yaml:"max_retries" mapstructure:"max_retries"`
	DelaysMs   []int `yaml:"delays_ms" mapstructure:"delays_ms"`
}

// CircuitConfig configures per-service circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// DedupeConfig configures duplicate detection.
type DedupeConfig struct {
	VariantTokensFile string `yaml:"variant_tokens_file" mapstructure:"variant_tokens_file"`
	MaxDistance       int    `yaml:"max_distance" mapstructure:"max_distance"`
	UseAdjudicator    bool   `yaml:"use_adjudicator" mapstructure:"use_adjudicator"`
}

// DLQConfig configures the failed-job queue.
type DLQConfig struct {
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"`
	SweepLimit int `yaml:"sweep_limit" mapstructure:"sweep_limit"`
}

// CronConfig holds schedules for background sweeps in serve mode.
type CronConfig struct {
	CacheSweep string `yaml:"cache_sweep" mapstructure:"cache_sweep"`
	DLQSweep   string `yaml:"dlq_sweep" mapstructure:"dlq_sweep"`
	Monitor    string `yaml:"monitor" mapstructure:"monitor"`
}

// MonitorConfig holds alert thresholds. Alerts are posted to WebhookURL;
// with no URL they are only logged.
type MonitorConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	DLQDepthThreshold    int     `yaml:"dlq_depth_threshold" mapstructure:"dlq_depth_threshold"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from ./config.yaml, if present, and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path and environment. An empty path
// falls back to an optional ./config.yaml; a named file must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	v.SetConfigType("yaml")

	// Environment
	v.SetEnvPrefix("ONBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("cache.scrape_ttl_mins", 60)
	v.SetDefault("cache.key_prefix", "onboard:")
	v.SetDefault("cache.max_memory_entries", 10000)
	v.SetDefault("anthropic.discovery_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.extraction_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.adjudicator_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 8192)
	v.SetDefault("anthropic.timeout_secs", 120)
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("scrape.browser", true)
	v.SetDefault("scrape.page_timeout_secs", 30)
	v.SetDefault("scrape.scroll_steps", 20)
	v.SetDefault("scrape.scroll_delay_ms", 250)
	v.SetDefault("scrape.max_links", 150)
	v.SetDefault("scrape.max_markdown_kb", 60)
	v.SetDefault("scrape.host_rps", 1.0)
	v.SetDefault("scrape.user_agent", "Mozilla/5.0 (compatible; OnboardingBot/1.0)")
	v.SetDefault("discovery.max_suggested_pages", 15)
	v.SetDefault("discovery.max_detail_pages", 10)
	v.SetDefault("batch.size", 5)
	v.SetDefault("batch.min_delay_ms", 3000)
	v.SetDefault("batch.max_delay_ms", 5000)
	v.SetDefault("retry.scrape.max_retries", 3)
	v.SetDefault("retry.scrape.delays_ms", []int{3000, 6000, 12000})
	v.SetDefault("retry.llm.max_retries", 1)
	v.SetDefault("retry.llm.delays_ms", []int{5000})
	v.SetDefault("retry.db.max_retries", 3)
	v.SetDefault("retry.db.delays_ms", []int{1000})
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("dedupe.max_distance", 3)
	v.SetDefault("dlq.max_retries", 3)
	v.SetDefault("dlq.sweep_limit", 20)
	v.SetDefault("cron.cache_sweep", "@every 5m")
	v.SetDefault("cron.dlq_sweep", "@every 15m")
	v.SetDefault("cron.monitor", "@every 5m")
	v.SetDefault("monitor.failure_rate_threshold", 0.25)
	v.SetDefault("monitor.cost_threshold_usd", 50.0)
	v.SetDefault("monitor.dlq_depth_threshold", 25)
	v.SetDefault("monitor.lookback_window_hours", 24)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
