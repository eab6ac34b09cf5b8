package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/grant-funnel/internal/dedup"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Cascade   CascadeConfig   `yaml:"cascade" mapstructure:"cascade"`
	Funnel    FunnelConfig    `yaml:"funnel" mapstructure:"funnel"`
	Dedup     dedup.Config    `yaml:"dedup" mapstructure:"dedup"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Circuit   CircuitConfig   `yaml:"circuit" mapstructure:"circuit"`
	Discovery DiscoveryConfig `yaml:"discovery" mapstructure:"discovery"`
	Enrich    EnrichConfig    `yaml:"enrich" mapstructure:"enrich"`
	Profiles  ProfilesConfig  `yaml:"profiles" mapstructure:"profiles"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Schedule  ScheduleConfig  `yaml:"schedule" mapstructure:"schedule"`
	Events    EventsConfig    `yaml:"events" mapstructure:"events"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Temporal  TemporalConfig  `yaml:"temporal" mapstructure:"temporal"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the opportunity store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	DataDir     string `yaml:"data_dir" mapstructure:"data_dir"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings. Each cascade stage can use
// its own model.
type AnthropicConfig struct {
	Key             string `yaml:"key" mapstructure:"key"`
	ValidationModel string `yaml:"validation_model" mapstructure:"validation_model"`
	StrategicModel  string `yaml:"strategic_model" mapstructure:"strategic_model"`
	DetailedModel   string `yaml:"detailed_model" mapstructure:"detailed_model"`
	MaxTokens       int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// CascadeConfig configures the validation, strategic and detailed stages.
type CascadeConfig struct {
	BatchSize        int     `yaml:"batch_size" mapstructure:"batch_size"`
	StageTimeoutSecs int     `yaml:"stage_timeout_secs" mapstructure:"stage_timeout_secs"`
	Lenient          bool    `yaml:"lenient" mapstructure:"lenient"`
	Enrich           bool    `yaml:"enrich" mapstructure:"enrich"`
	CostBudgetUSD    float64 `yaml:"cost_budget_usd" mapstructure:"cost_budget_usd"`
	Concurrency      int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// StageTimeout returns the per-call timeout.
func (c CascadeConfig) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutSecs) * time.Second
}

// FunnelConfig holds the promotion thresholds and score fusion weights.
type FunnelConfig struct {
	AutoPromoteScore      float64 `yaml:"auto_promote_score" mapstructure:"auto_promote_score"`
	AutoPromoteConfidence float64 `yaml:"auto_promote_confidence" mapstructure:"auto_promote_confidence"`
	RecommendScore        float64 `yaml:"recommend_score" mapstructure:"recommend_score"`
	MissionWeight         float64 `yaml:"mission_weight" mapstructure:"mission_weight"`
	LocalWeight           float64 `yaml:"local_weight" mapstructure:"local_weight"`
	GranteeFastTrackScore float64 `yaml:"grantee_fast_track_score" mapstructure:"grantee_fast_track_score"`
}

// RetryConfig configures bounded backoff for external calls and store writes.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter" mapstructure:"jitter"`
}

// CircuitConfig configures the per-stage circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// DiscoveryConfig configures the candidate sources.
type DiscoveryConfig struct {
	GrantsGov     GrantsGovConfig   `yaml:"grants_gov" mapstructure:"grants_gov"`
	ProPublica    ProPublicaConfig  `yaml:"propublica" mapstructure:"propublica"`
	BMF           BMFConfig         `yaml:"bmf" mapstructure:"bmf"`
	Spreadsheet   SpreadsheetConfig `yaml:"spreadsheet" mapstructure:"spreadsheet"`
	CacheTTLHours int               `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	RedisAddr     string            `yaml:"redis_addr" mapstructure:"redis_addr"`
}

// GrantsGovConfig configures the Grants.gov search2 source.
type GrantsGovConfig struct {
	Enabled   bool     `yaml:"enabled" mapstructure:"enabled"`
	URL       string   `yaml:"url" mapstructure:"url"`
	Keywords  []string `yaml:"keywords" mapstructure:"keywords"`
	Rows      int      `yaml:"rows" mapstructure:"rows"`
	MaxPages  int      `yaml:"max_pages" mapstructure:"max_pages"`
	RateLimit float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// ProPublicaConfig configures the Nonprofit Explorer source.
type ProPublicaConfig struct {
	Enabled   bool     `yaml:"enabled" mapstructure:"enabled"`
	URL       string   `yaml:"url" mapstructure:"url"`
	Queries   []string `yaml:"queries" mapstructure:"queries"`
	States    []string `yaml:"states" mapstructure:"states"`
	MaxPages  int      `yaml:"max_pages" mapstructure:"max_pages"`
	RateLimit float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// BMFConfig configures the IRS Business Master File source.
type BMFConfig struct {
	Enabled      bool     `yaml:"enabled" mapstructure:"enabled"`
	URL          string   `yaml:"url" mapstructure:"url"`
	States       []string `yaml:"states" mapstructure:"states"`
	NTEEPrefixes []string `yaml:"ntee_prefixes" mapstructure:"ntee_prefixes"`
	Limit        int      `yaml:"limit" mapstructure:"limit"`
}

// SpreadsheetConfig configures the staff-maintained XLSX source.
type SpreadsheetConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
	Sheet   string `yaml:"sheet" mapstructure:"sheet"`
}

// EnrichConfig configures web intelligence extraction.
type EnrichConfig struct {
	MaxPages    int     `yaml:"max_pages" mapstructure:"max_pages"`
	MaxDepth    int     `yaml:"max_depth" mapstructure:"max_depth"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	CostUSD     float64 `yaml:"cost_usd" mapstructure:"cost_usd"`
}

// ProfilesConfig locates organization profiles.
type ProfilesConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	JWTSecret   string   `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// ScheduleConfig configures periodic discovery runs in serve mode.
type ScheduleConfig struct {
	Spec     string   `yaml:"spec" mapstructure:"spec"`
	Profiles []string `yaml:"profiles" mapstructure:"profiles"`
}

// EventsConfig configures transition event publishing.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url" mapstructure:"nats_url"`
	Subject string `yaml:"subject" mapstructure:"subject"`
}

// NotifyConfig configures notifications for opportunities reaching TARGETS.
type NotifyConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url" mapstructure:"slack_webhook_url"`
	NotionToken     string `yaml:"notion_token" mapstructure:"notion_token"`
	NotionDatabase  string `yaml:"notion_database" mapstructure:"notion_database"`
}

// TemporalConfig configures the Temporal client and worker.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// PricingConfig holds per-model pricing rates.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	BatchDiscount float64 `yaml:"batch_discount" mapstructure:"batch_discount"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GRANTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "grants.db")
	v.SetDefault("store.data_dir", "data")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("anthropic.validation_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.strategic_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.detailed_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)

	v.SetDefault("cascade.batch_size", 20)
	v.SetDefault("cascade.stage_timeout_secs", 60)
	v.SetDefault("cascade.lenient", false)
	v.SetDefault("cascade.enrich", true)
	v.SetDefault("cascade.cost_budget_usd", 0.05)
	v.SetDefault("cascade.concurrency", 4)

	v.SetDefault("funnel.auto_promote_score", 0.80)
	v.SetDefault("funnel.auto_promote_confidence", 0.70)
	v.SetDefault("funnel.recommend_score", 0.65)
	v.SetDefault("funnel.mission_weight", 0.6)
	v.SetDefault("funnel.local_weight", 0.4)
	v.SetDefault("funnel.grantee_fast_track_score", 0.85)

	v.SetDefault("dedup.similarity_threshold", 0.85)
	v.SetDefault("dedup.grantee_similarity", 0.85)
	v.SetDefault("dedup.grantee_partial_similarity", 0.75)
	v.SetDefault("dedup.grantee_token_overlap", 0.5)
	v.SetDefault("dedup.fast_track_score", 0.85)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 200)
	v.SetDefault("retry.max_backoff_ms", 5000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)

	v.SetDefault("discovery.cache_ttl_hours", 24*7)
	v.SetDefault("discovery.grants_gov.enabled", true)
	v.SetDefault("discovery.grants_gov.url", "https://api.grants.gov/v1/api/search2")
	v.SetDefault("discovery.grants_gov.rows", 50)
	v.SetDefault("discovery.grants_gov.max_pages", 4)
	v.SetDefault("discovery.grants_gov.rate_limit", 2.0)
	v.SetDefault("discovery.propublica.enabled", true)
	v.SetDefault("discovery.propublica.url", "https://projects.propublica.org/nonprofits/api/v2")
	v.SetDefault("discovery.propublica.max_pages", 2)
	v.SetDefault("discovery.propublica.rate_limit", 1.0)
	v.SetDefault("discovery.bmf.url", "https://www.irs.gov/pub/irs-soi/eo1.csv")
	v.SetDefault("discovery.bmf.ntee_prefixes", []string{"T"})
	v.SetDefault("discovery.bmf.limit", 500)
	v.SetDefault("discovery.spreadsheet.sheet", "Foundations")

	v.SetDefault("enrich.max_pages", 8)
	v.SetDefault("enrich.max_depth", 1)
	v.SetDefault("enrich.timeout_secs", 20)
	v.SetDefault("enrich.user_agent", "grant-funnel/1.0 (+https://github.com/sells-group/grant-funnel)")
	v.SetDefault("enrich.cost_usd", 0.01)

	v.SetDefault("profiles.dir", "profiles")
	v.SetDefault("schedule.spec", "")
	v.SetDefault("events.subject", "grants.funnel.transitions")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "grant-discovery")
}

// Validate checks the settings the given mode depends on. Modes are
// "discover", "serve", "worker" and "funnel" (read-only and manual stage
// commands). All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "file":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of sqlite, postgres, file", c.Store.Driver))
	}

	switch mode {
	case "discover", "worker":
		errs = append(errs, c.validateCascade()...)
	case "serve":
		errs = append(errs, c.validateCascade()...)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "funnel":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateCascade() []string {
	var errs []string
	if c.Anthropic.Key == "" {
		errs = append(errs, "anthropic.key is required")
	}
	if c.Cascade.BatchSize < 1 || c.Cascade.BatchSize > 20 {
		errs = append(errs, "cascade.batch_size must be between 1 and 20")
	}
	for name, v := range map[string]float64{
		"funnel.auto_promote_score":      c.Funnel.AutoPromoteScore,
		"funnel.auto_promote_confidence": c.Funnel.AutoPromoteConfidence,
		"funnel.recommend_score":         c.Funnel.RecommendScore,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, name+" must be between 0 and 1")
		}
	}
	if w := c.Funnel.MissionWeight + c.Funnel.LocalWeight; w < 0.999 || w > 1.001 {
		errs = append(errs, "funnel.mission_weight and funnel.local_weight must sum to 1")
	}
	sort.Strings(errs)
	return errs
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
