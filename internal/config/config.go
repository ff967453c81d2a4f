// Package config loads pipeline configuration from config.yaml and ELT_*
// environment variables and bootstraps the global logger.
package config

import (
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/youthfin-elt/internal/db"
)

// Config is the root configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Policy   PolicyConfig   `yaml:"policy" mapstructure:"policy"`
	Finance  FinanceConfig  `yaml:"finance" mapstructure:"finance"`
	Fetcher  FetcherConfig  `yaml:"fetcher" mapstructure:"fetcher"`
	Retry    RetryConfig    `yaml:"retry" mapstructure:"retry"`
	Classify ClassifyConfig `yaml:"classify" mapstructure:"classify"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Redis    RedisConfig    `yaml:"redis" mapstructure:"redis"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the PostgreSQL connection.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// Pool returns the pool tuning parameters.
func (s StoreConfig) Pool() db.PoolConfig {
	return db.PoolConfig{MaxConns: s.MaxConns, MinConns: s.MinConns}
}

// PolicyConfig configures the youth-policy feed.
type PolicyConfig struct {
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	APIKey         string `yaml:"api_key" mapstructure:"api_key"`
	PageSize       int    `yaml:"page_size" mapstructure:"page_size"`
	StartPage      int    `yaml:"start_page" mapstructure:"start_page"`
	EndPage        int    `yaml:"end_page" mapstructure:"end_page"`
	ExtSource      string `yaml:"ext_source" mapstructure:"ext_source"`
	StaleAfterDays int    `yaml:"stale_after_days" mapstructure:"stale_after_days"`
	LookbackDays   int    `yaml:"lookback_days" mapstructure:"lookback_days"`
	BatchSize      int    `yaml:"batch_size" mapstructure:"batch_size"`
}

// FinanceConfig configures the finlife deposit/saving feed.
type FinanceConfig struct {
	APIKey           string   `yaml:"api_key" mapstructure:"api_key"`
	DepositURL       string   `yaml:"deposit_url" mapstructure:"deposit_url"`
	SavingURL        string   `yaml:"saving_url" mapstructure:"saving_url"`
	TopFinGroups     []string `yaml:"top_fin_groups" mapstructure:"top_fin_groups"`
	StartPage        int      `yaml:"start_page" mapstructure:"start_page"`
	EndPage          int      `yaml:"end_page" mapstructure:"end_page"`
	ReconcileBuckets int      `yaml:"reconcile_buckets" mapstructure:"reconcile_buckets"`
}

// FetcherConfig configures the HTTP fetcher.
type FetcherConfig struct {
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// RetryConfig configures backoff for transient external faults.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// ClassifyConfig configures special-condition classification.
type ClassifyConfig struct {
	AnthropicKey string  `yaml:"anthropic_key" mapstructure:"anthropic_key"`
	Model        string  `yaml:"model" mapstructure:"model"`
	MaxTokens    int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Concurrency  int     `yaml:"concurrency" mapstructure:"concurrency"`
	MaxAttempts  int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	RatePerSec   float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// ServerConfig configures the read API.
type ServerConfig struct {
	Port         int      `yaml:"port" mapstructure:"port"`
	CORSOrigins  []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	CacheTTLSecs int      `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
}

// RedisConfig configures the optional API response cache.
type RedisConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml (if present) and ELT_* env vars.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ELT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default so AutomaticEnv values reach Unmarshal.
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("policy.base_url", "https://www.youthcenter.go.kr/go/ythip/getPlcy")
	v.SetDefault("policy.api_key", "")
	v.SetDefault("policy.page_size", 100)
	v.SetDefault("policy.start_page", 1)
	v.SetDefault("policy.end_page", 0)
	v.SetDefault("policy.ext_source", "youthcenter")
	v.SetDefault("policy.stale_after_days", 14)
	v.SetDefault("policy.lookback_days", 0)
	v.SetDefault("policy.batch_size", 1000)
	v.SetDefault("finance.api_key", "")
	v.SetDefault("finance.deposit_url", "https://finlife.fss.or.kr/finlifeapi/depositProductsSearch.json")
	v.SetDefault("finance.saving_url", "https://finlife.fss.or.kr/finlifeapi/savingProductsSearch.json")
	v.SetDefault("finance.top_fin_groups", []string{"020000", "030300"})
	v.SetDefault("finance.start_page", 1)
	v.SetDefault("finance.end_page", 0)
	v.SetDefault("finance.reconcile_buckets", 4)
	v.SetDefault("fetcher.timeout_secs", 20)
	v.SetDefault("fetcher.max_retries", 5)
	v.SetDefault("fetcher.rate_per_sec", 5.0)
	v.SetDefault("fetcher.user_agent", "youthfin-elt/1.0")
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 5000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("classify.anthropic_key", "")
	v.SetDefault("classify.model", "claude-haiku-4-5-20251001")
	v.SetDefault("classify.max_tokens", 512)
	v.SetDefault("classify.concurrency", 4)
	v.SetDefault("classify.max_attempts", 3)
	v.SetDefault("classify.rate_per_sec", 2.0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.cache_ttl_secs", 60)
	v.SetDefault("redis.url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Requirement names a group of settings a command needs before it runs.
type Requirement int

// Requirements checked by Validate.
const (
	NeedDatabase Requirement = iota
	NeedPolicyAPI
	NeedFinanceAPI
)

// Validate reports the first missing setting among the given requirements.
// It runs before any stage so configuration faults fail at startup.
func (c *Config) Validate(reqs ...Requirement) error {
	for _, r := range reqs {
		switch r {
		case NeedDatabase:
			if c.Store.DatabaseURL == "" {
				return eris.New("config: store.database_url is required (ELT_STORE_DATABASE_URL)")
			}
		case NeedPolicyAPI:
			if c.Policy.APIKey == "" {
				return eris.New("config: policy.api_key is required (ELT_POLICY_API_KEY)")
			}
			if c.Policy.BaseURL == "" {
				return eris.New("config: policy.base_url is required")
			}
		case NeedFinanceAPI:
			if c.Finance.APIKey == "" {
				return eris.New("config: finance.api_key is required (ELT_FINANCE_API_KEY)")
			}
			if len(c.Finance.TopFinGroups) == 0 {
				return eris.New("config: finance.top_fin_groups must not be empty")
			}
		}
	}
	return nil
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
