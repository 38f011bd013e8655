// Package config loads serprank configuration from a YAML file and
// SERPRANK_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/FranksOps/serprank/internal/provider"
)

// CacheConfig configures result caching.
type CacheConfig struct {
	Backend        string        `mapstructure:"backend"` // memory or redis
	TTL            time.Duration `mapstructure:"ttl"`
	StaleRetention time.Duration `mapstructure:"stale_retention"`
	Namespace      string        `mapstructure:"namespace"`
	Compress       bool          `mapstructure:"compress"`
	RedisAddr      string        `mapstructure:"redis_addr"`
	RedisPassword  string        `mapstructure:"redis_password"`
	RedisDB        int           `mapstructure:"redis_db"`
}

// BudgetConfig configures spend limits.
type BudgetConfig struct {
	Daily             float64 `mapstructure:"daily"`
	Monthly           float64 `mapstructure:"monthly"`
	WarningThreshold  float64 `mapstructure:"warning_threshold"`
	CriticalThreshold float64 `mapstructure:"critical_threshold"`
	MirrorToRedis     bool    `mapstructure:"mirror_to_redis"`
}

// ClientConfig configures the search client's resilience machinery.
type ClientConfig struct {
	BreakerEnabled   bool          `mapstructure:"breaker_enabled"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
	Burst            int           `mapstructure:"burst"`
	Concurrency      int           `mapstructure:"concurrency"`
	QueueSize        int           `mapstructure:"queue_size"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	CacheFallback    bool          `mapstructure:"cache_fallback"`
}

// StorageConfig configures the audit backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // memory, sqlite or postgres
	Path    string `mapstructure:"path"`    // sqlite file path
	DSN     string `mapstructure:"dsn"`     // postgres connection string
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// ScrapeConfig tunes the direct-scraping provider.
type ScrapeConfig struct {
	Fingerprint string   `mapstructure:"fingerprint"` // chrome, firefox, safari, random or go
	UserAgents  []string `mapstructure:"user_agents"`
	Proxies     []string `mapstructure:"proxies"`
	ProxyFile   string   `mapstructure:"proxy_file"`
}

// AnalyzerConfig configures ranking analysis.
type AnalyzerConfig struct {
	TargetDomain      string   `mapstructure:"target_domain"`
	Competitors       []string `mapstructure:"competitors"`
	IncludeSubdomains bool     `mapstructure:"include_subdomains"`
	TrackSerpFeatures bool     `mapstructure:"track_serp_features"`
}

// Config is the full serprank configuration.
type Config struct {
	LogLevel  string            `mapstructure:"log_level"`
	Providers []provider.Config `mapstructure:"providers"`
	Cache     CacheConfig       `mapstructure:"cache"`
	Budget    BudgetConfig      `mapstructure:"budget"`
	Client    ClientConfig      `mapstructure:"client"`
	Storage   StorageConfig     `mapstructure:"storage"`
	Scrape    ScrapeConfig      `mapstructure:"scrape"`
	Metrics   MetricsConfig     `mapstructure:"metrics"`
	Analyzer  AnalyzerConfig    `mapstructure:"analyzer"`
}

// Load reads configuration from path (or from serprank.yaml in the
// working directory and /etc/serprank when path is empty). Environment
// variables prefixed SERPRANK_ override file values, with dots replaced
// by underscores (SERPRANK_BUDGET_DAILY overrides budget.daily).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("serprank")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/serprank")
	}

	v.SetEnvPrefix("SERPRANK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
		// No file is fine: defaults plus environment carry a minimal setup.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the rest of the system cannot run on.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("config: at least one provider must be configured")
	}
	seen := make(map[string]bool, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Name == "" {
			return fmt.Errorf("config: provider %d has no name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("config: duplicate provider %q", p.Name)
		}
		seen[p.Name] = true
		if p.CostPerQuery < 0 {
			return fmt.Errorf("config: provider %q has negative cost_per_query", p.Name)
		}
	}

	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		return fmt.Errorf("config: cache backend redis requires redis_addr")
	}
	if c.Cache.StaleRetention < 0 {
		return fmt.Errorf("config: cache stale_retention must not be negative")
	}

	switch c.Storage.Backend {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "sqlite" && c.Storage.Path == "" {
		return fmt.Errorf("config: storage backend sqlite requires path")
	}
	if c.Storage.Backend == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("config: storage backend postgres requires dsn")
	}

	if c.Budget.WarningThreshold <= 0 || c.Budget.WarningThreshold > 1 {
		return fmt.Errorf("config: budget warning_threshold must be in (0,1]")
	}
	if c.Budget.CriticalThreshold < c.Budget.WarningThreshold || c.Budget.CriticalThreshold > 1 {
		return fmt.Errorf("config: budget critical_threshold must be in [warning_threshold,1]")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("cache.stale_retention", 72*time.Hour)
	v.SetDefault("cache.namespace", "serp")
	v.SetDefault("cache.compress", true)
	v.SetDefault("cache.redis_db", 0)

	v.SetDefault("budget.daily", 10.0)
	v.SetDefault("budget.monthly", 200.0)
	v.SetDefault("budget.warning_threshold", 0.80)
	v.SetDefault("budget.critical_threshold", 0.95)

	v.SetDefault("client.breaker_enabled", true)
	v.SetDefault("client.breaker_threshold", 5)
	v.SetDefault("client.breaker_timeout", time.Minute)
	v.SetDefault("client.burst", 10)
	v.SetDefault("client.concurrency", 5)
	v.SetDefault("client.queue_size", 100)
	v.SetDefault("client.max_retries", 3)
	v.SetDefault("client.retry_backoff", time.Second)
	v.SetDefault("client.cache_fallback", true)

	v.SetDefault("storage.backend", "memory")

	v.SetDefault("scrape.fingerprint", "chrome")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("analyzer.include_subdomains", true)
	v.SetDefault("analyzer.track_serp_features", true)
}
