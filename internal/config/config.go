package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Settings   SettingsConfig   `yaml:"settings" mapstructure:"settings"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SettingsConfig configures where the margin document lives and how long
// a resolved copy may be served before it is re-read.
type SettingsConfig struct {
	Backend          string `yaml:"backend" mapstructure:"backend"`
	Key              string `yaml:"key" mapstructure:"key"`
	CacheTTLSecs     int    `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	RedisURL         string `yaml:"redis_url" mapstructure:"redis_url"`
	RedisDB          int    `yaml:"redis_db" mapstructure:"redis_db"`
	BreakerFailures  int    `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerResetSecs int    `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// CacheTTL returns the staleness window for the resolved margin settings.
func (s SettingsConfig) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLSecs) * time.Second
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port                int      `yaml:"port" mapstructure:"port"`
	RateLimitRPS        float64  `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst      int      `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	CORSOrigins         []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// IngestConfig configures price sheet ingestion.
type IngestConfig struct {
	Source      string `yaml:"source" mapstructure:"source"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
	TempDir     string `yaml:"temp_dir" mapstructure:"temp_dir"`
	SheetName   string `yaml:"sheet_name" mapstructure:"sheet_name"`
}

// PricingConfig configures the quote and max-price paths.
type PricingConfig struct {
	MaxPriceConcurrency int `yaml:"max_price_concurrency" mapstructure:"max_price_concurrency"`
}

// MonitoringConfig configures the background health checker.
type MonitoringConfig struct {
	Enabled             bool   `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs   int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int    `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	WebhookURL          string `yaml:"webhook_url" mapstructure:"webhook_url"`
	StaleOfferThreshold int    `yaml:"stale_offer_threshold" mapstructure:"stale_offer_threshold"`
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
	v.SetEnvPrefix("BUYBACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "buyback.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("settings.backend", "store")
	v.SetDefault("settings.key", "margin_settings")
	v.SetDefault("settings.cache_ttl_secs", 60)
	v.SetDefault("settings.redis_url", "redis://localhost:6379/0")
	v.SetDefault("settings.redis_db", 0)
	v.SetDefault("settings.breaker_failures", 5)
	v.SetDefault("settings.breaker_reset_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_rps", 20)
	v.SetDefault("server.rate_limit_burst", 40)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout_secs", 10)
	v.SetDefault("ingest.source", "atlas")
	v.SetDefault("ingest.timeout_secs", 60)
	v.SetDefault("ingest.user_agent", "buyback-pricing/1.0")
	v.SetDefault("ingest.max_retries", 3)
	v.SetDefault("ingest.temp_dir", "/tmp/buyback")
	v.SetDefault("ingest.sheet_name", "")
	v.SetDefault("pricing.max_price_concurrency", 4)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.stale_offer_threshold", 25)
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

// Validate checks the fields a command mode depends on. Modes are "serve",
// "ingest" and "cli"; every mode needs a usable store and settings section.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Server.RateLimitRPS < 0 {
			errs = append(errs, "server.rate_limit_rps must be >= 0")
		}
		if c.Monitoring.Enabled && c.Monitoring.CheckIntervalSecs <= 0 {
			errs = append(errs, "monitoring.check_interval_secs must be > 0")
		}
	case "ingest":
		if c.Ingest.Source == "" {
			errs = append(errs, "ingest.source is required")
		}
	case "cli":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch c.Settings.Backend {
	case "store":
	case "redis":
		if c.Settings.RedisURL == "" {
			errs = append(errs, "settings.redis_url is required for the redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("settings.backend %q is not supported", c.Settings.Backend))
	}
	if c.Settings.CacheTTLSecs < 0 {
		errs = append(errs, "settings.cache_ttl_secs must be >= 0")
	}
	if c.Pricing.MaxPriceConcurrency < 1 || c.Pricing.MaxPriceConcurrency > 64 {
		errs = append(errs, "pricing.max_price_concurrency must be between 1 and 64")
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
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
