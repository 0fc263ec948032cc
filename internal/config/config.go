package config

import (
	"fmt"
	"time"

	"github.com/jonesrussell/marketpulse/internal/cache"
	"github.com/jonesrussell/marketpulse/internal/elasticsearch"
	"github.com/jonesrussell/marketpulse/internal/ingest"
	"github.com/jonesrussell/marketpulse/internal/logger"
	"github.com/jonesrussell/marketpulse/internal/market"
	"github.com/jonesrussell/marketpulse/internal/ratelimit"
	"github.com/jonesrussell/marketpulse/internal/scheduler"
	"github.com/jonesrussell/marketpulse/internal/service"
)

// Default configuration values.
const (
	defaultServiceName    = "marketpulse"
	defaultServiceVersion = "1.0.0"
	defaultServicePort    = 8095
	defaultLogLevel       = "info"
	defaultCacheAddress   = "localhost:6379"
	defaultESAddress      = "http://localhost:9200"
	defaultRateLimit      = 100
	defaultRateWindow     = time.Minute
	defaultQueryTTL       = time.Minute
	defaultQueryLimit     = 10
	defaultQueryMaxLimit  = 50
)

// Config holds all configuration for the marketpulse service.
type Config struct {
	Service       ServiceConfig        `yaml:"service"`
	Logging       logger.Config        `yaml:"logging"`
	Cache         cache.Config         `yaml:"cache"`
	Elasticsearch elasticsearch.Config `yaml:"elasticsearch"`
	RateLimit     ratelimit.Config     `yaml:"rate_limit"`
	Query         service.Config       `yaml:"query"`
	Market        market.Config        `yaml:"market"`
	Ingestion     IngestionConfig      `yaml:"ingestion"`
	Sources       SourcesConfig        `yaml:"sources"`
	Admin         AdminConfig          `yaml:"admin"`
	CORS          CORSConfig           `yaml:"cors"`
}

// ServiceConfig holds service-level settings.
type ServiceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Port    int    `yaml:"port" env:"MARKETPULSE_PORT"`
	Debug   bool   `yaml:"debug" env:"MARKETPULSE_DEBUG"`
}

// AdminConfig holds the admin surface settings. An empty JWTSecret leaves
// the admin routes open.
type AdminConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"ADMIN_JWT_SECRET"`
}

// CORSConfig holds cross-origin settings for the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"CORS_ORIGINS"`
}

// TaskConfig holds the schedule and freshness window for one ingestion task.
type TaskConfig struct {
	Schedule string        `yaml:"schedule"`
	TTL      time.Duration `yaml:"ttl"`
}

// IngestionConfig groups the shared outbound client and the per-task
// schedules.
type IngestionConfig struct {
	Client   ingest.ClientConfig `yaml:"client"`
	News     TaskConfig          `yaml:"news"`
	Crypto   TaskConfig          `yaml:"crypto"`
	Stocks   TaskConfig          `yaml:"stocks"`
	Trends   TaskConfig          `yaml:"trends"`
	Rates    TaskConfig          `yaml:"rates"`
	Economic TaskConfig          `yaml:"economic"`
}

// SourcesConfig holds the upstream settings for each ingest adapter.
type SourcesConfig struct {
	News     ingest.NewsConfig     `yaml:"news"`
	Crypto   ingest.CryptoConfig   `yaml:"crypto"`
	Stocks   ingest.StocksConfig   `yaml:"stocks"`
	Trends   ingest.TrendsConfig   `yaml:"trends"`
	Rates    ingest.RatesConfig    `yaml:"rates"`
	Economic ingest.EconomicConfig `yaml:"economic"`
}

// Load reads the configuration at path, fills defaults, applies env
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := load[Config](path, setDefaults)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = defaultServiceName
	}
	if cfg.Service.Version == "" {
		cfg.Service.Version = defaultServiceVersion
	}
	if cfg.Service.Port == 0 {
		cfg.Service.Port = defaultServicePort
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLogLevel
	}

	if cfg.Cache.Address == "" {
		cfg.Cache.Address = defaultCacheAddress
	}

	if len(cfg.Elasticsearch.Addresses) == 0 {
		cfg.Elasticsearch.Addresses = []string{defaultESAddress}
	}

	if cfg.RateLimit.Limit == 0 {
		cfg.RateLimit.Limit = defaultRateLimit
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = defaultRateWindow
	}

	if cfg.Query.CacheTTL == 0 {
		cfg.Query.CacheTTL = defaultQueryTTL
	}
	if cfg.Query.DefaultLimit == 0 {
		cfg.Query.DefaultLimit = defaultQueryLimit
	}
	if cfg.Query.MaxLimit == 0 {
		cfg.Query.MaxLimit = defaultQueryMaxLimit
	}

	setIngestionDefaults(&cfg.Ingestion)
	setSourceDefaults(&cfg.Sources)

	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}
}

func setIngestionDefaults(ing *IngestionConfig) {
	setTaskDefaults(&ing.News, "*/15 * * * *", 10*time.Minute)
	setTaskDefaults(&ing.Crypto, "*/5 * * * *", 4*time.Minute)
	setTaskDefaults(&ing.Stocks, "*/10 * * * *", 8*time.Minute)
	setTaskDefaults(&ing.Trends, "0 * * * *", 50*time.Minute)
	setTaskDefaults(&ing.Rates, "0 */6 * * *", 5*time.Hour)
	setTaskDefaults(&ing.Economic, "0 8 * * *", 22*time.Hour)
}

func setTaskDefaults(t *TaskConfig, schedule string, ttl time.Duration) {
	if t.Schedule == "" {
		t.Schedule = schedule
	}
	if t.TTL == 0 {
		t.TTL = ttl
	}
}

func setSourceDefaults(src *SourcesConfig) {
	if len(src.Crypto.Coins) == 0 {
		src.Crypto.Coins = []string{"bitcoin", "ethereum"}
	}
	if len(src.Stocks.Symbols) == 0 {
		src.Stocks.Symbols = []string{"AAPL", "MSFT", "GOOGL"}
	}
	if len(src.Economic.Series) == 0 {
		src.Economic.Series = []string{"CPIAUCSL", "UNRATE", "FEDFUNDS"}
	}
	if len(src.Rates.Symbols) == 0 {
		src.Rates.Symbols = []string{"EUR", "GBP", "JPY", "CAD"}
	}
}

// Validate checks the composed configuration. Schedule expressions are
// parsed here so a bad one fails at load time rather than at scheduler
// start.
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return &ValidationError{Field: "service.port", Message: fmt.Sprintf("invalid port: %d", c.Service.Port)}
	}
	if err := validateLogLevel(c.Logging.Level); err != nil {
		return err
	}
	if len(c.Elasticsearch.Addresses) == 0 {
		return &ValidationError{Field: "elasticsearch.addresses", Message: "at least one address is required"}
	}
	if c.RateLimit.Limit < 1 {
		return &ValidationError{Field: "rate_limit.limit", Message: "must be greater than 0"}
	}
	if c.RateLimit.Window <= 0 {
		return &ValidationError{Field: "rate_limit.window", Message: "must be a positive duration"}
	}
	if c.Query.MaxLimit < c.Query.DefaultLimit {
		return &ValidationError{Field: "query.max_limit", Message: fmt.Sprintf("must be at least default_limit (%d)", c.Query.DefaultLimit)}
	}
	return c.validateSchedules()
}

func (c *Config) validateSchedules() error {
	tasks := map[string]TaskConfig{
		"news":     c.Ingestion.News,
		"crypto":   c.Ingestion.Crypto,
		"stocks":   c.Ingestion.Stocks,
		"trends":   c.Ingestion.Trends,
		"rates":    c.Ingestion.Rates,
		"economic": c.Ingestion.Economic,
	}
	for name, task := range tasks {
		if err := scheduler.ValidateSpec(task.Schedule); err != nil {
			return &ValidationError{Field: "ingestion." + name + ".schedule", Message: err.Error()}
		}
		if task.TTL <= 0 {
			return &ValidationError{Field: "ingestion." + name + ".ttl", Message: "must be a positive duration"}
		}
	}
	return nil
}

func validateLogLevel(level string) error {
	switch level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return &ValidationError{Field: "logging.level", Message: "must be one of: debug, info, warn, error"}
	}
}
