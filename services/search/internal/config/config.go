package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	pkgconfig "github.com/k-yomo/kagu-miru/pkg/config"
)

// Search backends.
const (
	BackendGraphQL       = "graphql"
	BackendElasticsearch = "elasticsearch"
	BackendMemory        = "memory"
)

// Analytics sinks.
const (
	SinkKafka = "kafka"
	SinkHTTP  = "http"
	SinkLog   = "log"
)

// Session stores.
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Config holds all configuration for the search service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	HTTPPort int `env:"SEARCH_HTTP_PORT" envDefault:"8010"`
	// CORSOrigins is only enforced outside development.
	CORSOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Search backend: graphql, elasticsearch or memory.
	SearchBackend      string        `env:"SEARCH_BACKEND" envDefault:"graphql"`
	GraphQLAPIURL      string        `env:"GRAPHQL_API_URL" envDefault:"http://localhost:8000/graphql"`
	ElasticsearchURL   string        `env:"ELASTICSEARCH_URL" envDefault:"http://localhost:9200"`
	ElasticsearchIndex string        `env:"ELASTICSEARCH_INDEX" envDefault:"items"`
	SearchTimeout      time.Duration `env:"SEARCH_TIMEOUT" envDefault:"10s"`
	SuggestTimeout     time.Duration `env:"SUGGEST_TIMEOUT" envDefault:"3s"`
	DefaultPageSize    int           `env:"DEFAULT_PAGE_SIZE" envDefault:"0"`

	// Analytics sink: kafka, http or log.
	AnalyticsSink    string `env:"ANALYTICS_SINK" envDefault:"log"`
	AnalyticsURL     string `env:"ANALYTICS_URL" envDefault:"http://localhost:8000/graphql"`
	AnalyticsTopic   string `env:"ANALYTICS_TOPIC"`
	AnalyticsBuffer  int    `env:"ANALYTICS_BUFFER" envDefault:"1024"`
	AnalyticsWorkers int    `env:"ANALYTICS_WORKERS" envDefault:"2"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Catalog sync feeds a local backend from item events and the catalog API.
	CatalogSyncEnabled bool   `env:"CATALOG_SYNC_ENABLED" envDefault:"false"`
	CatalogAPIURL      string `env:"CATALOG_API_URL"`

	// Session store: redis or memory.
	SessionStore  string        `env:"SESSION_STORE" envDefault:"memory"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"30m"`
	RedisHost     string        `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int           `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`

	// Per-client limit on suggestion requests.
	SuggestRPS   float64 `env:"SUGGEST_RPS" envDefault:"10"`
	SuggestBurst int     `env:"SUGGEST_BURST" envDefault:"20"`

	OTelEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint   string  `env:"OTEL_ENDPOINT" envDefault:"localhost:4318"`
	OTelSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load search config: %w", err)
	}
	return cfg, nil
}

// LocalBackend reports whether searches are answered by an engine this
// service indexes itself.
func (c *Config) LocalBackend() bool {
	return c.SearchBackend == BackendElasticsearch || c.SearchBackend == BackendMemory
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP port: %d", c.HTTPPort))
	}
	if !slices.Contains([]string{BackendGraphQL, BackendElasticsearch, BackendMemory}, c.SearchBackend) {
		errs = append(errs, fmt.Errorf("SEARCH_BACKEND must be one of graphql, elasticsearch, memory: %q", c.SearchBackend))
	}
	if c.SearchBackend == BackendGraphQL && c.GraphQLAPIURL == "" {
		errs = append(errs, errors.New("GRAPHQL_API_URL is required for the graphql backend"))
	}
	if !slices.Contains([]string{SinkKafka, SinkHTTP, SinkLog}, c.AnalyticsSink) {
		errs = append(errs, fmt.Errorf("ANALYTICS_SINK must be one of kafka, http, log: %q", c.AnalyticsSink))
	}
	if c.AnalyticsSink == SinkHTTP && c.AnalyticsURL == "" {
		errs = append(errs, errors.New("ANALYTICS_URL is required for the http sink"))
	}
	if (c.AnalyticsSink == SinkKafka || c.CatalogSyncEnabled) && len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is required"))
	}
	if c.CatalogSyncEnabled && !c.LocalBackend() {
		errs = append(errs, errors.New("CATALOG_SYNC_ENABLED requires a local SEARCH_BACKEND"))
	}
	if !slices.Contains([]string{StoreRedis, StoreMemory}, c.SessionStore) {
		errs = append(errs, fmt.Errorf("SESSION_STORE must be one of redis, memory: %q", c.SessionStore))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_TTL must be positive: %s", c.SessionTTL))
	}
	if c.DefaultPageSize < 0 {
		errs = append(errs, fmt.Errorf("DEFAULT_PAGE_SIZE must not be negative: %d", c.DefaultPageSize))
	}
	if c.SuggestRPS <= 0 || c.SuggestBurst < 1 {
		errs = append(errs, errors.New("SUGGEST_RPS and SUGGEST_BURST must be positive"))
	}
	if c.OTelSampleRate < 0 || c.OTelSampleRate > 1 {
		errs = append(errs, fmt.Errorf("OTEL_SAMPLE_RATE must be within [0, 1]: %v", c.OTelSampleRate))
	}
	return errors.Join(errs...)
}
