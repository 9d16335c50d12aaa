package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Environment string          `yaml:"environment" env:"APP_ENV" env-default:"development"`
	Server      ServerConfig    `yaml:"server"`
	Database    DatabaseConfig  `yaml:"database"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Billing     BillingConfig   `yaml:"billing"`
	Cache       CacheConfig     `yaml:"cache"`
	Tracing     TracingConfig   `yaml:"tracing"`
	Kafka       KafkaConfig     `yaml:"kafka"`
	Features    FeaturesConfig  `yaml:"features"`
	Log         LogConfig       `yaml:"log"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port     string `yaml:"port" env:"SERVER_PORT" env-default:"8080"`
	Host     string `yaml:"host" env:"SERVER_HOST"`
	CertFile string `yaml:"cert_file" env:"SERVER_CERT_FILE"`
	KeyFile  string `yaml:"key_file" env:"SERVER_KEY_FILE"`
	// Max request body size in bytes
	MaxRequestBodySize int64         `yaml:"max_request_body_size" env:"MAX_REQUEST_BODY_SIZE" env-default:"1048576"`
	AllowedOrigins     []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" env-separator:"," env-default:"*"`
	ReadTimeout        time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout       time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"30s"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"30s"`
}

// TLSEnabled reports whether both a certificate and a key are configured.
func (s ServerConfig) TLSEnabled() bool {
	return s.CertFile != "" && s.KeyFile != ""
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Path         string        `yaml:"path" env:"DATABASE_PATH" env-default:"./postpurchase.db"`
	BusyTimeout  time.Duration `yaml:"busy_timeout" env:"DATABASE_BUSY_TIMEOUT" env-default:"5s"`
	QueryTimeout time.Duration `yaml:"query_timeout" env:"DATABASE_QUERY_TIMEOUT" env-default:"5s"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" env:"RATE_LIMIT_ENABLED" env-default:"true"`
	Rate    int           `yaml:"rate" env:"RATE_LIMIT_RATE" env-default:"100"`
	Window  time.Duration `yaml:"window" env:"RATE_LIMIT_WINDOW" env-default:"1m"`
}

// BillingConfig configures the Shopify Admin API client.
type BillingConfig struct {
	// "{shop}" is replaced by the shop domain.
	BaseURL    string        `yaml:"base_url" env:"BILLING_BASE_URL" env-default:"https://{shop}"`
	APIVersion string        `yaml:"api_version" env:"BILLING_API_VERSION" env-default:"2024-10"`
	Timeout    time.Duration `yaml:"timeout" env:"BILLING_TIMEOUT" env-default:"10s"`
	Test       bool          `yaml:"test" env:"BILLING_TEST" env-default:"true"`
	// "{store}" is replaced by the store handle.
	ReturnURL string `yaml:"return_url" env:"BILLING_RETURN_URL" env-default:"https://admin.shopify.com/store/{store}/apps/postpurchase/app/plans"`
	Currency  string `yaml:"currency" env:"BILLING_CURRENCY" env-default:"USD"`
}

// CacheConfig selects the subscription cache backend.
type CacheConfig struct {
	Driver          string        `yaml:"driver" env:"CACHE_DRIVER" env-default:"memory"`
	RedisURL        string        `yaml:"redis_url" env:"REDIS_URL"`
	KeyPrefix       string        `yaml:"key_prefix" env:"CACHE_KEY_PREFIX" env-default:"postpurchase:"`
	Size            int           `yaml:"size" env:"CACHE_SIZE" env-default:"4096"`
	SubscriptionTTL time.Duration `yaml:"subscription_ttl" env:"CACHE_SUBSCRIPTION_TTL" env-default:"1m"`
}

// TracingConfig holds tracing configuration.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" env:"TRACING_ENABLED" env-default:"false"`
	Endpoint    string `yaml:"endpoint" env:"TRACING_ENDPOINT" env-default:"http://localhost:14268/api/traces"`
	ServiceName string `yaml:"service_name" env:"TRACING_SERVICE_NAME" env-default:"postpurchase-api"`
}

// KafkaConfig configures the funnel event stream.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" env:"KAFKA_ENABLED" env-default:"false"`
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"offer-events"`
}

// FeaturesConfig seeds the runtime feature flags.
type FeaturesConfig struct {
	ConcurrentResolution bool `yaml:"concurrent_resolution" env:"FEATURE_CONCURRENT_RESOLUTION" env-default:"true"`
	ResolutionLimit      int  `yaml:"resolution_limit" env:"FEATURE_RESOLUTION_LIMIT" env-default:"8"`
	EventStream          bool `yaml:"event_stream" env:"FEATURE_EVENT_STREAM" env-default:"true"`
	SubscriptionCache    bool `yaml:"subscription_cache" env:"FEATURE_SUBSCRIPTION_CACHE" env-default:"true"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// LoadConfig loads configuration from a YAML file (optional) and the
// environment. Environment variables take precedence over the file. A .env
// file in the working directory is loaded first when present.
func LoadConfig(configFile string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if configFile != "" {
		if err := cleanenv.ReadConfig(configFile, &cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		return &cfg, nil
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return &cfg, nil
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if (c.Server.CertFile == "") != (c.Server.KeyFile == "") {
		return errors.New("server cert_file and key_file must be set together")
	}
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return errors.New("rate limit rate must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return errors.New("rate limit window must be positive")
		}
	}
	switch c.Cache.Driver {
	case "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			return errors.New("cache redis_url is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown cache driver %q", c.Cache.Driver)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka brokers are required when kafka is enabled")
	}
	if c.Billing.Timeout <= 0 {
		return errors.New("billing timeout must be positive")
	}
	return nil
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
