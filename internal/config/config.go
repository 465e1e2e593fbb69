package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	FeedRedis  = "redis"
	FeedMemory = "memory"
)

type Config struct {
	// Server
	Port     string `envconfig:"PORT" default:"8080"`
	Env      string `envconfig:"ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Storage
	StoreDriver string `envconfig:"STORE_DRIVER" default:"postgres"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"./data/timetracker.db"`

	// Change feed
	FeedDriver string `envconfig:"FEED_DRIVER" default:"redis"`
	RedisURL   string `envconfig:"REDIS_URL"`

	// Host identity
	HostJWTSecret string `envconfig:"HOST_JWT_SECRET" required:"true"`

	// Frontend
	FrontendURL   string `envconfig:"FRONTEND_URL" default:"http://localhost:5173"`
	DefaultLocale string `envconfig:"DEFAULT_LOCALE" default:"en"`

	// Timer
	RequestTimeout        time.Duration `envconfig:"REQUEST_TIMEOUT" default:"5s"`
	ElapsedDriftTolerance time.Duration `envconfig:"ELAPSED_DRIFT_TOLERANCE" default:"5s"`
	AutosaveDelay         time.Duration `envconfig:"AUTOSAVE_DELAY" default:"500ms"`
	AutosaveSettle        time.Duration `envconfig:"AUTOSAVE_SETTLE" default:"500ms"`
	SSEKeepAlive          time.Duration `envconfig:"SSE_KEEPALIVE" default:"25s"`

	// Draft sweeper
	DraftSweepInterval time.Duration `envconfig:"DRAFT_SWEEP_INTERVAL" default:"1h"`
	DraftMaxAge        time.Duration `envconfig:"DRAFT_MAX_AGE" default:"24h"`

	RateLimitPerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects driver selections that are missing their connection settings.
func (c *Config) Validate() error {
	if c.HostJWTSecret == "" {
		return fmt.Errorf("HOST_JWT_SECRET is required")
	}

	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", DriverPostgres)
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER=%s", DriverSQLite)
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER: %s", c.StoreDriver)
	}

	switch c.FeedDriver {
	case FeedRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when FEED_DRIVER=%s", FeedRedis)
		}
	case FeedMemory:
	default:
		return fmt.Errorf("unsupported FEED_DRIVER: %s", c.FeedDriver)
	}

	if c.AutosaveDelay <= 0 {
		return fmt.Errorf("AUTOSAVE_DELAY must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
