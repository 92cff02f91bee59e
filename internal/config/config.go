// Package config loads engine configuration from the environment. A
// .env file in the working directory is honoured when present.
package config

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the full runtime configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Providers ProvidersConfig
	Registry  RegistryConfig
	Retention RetentionConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string        `env:"SERVER_HOST,default=0.0.0.0"`
	Port         int           `env:"SERVER_PORT,default=8080"`
	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT,default=15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT,default=30s"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT,default=60s"`
}

// DatabaseConfig selects the persistence backend. An empty DSN runs the
// engine on the in-memory store.
type DatabaseConfig struct {
	DSN             string        `env:"DATABASE_DSN"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS,default=10"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME,default=30m"`
}

// RedisConfig enables the pub/sub broadcast channel. An empty address
// disables it.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,default=0"`
	Channel  string `env:"REDIS_CHANNEL"`
}

type SchedulerConfig struct {
	Interval     time.Duration `env:"SCHEDULER_INTERVAL,default=5m"`
	RetryDelay   time.Duration `env:"SCHEDULER_RETRY_DELAY,default=1m"`
	CycleTimeout time.Duration `env:"SCHEDULER_CYCLE_TIMEOUT,default=2m"`
}

// ProvidersConfig carries the quote provider endpoints. Each URL is
// the complete endpoint the source calls, not an API root.
type ProvidersConfig struct {
	CoinGeckoURL   string        `env:"COINGECKO_URL,default=https://api.coingecko.com/api/v3/simple/price"`
	CoinPaprikaURL string        `env:"COINPAPRIKA_URL,default=https://api.coinpaprika.com/v1/tickers"`
	MetalsAPIURL   string        `env:"METALS_API_URL,default=https://metals-api.com/api/latest"`
	MetalsAPIKey   string        `env:"METALS_API_KEY"`
	Timeout        time.Duration `env:"PROVIDER_TIMEOUT,default=10s"`
	MinInterval    time.Duration `env:"PROVIDER_MIN_INTERVAL,default=10s"`
	SyntheticSeed  int64         `env:"SYNTHETIC_SEED,default=0"`
}

// RegistryConfig selects the symbol catalog source. A file path wins
// over the store-backed registry.
type RegistryConfig struct {
	Path string `env:"REGISTRY_FILE"`
}

type RetentionConfig struct {
	Schedule string        `env:"RETENTION_SCHEDULE,default=10 3 * * *"`
	MaxAge   time.Duration `env:"RETENTION_MAX_AGE,default=2160h"`
}

type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"`
	Output string `env:"LOG_OUTPUT,default=stdout"`
}

// Load reads configuration from the environment, after loading .env if
// one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	return &cfg, nil
}
