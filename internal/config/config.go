// Package config loads service configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config aggregates application configuration values.
type Config struct {
	Service    string `env:"SERVICE_NAME,default=order-service"`
	PolicyFile string `env:"POLICY_FILE"`

	HTTP      HTTPConfig
	Logging   LoggingConfig
	Storage   StorageConfig
	Finalizer FinalizerConfig
}

// HTTPConfig governs HTTP server behaviour.
type HTTPConfig struct {
	Addr            string        `env:"HTTP_ADDR,default=:8080"`
	CollectorAddr   string        `env:"COLLECTOR_ADDR,default=:8090"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT,default=10s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT,default=15s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT,default=15s"`
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=json"` // json|text
}

// StorageConfig selects the transaction storage backend.
type StorageConfig struct {
	Driver       string        `env:"STORAGE_DRIVER,default=memory"`
	PostgresDSN  string        `env:"POSTGRES_DSN"`
	RedisAddr    string        `env:"REDIS_ADDR,default=localhost:6379"`
	RedisKey     string        `env:"REDIS_KEY,default=transactions"`
	CollectorURL string        `env:"COLLECTOR_URL,default=http://localhost:8090"`
	Timeout      time.Duration `env:"STORAGE_TIMEOUT,default=5s"`
	MaxPending   int           `env:"STORAGE_MAX_PENDING,default=10000"`
	Breaker      bool          `env:"STORAGE_BREAKER,default=true"`
}

// FinalizerConfig tunes the background finalize queue.
type FinalizerConfig struct {
	Workers        int  `env:"FINALIZE_WORKERS,default=4"`
	QueueSize      int  `env:"FINALIZE_QUEUE_SIZE,default=1024"`
	DropOnShutdown bool `env:"FINALIZE_DROP_ON_SHUTDOWN,default=false"`
}

var drivers = map[string]bool{"memory": true, "postgres": true, "redis": true, "collector": true}

// Load reads envFile (when present) into the environment, then decodes
// the configuration. Variables already set win over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values envdecode cannot
func (c Config) Validate() error {
	if !drivers[c.Storage.Driver] {
		return fmt.Errorf("invalid STORAGE_DRIVER %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.PostgresDSN == "" {
		return errors.New("POSTGRES_DSN is required for the postgres driver")
	}
	if c.Finalizer.Workers <= 0 {
		return fmt.Errorf("invalid FINALIZE_WORKERS %d", c.Finalizer.Workers)
	}
	if c.Finalizer.QueueSize <= 0 {
		return fmt.Errorf("invalid FINALIZE_QUEUE_SIZE %d", c.Finalizer.QueueSize)
	}
	return nil
}
