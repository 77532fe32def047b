package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8080"`
	StoreDriver     string        `envconfig:"STORE_DRIVER" default:"postgres"`
	DBDSN           string        `envconfig:"DB_DSN"`
	RedisAddr       string        `envconfig:"REDIS_ADDR"`
	JWTSecret       string        `envconfig:"JWT_SECRET" required:"true"`
	TokenTTL        time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	DefaultPageSize int           `envconfig:"DEFAULT_PAGE_SIZE" default:"20"`
	MaxPageSize     int           `envconfig:"MAX_PAGE_SIZE" default:"100"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DBDSN == "" {
			return errors.New("DB_DSN is required when STORE_DRIVER=postgres")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	if c.DefaultPageSize <= 0 || c.MaxPageSize < c.DefaultPageSize {
		return fmt.Errorf("invalid page sizes: default=%d max=%d", c.DefaultPageSize, c.MaxPageSize)
	}
	return nil
}
