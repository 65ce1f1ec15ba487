// Package config reads the server configuration from flags, the
// environment and an optional .env file.
//
// Precedence: environment (including .env) over flags over defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	RunAddress     string        `env:"RUN_ADDRESS"`
	StoreDriver    string        `env:"STORE_DRIVER"`
	SQLitePath     string        `env:"SQLITE_PATH"`
	DatabaseURI    string        `env:"DATABASE_URI"`
	RedisURL       string        `env:"REDIS_URL"`
	SystemOperator string        `env:"SYSTEM_OPERATOR"`
	NumberPrefix   string        `env:"NUMBER_PREFIX"`
	AuditInterval  time.Duration `env:"AUDIT_INTERVAL"`
	LogLevel       string        `env:"LOG_LEVEL"`
	CORSOrigins    []string      `env:"CORS_ORIGINS" envSeparator:","`
}

// Parse reads .env (if present), the environment and the command line.
func Parse() (*Config, error) {
	_ = godotenv.Load()

	fromEnv := &Config{}
	if err := env.Parse(fromEnv); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &Config{}
	var corsOrigins string
	flag.StringVar(&cfg.RunAddress, "a", ":8080", "address and port for HTTP server")
	flag.StringVar(&cfg.StoreDriver, "store", DriverMemory, "storage driver: memory, sqlite or postgres")
	flag.StringVar(&cfg.SQLitePath, "db", "creditnotes.db", "sqlite database path")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "postgres database URI")
	flag.StringVar(&cfg.RedisURL, "redis", "", "redis URL for cross-process locking and change fan-out")
	flag.StringVar(&cfg.SystemOperator, "operator", "Système", "operator recorded when a request names none")
	flag.StringVar(&cfg.NumberPrefix, "prefix", "AV", "credit note number prefix")
	flag.DurationVar(&cfg.AuditInterval, "audit-interval", time.Hour, "ledger audit interval, 0 disables")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.StringVar(&corsOrigins, "cors", "", "comma separated allowed CORS origins")

	flag.Parse()

	if corsOrigins != "" {
		cfg.CORSOrigins = splitList(corsOrigins)
	}

	overrideString(&cfg.RunAddress, "RUN_ADDRESS", fromEnv.RunAddress)
	overrideString(&cfg.StoreDriver, "STORE_DRIVER", fromEnv.StoreDriver)
	overrideString(&cfg.SQLitePath, "SQLITE_PATH", fromEnv.SQLitePath)
	overrideString(&cfg.DatabaseURI, "DATABASE_URI", fromEnv.DatabaseURI)
	overrideString(&cfg.RedisURL, "REDIS_URL", fromEnv.RedisURL)
	overrideString(&cfg.SystemOperator, "SYSTEM_OPERATOR", fromEnv.SystemOperator)
	overrideString(&cfg.NumberPrefix, "NUMBER_PREFIX", fromEnv.NumberPrefix)
	overrideString(&cfg.LogLevel, "LOG_LEVEL", fromEnv.LogLevel)
	if _, ok := os.LookupEnv("AUDIT_INTERVAL"); ok {
		cfg.AuditInterval = fromEnv.AuditInterval
	}
	if len(fromEnv.CORSOrigins) > 0 {
		cfg.CORSOrigins = splitList(strings.Join(fromEnv.CORSOrigins, ","))
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = ":8080"
	}

	return cfg, cfg.Validate()
}

// Validate reports settings that cannot start a server.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.DatabaseURI == "" {
			return errors.New("postgres store requires DATABASE_URI (-d)")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	if c.StoreDriver == DriverSQLite && c.SQLitePath == "" {
		return errors.New("sqlite store requires SQLITE_PATH (-db)")
	}
	if c.AuditInterval < 0 {
		return fmt.Errorf("audit interval must not be negative, got %s", c.AuditInterval)
	}
	return nil
}

// overrideString applies a non-empty environment value over the flag value.
func overrideString(dst *string, key, value string) {
	if _, ok := os.LookupEnv(key); ok && value != "" {
		*dst = value
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
