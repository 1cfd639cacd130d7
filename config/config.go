package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"fairdeal/escrow"
)

// Config holds all configuration for the FairDeal server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Escrow   EscrowConfig
}

type ServerConfig struct {
	Port     int
	Env      string
	LogLevel string
}

type DatabaseConfig struct {
	URL            string
	MigrationsPath string
}

// RedisConfig points at the cache backing fraud-count reads. An empty URL
// disables the cache; every read then hits PostgreSQL.
type RedisConfig struct {
	URL string
}

type AuthConfig struct {
	JWTSecret string
}

// EscrowConfig carries the lifecycle policy knobs.
type EscrowConfig struct {
	GracePeriod         time.Duration
	FundOnCreate        bool
	AllowEarlyFraudFlag bool
	OpenExpiryRefund    bool
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     envInt("FAIRDEAL_PORT", 8080),
			Env:      envString("FAIRDEAL_ENV", "development"),
			LogLevel: envString("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:            os.Getenv("DATABASE_URL"),
			MigrationsPath: envString("MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
		},
		Escrow: EscrowConfig{
			GracePeriod:         envDuration("ESCROW_GRACE_PERIOD", escrow.DefaultGracePeriod),
			FundOnCreate:        envBool("ESCROW_FUND_ON_CREATE", false),
			AllowEarlyFraudFlag: envBool("ESCROW_ALLOW_EARLY_FRAUD_FLAG", false),
			OpenExpiryRefund:    envBool("ESCROW_OPEN_EXPIRY_REFUND", false),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Policy converts the escrow section into the service's policy value.
func (c *Config) Policy() escrow.Policy {
	return escrow.Policy{
		GracePeriod:               c.Escrow.GracePeriod,
		FundOnCreate:              c.Escrow.FundOnCreate,
		AllowFlagBeforeSubmission: c.Escrow.AllowEarlyFraudFlag,
		OpenRefundExpired:         c.Escrow.OpenExpiryRefund,
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Escrow.GracePeriod <= 0 {
		return fmt.Errorf("ESCROW_GRACE_PERIOD must be positive, got %s", c.Escrow.GracePeriod)
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
