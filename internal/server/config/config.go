// Package config handles configuration for the server component: defaults,
// a JSON or YAML file overlay, environment overrides and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

// Config holds runtime settings for the hostauth server.
//
// SecretKey signs access tokens (HS256) and must be overridden outside of
// development. Storage selects where users and refresh tokens live; users
// are kept in memory for the redis backend unless DatabaseDSN is also set.
type Config struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration

	Storage       string
	DatabaseDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SecretKey            string
	Issuer               string
	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	RefreshRetention     time.Duration
	CleanupInterval      time.Duration
	RevokeLineageOnReuse bool

	KafkaBrokers []string
	KafkaTopic   string

	LogBackend string
	LogLevel   string
	LogFormat  string

	AdminUsername string
	AdminPassword string
}

// LoadDefaults populates Config with development defaults.
// NOTE: the secret key is insecure and must be replaced in production.
func (c *Config) LoadDefaults() {
	c.HTTPAddr = ":8080"
	c.ShutdownTimeout = 10 * time.Second
	c.Storage = StorageMemory
	c.DatabaseDSN = ""
	c.RedisAddr = "127.0.0.1:6379"
	c.SecretKey = "dev-secret-key"
	c.Issuer = "hostauth"
	c.AccessTokenTTL = 30 * time.Minute
	c.RefreshTokenTTL = 7 * 24 * time.Hour
	c.RefreshRetention = 24 * time.Hour
	c.CleanupInterval = time.Hour
	c.KafkaTopic = "hostauth.sessions"
	c.LogBackend = "slog"
	c.LogLevel = "info"
	c.LogFormat = "json"
}

// Validate reports the first setting that would keep the server from
// running correctly.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key must not be empty")
	}
	if c.AccessTokenTTL <= 0 {
		return fmt.Errorf("access token ttl must be positive, got %s", c.AccessTokenTTL)
	}
	if c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("refresh token ttl must be positive, got %s", c.RefreshTokenTTL)
	}
	if c.RefreshTokenTTL < c.AccessTokenTTL {
		return fmt.Errorf("refresh token ttl %s is shorter than access token ttl %s", c.RefreshTokenTTL, c.AccessTokenTTL)
	}
	if c.CleanupInterval < 0 {
		return fmt.Errorf("cleanup interval must not be negative, got %s", c.CleanupInterval)
	}
	if !slices.Contains([]string{StorageMemory, StoragePostgres, StorageRedis}, c.Storage) {
		return fmt.Errorf("unknown storage backend %q", c.Storage)
	}
	if c.Storage == StoragePostgres && c.DatabaseDSN == "" {
		return errors.New("postgres storage requires a database dsn")
	}
	if c.Storage == StorageRedis && c.RedisAddr == "" {
		return errors.New("redis storage requires a redis address")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return errors.New("kafka brokers are set but the topic is empty")
	}
	return nil
}

// Load builds a Config from defaults, the file named by -c/-config, the
// environment and finally the flags in args. lookupEnv is usually
// os.LookupEnv.
func Load(args []string, lookupEnv func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if err := parseFile(cfg, args); err != nil {
		return nil, err
	}
	parseEnv(cfg, lookupEnv)
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadConfig is Load over the process arguments and environment.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:], os.LookupEnv)
}
