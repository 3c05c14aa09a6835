package config

import (
	"flag"
	"fmt"
	"io"

	"github.com/dmitrijs2005/hostauth/internal/flagx"
)

var knownFlags = []string{
	"-a", "-d", "-s", "-t", "-r", "-b",
	"-redis", "-kafka", "-topic", "-issuer",
	"-log-backend", "-log-level", "-log-format",
	"-cleanup", "-revoke-lineage", "-admin",
}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags:
//
//	-a string          HTTP bind address (e.g. ":8080")
//	-d string          PostgreSQL DSN
//	-s string          JWT HMAC secret key
//	-t duration        access token ttl (e.g. "30m")
//	-r duration        refresh token ttl (e.g. "168h")
//	-b string          storage backend: memory, postgres or redis
//	-redis string      Redis address
//	-kafka string      comma separated Kafka brokers; empty disables events
//	-topic string      Kafka topic for session events
//	-issuer string     token issuer
//	-log-backend, -log-level, -log-format
//	-cleanup duration  expired token cleanup interval; 0 disables it
//	-revoke-lineage    revoke the whole rotation chain on refresh token reuse
//	-admin string      bootstrap admin username (password from HOSTAUTH_ADMIN_PASSWORD)
//
// args are filtered with flagx.FilterArgs first so flags meant for other
// components, and -c/-config, do not cause errors.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, knownFlags)

	fs := flag.NewFlagSet("hostauth-server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.DurationVar(&config.AccessTokenTTL, "t", config.AccessTokenTTL, "access token ttl")
	fs.DurationVar(&config.RefreshTokenTTL, "r", config.RefreshTokenTTL, "refresh token ttl")
	fs.StringVar(&config.Storage, "b", config.Storage, "storage backend")
	fs.StringVar(&config.RedisAddr, "redis", config.RedisAddr, "redis address")
	fs.StringVar(&config.KafkaTopic, "topic", config.KafkaTopic, "kafka topic")
	fs.StringVar(&config.Issuer, "issuer", config.Issuer, "token issuer")
	fs.StringVar(&config.LogBackend, "log-backend", config.LogBackend, "slog or zap")
	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "debug, info, warn or error")
	fs.StringVar(&config.LogFormat, "log-format", config.LogFormat, "json or text")
	fs.DurationVar(&config.CleanupInterval, "cleanup", config.CleanupInterval, "cleanup interval")
	fs.BoolVar(&config.RevokeLineageOnReuse, "revoke-lineage", config.RevokeLineageOnReuse, "revoke rotation chain on reuse")
	fs.StringVar(&config.AdminUsername, "admin", config.AdminUsername, "bootstrap admin username")

	var brokers string
	fs.StringVar(&brokers, "kafka", "", "kafka brokers")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "kafka" {
			config.KafkaBrokers = splitList(brokers)
		}
	})
	return nil
}
