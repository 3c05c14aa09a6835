package config

import "strings"

// Environment variables that override the config file.
const (
	EnvSecretKey     = "HOSTAUTH_SECRET_KEY"
	EnvDatabaseDSN   = "HOSTAUTH_DATABASE_DSN"
	EnvRedisAddr     = "HOSTAUTH_REDIS_ADDR"
	EnvRedisPassword = "HOSTAUTH_REDIS_PASSWORD"
	EnvKafkaBrokers  = "HOSTAUTH_KAFKA_BROKERS"
	EnvAdminPassword = "HOSTAUTH_ADMIN_PASSWORD"
)

// parseEnv applies the non-empty variables above. Secrets are expected to
// arrive this way rather than through flags visible in the process list.
func parseEnv(config *Config, lookupEnv func(string) (string, bool)) {
	if lookupEnv == nil {
		return
	}
	set := func(key string, dst *string) {
		if v, ok := lookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	set(EnvSecretKey, &config.SecretKey)
	set(EnvDatabaseDSN, &config.DatabaseDSN)
	set(EnvRedisAddr, &config.RedisAddr)
	set(EnvRedisPassword, &config.RedisPassword)
	set(EnvAdminPassword, &config.AdminPassword)

	if v, ok := lookupEnv(EnvKafkaBrokers); ok && v != "" {
		config.KafkaBrokers = splitList(v)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
