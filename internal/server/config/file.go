package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/hostauth/internal/flagx"
	"github.com/dmitrijs2005/hostauth/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk form of Config. Durations use timex.Duration so
// both "15m" and integer nanoseconds are accepted. Only fields present in
// the file override the defaults.
type FileConfig struct {
	HTTPAddr        string          `json:"http_addr" yaml:"http_addr"`
	ShutdownTimeout *timex.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`

	Storage       string `json:"storage" yaml:"storage"`
	DatabaseDSN   string `json:"database_dsn" yaml:"database_dsn"`
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `json:"redis_password" yaml:"redis_password"`
	RedisDB       *int   `json:"redis_db" yaml:"redis_db"`

	SecretKey            string          `json:"secret_key" yaml:"secret_key"`
	Issuer               string          `json:"issuer" yaml:"issuer"`
	AccessTokenTTL       *timex.Duration `json:"access_token_ttl" yaml:"access_token_ttl"`
	RefreshTokenTTL      *timex.Duration `json:"refresh_token_ttl" yaml:"refresh_token_ttl"`
	RefreshRetention     *timex.Duration `json:"refresh_retention" yaml:"refresh_retention"`
	CleanupInterval      *timex.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
	RevokeLineageOnReuse *bool           `json:"revoke_lineage_on_reuse" yaml:"revoke_lineage_on_reuse"`

	KafkaBrokers []string `json:"kafka_brokers" yaml:"kafka_brokers"`
	KafkaTopic   string   `json:"kafka_topic" yaml:"kafka_topic"`

	LogBackend string `json:"log_backend" yaml:"log_backend"`
	LogLevel   string `json:"log_level" yaml:"log_level"`
	LogFormat  string `json:"log_format" yaml:"log_format"`

	AdminUsername string `json:"admin_username" yaml:"admin_username"`
	AdminPassword string `json:"admin_password" yaml:"admin_password"`
}

// parseFile overlays the file named by -c/-config in args. Files ending in
// .yaml or .yml are read as YAML, everything else as JSON. No flag means
// nothing to load.
func parseFile(config *Config, args []string) error {
	path := flagx.ConfigFileFlag(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	fc := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, fc)
	default:
		err = json.Unmarshal(data, fc)
	}
	if err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	fc.apply(config)
	return nil
}

func (fc *FileConfig) apply(c *Config) {
	str := func(src string, dst *string) {
		if src != "" {
			*dst = src
		}
	}
	dur := func(src *timex.Duration, dst *time.Duration) {
		if src != nil {
			*dst = src.Duration
		}
	}

	str(fc.HTTPAddr, &c.HTTPAddr)
	dur(fc.ShutdownTimeout, &c.ShutdownTimeout)
	str(fc.Storage, &c.Storage)
	str(fc.DatabaseDSN, &c.DatabaseDSN)
	str(fc.RedisAddr, &c.RedisAddr)
	str(fc.RedisPassword, &c.RedisPassword)
	if fc.RedisDB != nil {
		c.RedisDB = *fc.RedisDB
	}
	str(fc.SecretKey, &c.SecretKey)
	str(fc.Issuer, &c.Issuer)
	dur(fc.AccessTokenTTL, &c.AccessTokenTTL)
	dur(fc.RefreshTokenTTL, &c.RefreshTokenTTL)
	dur(fc.RefreshRetention, &c.RefreshRetention)
	dur(fc.CleanupInterval, &c.CleanupInterval)
	if fc.RevokeLineageOnReuse != nil {
		c.RevokeLineageOnReuse = *fc.RevokeLineageOnReuse
	}
	if len(fc.KafkaBrokers) > 0 {
		c.KafkaBrokers = fc.KafkaBrokers
	}
	str(fc.KafkaTopic, &c.KafkaTopic)
	str(fc.LogBackend, &c.LogBackend)
	str(fc.LogLevel, &c.LogLevel)
	str(fc.LogFormat, &c.LogFormat)
	str(fc.AdminUsername, &c.AdminUsername)
	str(fc.AdminPassword, &c.AdminPassword)
}
