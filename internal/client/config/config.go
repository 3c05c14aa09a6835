package config

import (
	"fmt"
	"os"
	"time"
)

// EnvServerURL overrides the server URL from the config file.
const EnvServerURL = "HOSTAUTH_SERVER_URL"

// Config holds runtime settings for the hostauth CLI.
//
// Fields:
//   - ServerURL: base URL of the hostauth HTTP API.
//   - RequestTimeout: per-request timeout of the HTTP client.
//   - SessionDir: directory holding the session file.
//   - OnlineCheckInterval: how often the client probes server reachability;
//     zero disables the probe.
type Config struct {
	ServerURL           string
	RequestTimeout      time.Duration
	SessionDir          string
	OnlineCheckInterval time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.RequestTimeout = 10 * time.Second
	c.SessionDir = ".hostauth"
	c.OnlineCheckInterval = 30 * time.Second
}

// Load constructs a Config from defaults, then the JSON file named by
// -c/-config, then the environment, then flags. Later sources take
// precedence over earlier ones.
func Load(args []string, lookupEnv func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg, args); err != nil {
		return nil, err
	}
	if lookupEnv != nil {
		if v, ok := lookupEnv(EnvServerURL); ok && v != "" {
			cfg.ServerURL = v
		}
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server url must not be empty")
	}
	return cfg, nil
}

// LoadConfig is Load over the process arguments and environment.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:], os.LookupEnv)
}
