// Package config loads the gateway's process configuration from an
// optional local config.yaml, a local .env file, and the process
// environment (spec §6) — the teacher's layered configuration approach
// (internal/pkg/config/config.go), generalized from its single
// POLY_-prefixed nested-struct shape to the gateway's flat, unprefixed
// environment variable names. Precedence, lowest to highest: config.yaml
// defaults, .env, then real process environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ServiceConfig is one upstream family's base URL and outbound API key.
type ServiceConfig struct {
	URL    string
	APIKey string
}

// Config is the gateway's fully-resolved runtime configuration.
type Config struct {
	Port int

	RedisHostMaster string
	RedisPort       int

	ThrottleTTL   time.Duration
	ThrottleLimit int

	EnableTenantRateLimits bool

	AuthServiceURL  string
	StaticAPITokens []string

	// CORSAllowedOrigins is an explicit origin allowlist, or ["*"] to allow
	// any origin. Empty means CORS is not mounted at all. Policy is left
	// configurable and undefined by default per spec §9.
	CORSAllowedOrigins []string

	Services map[string]ServiceConfig // keyed by domain.UpstreamServiceA/B/C
}

// Load reads configuration from an optional config.yaml, a local .env file,
// and the process environment, in that precedence order. Values absent from
// all three fall back to the documented defaults.
func Load() (*Config, error) {
	// A local .env is a development convenience; it is loaded into the real
	// process environment so it can never shadow an operator-set variable.
	// A missing file is not an error.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	k := koanf.New(".")

	if err := k.Load(file.Provider("config.yaml"), yaml.Parser()); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: load config.yaml: %w", err)
	}

	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	cfg := &Config{
		Port:                   k.Int("PORT"),
		RedisHostMaster:        k.String("REDIS_HOST_MASTER"),
		RedisPort:              k.Int("REDIS_PORT"),
		ThrottleTTL:            time.Duration(k.Int("THROTTLE_TTL")) * time.Second,
		ThrottleLimit:          k.Int("THROTTLE_LIMIT"),
		EnableTenantRateLimits: k.Bool("ENABLE_TENANT_RATE_LIMITS"),
		AuthServiceURL:         k.String("AUTH_SERVICE_URL"),
		StaticAPITokens:        splitCSV(k.String("STATIC_API_TOKEN")),
		CORSAllowedOrigins:     splitCSV(k.String("CORS_ALLOWED_ORIGINS")),
		Services: map[string]ServiceConfig{
			"service-a": {URL: k.String("SERVICE_A_URL"), APIKey: k.String("SERVICE_A_API_KEY")},
			"service-b": {URL: k.String("SERVICE_B_URL"), APIKey: k.String("SERVICE_B_API_KEY")},
			"service-c": {URL: k.String("SERVICE_C_URL"), APIKey: k.String("SERVICE_C_API_KEY")},
		},
	}

	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.RedisPort == 0 {
		cfg.RedisPort = 6379
	}
	if cfg.ThrottleTTL == 0 {
		cfg.ThrottleTTL = 60 * time.Second
	}
	if cfg.ThrottleLimit == 0 {
		cfg.ThrottleLimit = 60
	}

	return cfg, nil
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
