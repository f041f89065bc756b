package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Rule sources accepted by PRICING_RULES_SOURCE.
const (
	RulesSourceStatic   = "static"
	RulesSourcePostgres = "postgres"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	CORSAllowedOrigins []string

	InventoryBaseURL             string
	InventoryTimeout             time.Duration
	InventoryBreakerMinRequests  int
	InventoryBreakerFailureRatio float64
	InventoryBreakerOpenFor      time.Duration

	LookupConcurrency int
	RulesSource       string
	RulesJSON         string
	DatabaseURL       string
	DatabaseMigrate   bool

	RedisURL          string
	RateLimitMax      int
	RateLimitWindow   time.Duration
	MaxBodyBytes      int64
	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "5003"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		InventoryBaseURL:             strings.TrimRight(valueOrDefault(k.String("INVENTORY_BASE_URL"), "http://127.0.0.1:5002/api/inventory"), "/"),
		InventoryTimeout:             parseDuration(k.String("INVENTORY_TIMEOUT"), "2s"),
		InventoryBreakerMinRequests:  parseInt(k.String("INVENTORY_BREAKER_MIN_REQUESTS"), 5),
		InventoryBreakerFailureRatio: parseFloat(k.String("INVENTORY_BREAKER_FAILURE_RATIO"), 0.5),
		InventoryBreakerOpenFor:      parseDuration(k.String("INVENTORY_BREAKER_OPEN_FOR"), "30s"),

		LookupConcurrency: parseInt(k.String("PRICING_LOOKUP_CONCURRENCY"), 1),
		RulesSource:       strings.ToLower(valueOrDefault(k.String("PRICING_RULES_SOURCE"), RulesSourceStatic)),
		RulesJSON:         strings.TrimSpace(k.String("PRICING_RULES_JSON")),
		DatabaseURL:       strings.TrimSpace(k.String("DATABASE_URL")),
		DatabaseMigrate:   parseBool(k.String("DATABASE_AUTO_MIGRATE")),

		RedisURL:          strings.TrimSpace(k.String("REDIS_URL")),
		RateLimitMax:      parseInt(k.String("RATE_LIMIT_MAX"), 120),
		RateLimitWindow:   parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		MaxBodyBytes:      int64(parseInt(k.String("HTTP_MAX_BODY_BYTES"), 1<<20)),
		ShutdownTimeout:   parseDuration(k.String("HTTP_SHUTDOWN_TIMEOUT"), "10s"),
		ReadHeaderTimeout: parseDuration(k.String("HTTP_READ_HEADER_TIMEOUT"), "5s"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.InventoryBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("INVENTORY_BASE_URL is not a valid absolute URL: %q", c.InventoryBaseURL)
	}
	if c.InventoryTimeout <= 0 {
		return errors.New("INVENTORY_TIMEOUT must be positive")
	}
	if c.LookupConcurrency < 1 {
		c.LookupConcurrency = 1
	}
	switch c.RulesSource {
	case RulesSourceStatic:
	case RulesSourcePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when PRICING_RULES_SOURCE=postgres")
		}
	default:
		return fmt.Errorf("unsupported PRICING_RULES_SOURCE: %s", c.RulesSource)
	}
	return nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "5003"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// InventoryPort returns the port of the inventory collaborator, used in
// operator-facing error messages.
func (c *Config) InventoryPort() string {
	u, err := url.Parse(c.InventoryBaseURL)
	if err != nil {
		return ""
	}
	if p := u.Port(); p != "" {
		return p
	}
	if u.Scheme == "https" {
		return "443"
	}
	return "80"
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
