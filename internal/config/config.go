// Package config provides configuration loading and validation for the
// authorization engine. It uses koanf to merge environment variables with
// optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the engine.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Stores
	DatabaseURL string `koanf:"database_url"`
	RedisURL    string `koanf:"redis_url"`

	// Admin API authentication
	AdminJWTSecret         string `koanf:"admin_jwt_secret"`
	AdminJWTPreviousSecret string `koanf:"admin_jwt_previous_secret"`

	// Credential verification and pipeline timing
	ClockSkewWindow    time.Duration `koanf:"clock_skew_window"`
	RotationGrace      time.Duration `koanf:"rotation_grace"`
	LedgerWriteTimeout time.Duration `koanf:"ledger_write_timeout"`
	EscalationWait     time.Duration `koanf:"escalation_wait"`

	// Trust scoring
	TrustDecayPerDay float64 `koanf:"trust_decay_per_day"`

	// Anomaly detection
	AnomalyWindow    time.Duration `koanf:"anomaly_window"`
	AnomalyDeviation float64       `koanf:"anomaly_deviation"`

	// Rate limiting on the submission API
	AuthorizeRateLimit int `koanf:"authorize_rate_limit"` // requests per minute per agent

	// Tracing
	TracingEnabled  bool    `koanf:"tracing_enabled"`
	TracingExporter string  `koanf:"tracing_exporter"` // otlp-http or otlp-grpc
	OTLPEndpoint    string  `koanf:"otlp_endpoint"`
	TracingSampling float64 `koanf:"tracing_sampling"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL    = errors.New("DATABASE_URL is required")
	ErrMissingRedisURL       = errors.New("REDIS_URL is required")
	ErrMissingAdminJWTSecret = errors.New("ADMIN_JWT_SECRET is required")
	ErrInvalidPort           = errors.New("PORT must be a valid integer")
	ErrInvalidSkewWindow     = errors.New("CLOCK_SKEW_WINDOW must be positive")
	ErrInvalidWriteTimeout   = errors.New("LEDGER_WRITE_TIMEOUT must be positive")
	ErrInvalidDeviation      = errors.New("ANOMALY_DEVIATION must be positive")
)

// Default values for non-secret configuration.
const (
	DefaultPort               = 8080
	DefaultEnv                = "development"
	DefaultClockSkewWindow    = 30 * time.Second
	DefaultRotationGrace      = 10 * time.Minute
	DefaultLedgerWriteTimeout = 2 * time.Second
	DefaultEscalationWait     = 15 * time.Minute
	DefaultTrustDecayPerDay   = 0.0 // decay disabled unless configured
	DefaultAnomalyWindow      = time.Hour
	DefaultAnomalyDeviation   = 3.0
	DefaultAuthorizeRateLimit = 600
	DefaultTracingSampling    = 0.1
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, portErr := getEnvIntOrDefault("PORT", k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	skew, err := getEnvDurationOrDefault("CLOCK_SKEW_WINDOW", k.Duration("clock_skew_window"), DefaultClockSkewWindow)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	grace, err := getEnvDurationOrDefault("ROTATION_GRACE", k.Duration("rotation_grace"), DefaultRotationGrace)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	writeTimeout, err := getEnvDurationOrDefault("LEDGER_WRITE_TIMEOUT", k.Duration("ledger_write_timeout"), DefaultLedgerWriteTimeout)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	escalationWait, err := getEnvDurationOrDefault("ESCALATION_WAIT", k.Duration("escalation_wait"), DefaultEscalationWait)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	anomalyWindow, err := getEnvDurationOrDefault("ANOMALY_WINDOW", k.Duration("anomaly_window"), DefaultAnomalyWindow)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	decay, err := getEnvFloatOrDefault("TRUST_DECAY_PER_DAY", k.Float64("trust_decay_per_day"), DefaultTrustDecayPerDay)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	deviation, err := getEnvFloatOrDefault("ANOMALY_DEVIATION", k.Float64("anomaly_deviation"), DefaultAnomalyDeviation)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	sampling, err := getEnvFloatOrDefault("TRACING_SAMPLING", k.Float64("tracing_sampling"), DefaultTracingSampling)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	rateLimit, err := getEnvIntOrDefault("AUTHORIZE_RATE_LIMIT", k.Int("authorize_rate_limit"), DefaultAuthorizeRateLimit)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	tracingEnabled := k.Bool("tracing_enabled")
	if val := os.Getenv("TRACING_ENABLED"); val != "" {
		tracingEnabled = val == "true" || val == "1" || val == "yes" || val == "on"
	}

	cfg := &Config{
		Port:                   port,
		Env:                    getEnvOrDefault("ENGINE_ENV", k.String("env"), DefaultEnv),
		DatabaseURL:            getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:               getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		AdminJWTSecret:         getEnvOrKoanf("ADMIN_JWT_SECRET", k, "admin_jwt_secret"),
		AdminJWTPreviousSecret: getEnvOrKoanf("ADMIN_JWT_PREVIOUS_SECRET", k, "admin_jwt_previous_secret"),
		ClockSkewWindow:        skew,
		RotationGrace:          grace,
		LedgerWriteTimeout:     writeTimeout,
		EscalationWait:         escalationWait,
		TrustDecayPerDay:       decay,
		AnomalyWindow:          anomalyWindow,
		AnomalyDeviation:       deviation,
		AuthorizeRateLimit:     rateLimit,
		TracingEnabled:         tracingEnabled,
		TracingExporter:        getEnvOrDefault("TRACING_EXPORTER", k.String("tracing_exporter"), "otlp-http"),
		OTLPEndpoint:           getEnvOrKoanf("OTLP_ENDPOINT", k, "otlp_endpoint"),
		TracingSampling:        sampling,
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidPort)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvDurationOrDefault returns the environment variable as a duration if set,
// otherwise the koanf value, or default.
func getEnvDurationOrDefault(envKey string, koanfVal time.Duration, defaultVal time.Duration) (time.Duration, error) {
	if val := os.Getenv(envKey); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", envKey, err)
		}
		return d, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.RedisURL == "" {
		errs = append(errs, ErrMissingRedisURL)
	}
	if c.AdminJWTSecret == "" {
		errs = append(errs, ErrMissingAdminJWTSecret)
	}
	if c.ClockSkewWindow <= 0 {
		errs = append(errs, ErrInvalidSkewWindow)
	}
	if c.LedgerWriteTimeout <= 0 {
		errs = append(errs, ErrInvalidWriteTimeout)
	}
	if c.AnomalyDeviation <= 0 {
		errs = append(errs, ErrInvalidDeviation)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                 fmt.Sprintf("%d", c.Port),
		"env":                  c.Env,
		"database_url":         maskDatabaseURL(c.DatabaseURL),
		"redis_url":            maskDatabaseURL(c.RedisURL),
		"admin_jwt_secret":     maskSecret(c.AdminJWTSecret),
		"clock_skew_window":    c.ClockSkewWindow.String(),
		"rotation_grace":       c.RotationGrace.String(),
		"ledger_write_timeout": c.LedgerWriteTimeout.String(),
		"escalation_wait":      c.EscalationWait.String(),
		"trust_decay_per_day":  fmt.Sprintf("%g", c.TrustDecayPerDay),
		"anomaly_window":       c.AnomalyWindow.String(),
		"anomaly_deviation":    fmt.Sprintf("%g", c.AnomalyDeviation),
		"authorize_rate_limit": fmt.Sprintf("%d", c.AuthorizeRateLimit),
		"tracing_enabled":      fmt.Sprintf("%t", c.TracingEnabled),
		"tracing_exporter":     c.TracingExporter,
		"otlp_endpoint":        c.OTLPEndpoint,
		"tracing_sampling":     fmt.Sprintf("%g", c.TracingSampling),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a connection URL.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
