// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Runtime settings
	Env      string // "development", "staging", "production"
	LogLevel string

	// Backend API
	APIBaseURL string // Base URL of the PrepDeck backend
	AuthToken  string // Session bearer token (optional until sign-in)
	Locale     string // Locale hint sent with every call (optional)
	UserID     string
	UserEmail  string

	// Gateway behavior
	CallTimeout    time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// Reconciliation
	PollMaxAttempts int
	PollInterval    time.Duration
	PollIntervalCap time.Duration
	SuccessURL      string // Destination for the post-purchase success view

	// Sandbox backend
	Port            string
	DatabaseURL     string // PostgreSQL connection string (optional, uses in-memory if not set)
	StripeSecretKey string // Enables real Stripe checkout minting when set
	SandboxMode     bool
	CORSOrigins     []string // Allowed CORS origins; "*" allows all

	// Observability
	OTLPEndpoint string
}

// Defaults
const (
	DefaultAPIBaseURL      = "http://localhost:8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultPort            = "8080"
	DefaultCallTimeout     = 15 * time.Second
	DefaultRetryAttempts   = 4
	DefaultRetryBaseDelay  = 250 * time.Millisecond
	DefaultRetryMaxDelay   = 30 * time.Second
	DefaultPollMaxAttempts = 40
	DefaultPollInterval    = 3 * time.Second
	DefaultPollIntervalCap = 10 * time.Second
	DefaultSuccessURL      = "https://app.prepdeck.io/dashboard/success"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Env:             getEnv("ENV", DefaultEnv),
		LogLevel:        getEnv("LOG_LEVEL", DefaultLogLevel),
		APIBaseURL:      getEnv("API_BASE_URL", DefaultAPIBaseURL),
		AuthToken:       os.Getenv("AUTH_TOKEN"), // Optional until sign-in
		Locale:          os.Getenv("LOCALE"),
		UserID:          os.Getenv("USER_ID"),
		UserEmail:       os.Getenv("USER_EMAIL"),
		CallTimeout:     getEnvDuration("CALL_TIMEOUT", DefaultCallTimeout),
		RetryAttempts:   int(getEnvInt64("RETRY_ATTEMPTS", DefaultRetryAttempts)),
		RetryBaseDelay:  getEnvDuration("RETRY_BASE_DELAY", DefaultRetryBaseDelay),
		RetryMaxDelay:   getEnvDuration("RETRY_MAX_DELAY", DefaultRetryMaxDelay),
		PollMaxAttempts: int(getEnvInt64("POLL_MAX_ATTEMPTS", DefaultPollMaxAttempts)),
		PollInterval:    getEnvDuration("POLL_INTERVAL", DefaultPollInterval),
		PollIntervalCap: getEnvDuration("POLL_INTERVAL_CAP", DefaultPollIntervalCap),
		SuccessURL:      getEnv("SUCCESS_URL", DefaultSuccessURL),
		Port:            getEnv("PORT", DefaultPort),
		DatabaseURL:     os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		StripeSecretKey: os.Getenv("STRIPE_SECRET_KEY"),
		SandboxMode:     getEnvBool("SANDBOX_MODE", true),
		CORSOrigins:     getEnvList("CORS_ORIGINS", []string{"*"}),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	if _, err := url.ParseRequestURI(c.APIBaseURL); err != nil {
		return fmt.Errorf("API_BASE_URL is not a valid URL: %w", err)
	}
	if c.SuccessURL != "" {
		if _, err := url.ParseRequestURI(c.SuccessURL); err != nil {
			return fmt.Errorf("SUCCESS_URL is not a valid URL: %w", err)
		}
	}
	if c.PollMaxAttempts <= 0 {
		return fmt.Errorf("POLL_MAX_ATTEMPTS must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.PollIntervalCap < c.PollInterval {
		return fmt.Errorf("POLL_INTERVAL_CAP must be at least POLL_INTERVAL")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		var out []string
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
