package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultAPIBaseURL, cfg.APIBaseURL)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultCallTimeout, cfg.CallTimeout)
	assert.Equal(t, DefaultPollMaxAttempts, cfg.PollMaxAttempts)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("API_BASE_URL", "https://api.prepdeck.io")
	t.Setenv("CALL_TIMEOUT", "5s")
	t.Setenv("POLL_MAX_ATTEMPTS", "7")
	t.Setenv("LOCALE", "es-AR")
	t.Setenv("SANDBOX_MODE", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.prepdeck.io", cfg.APIBaseURL)
	assert.Equal(t, 5*time.Second, cfg.CallTimeout)
	assert.Equal(t, 7, cfg.PollMaxAttempts)
	assert.Equal(t, "es-AR", cfg.Locale)
	assert.False(t, cfg.SandboxMode)
	assert.True(t, cfg.IsProduction())
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("CALL_TIMEOUT", "not-a-duration")
	t.Setenv("RETRY_ATTEMPTS", "many")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultCallTimeout, cfg.CallTimeout)
	assert.Equal(t, DefaultRetryAttempts, cfg.RetryAttempts)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing base url", func(c *Config) { c.APIBaseURL = "" }, "API_BASE_URL is required"},
		{"bad base url", func(c *Config) { c.APIBaseURL = "::nope" }, "API_BASE_URL is not a valid URL"},
		{"bad success url", func(c *Config) { c.SuccessURL = "::nope" }, "SUCCESS_URL is not a valid URL"},
		{"zero attempts", func(c *Config) { c.PollMaxAttempts = 0 }, "POLL_MAX_ATTEMPTS must be positive"},
		{"zero interval", func(c *Config) { c.PollInterval = 0 }, "POLL_INTERVAL must be positive"},
		{"cap below interval", func(c *Config) {
			c.PollInterval = 5 * time.Second
			c.PollIntervalCap = time.Second
		}, "POLL_INTERVAL_CAP must be at least POLL_INTERVAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
