package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		for _, k := range []string{"PORT", "TOKEN_TTL", "ALLOWED_ORIGINS", "USE_S3", "MATCH_WORKERS"} {
			t.Setenv(k, "")
		}
		cfg := loadConfig()
		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
		assert.Equal(t, []string{"http://localhost:5173", "http://127.0.0.1:5173", "http://localhost:3001"}, cfg.AllowedOrigins)
		assert.False(t, cfg.UseS3)
		assert.Equal(t, 0, cfg.MatchWorkers)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("PORT", "9000")
		t.Setenv("TOKEN_TTL", "2h")
		t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
		t.Setenv("USE_S3", "true")
		t.Setenv("MATCH_WORKERS", "4")
		cfg := loadConfig()
		assert.Equal(t, "9000", cfg.Port)
		assert.Equal(t, 2*time.Hour, cfg.TokenTTL)
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
		assert.True(t, cfg.UseS3)
		assert.Equal(t, 4, cfg.MatchWorkers)
	})

	t.Run("unparsable values fall back", func(t *testing.T) {
		t.Setenv("TOKEN_TTL", "forever")
		t.Setenv("MATCH_WORKERS", "many")
		t.Setenv("USE_S3", "maybe")
		cfg := loadConfig()
		assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
		assert.Equal(t, 0, cfg.MatchWorkers)
		assert.False(t, cfg.UseS3)
	})
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, testConfig().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"default secret in production", func(c *Config) {
			c.Environment = "production"
			c.JWTSecret = defaultJWTSecret
		}},
		{"log email in production", func(c *Config) { c.Environment = "production" }},
		{"otp too short", func(c *Config) { c.OTPLength = 3 }},
		{"no attempts", func(c *Config) { c.MaxOTPAttempts = 0 }},
		{"sendgrid without key", func(c *Config) { c.EmailProvider = "sendgrid" }},
		{"unknown email provider", func(c *Config) { c.EmailProvider = "pigeon" }},
		{"twilio incomplete", func(c *Config) {
			c.SMSProvider = "twilio"
			c.TwilioAccountSID = "AC123"
		}},
		{"s3 without bucket", func(c *Config) { c.UseS3 = true }},
		{"no database", func(c *Config) { c.DatabaseURL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
