package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"version", func(c *Config) { c.Version = "2" }, "version"},
		{"listen without port", func(c *Config) { c.Server.Listen = "localhost" }, "server.listen"},
		{"listen empty port", func(c *Config) { c.Server.Listen = "localhost:" }, "server.listen"},
		{"negative timeout", func(c *Config) { c.Server.ReadTimeout = -time.Second }, "server"},
		{"zero shutdown", func(c *Config) { c.Server.ShutdownTimeout = 0 }, "server.shutdown_timeout"},
		{"negative rate", func(c *Config) { c.Server.RateLimit.Requests = -1 }, "server.rate_limit.requests"},
		{"rate without window", func(c *Config) { c.Server.RateLimit.Window = 0 }, "server.rate_limit.window"},
		{"min string length", func(c *Config) { c.Engine.MinStringLength = 0 }, "engine.min_string_length"},
		{"syntax", func(c *Config) { c.Engine.Syntax = "att" }, "engine.syntax"},
		{"cache size", func(c *Config) { c.Engine.CacheSize = 0 }, "engine.cache_size"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var verr *MultiValidationError
			require.ErrorAs(t, err, &verr)
			require.Len(t, verr.Errors, 1)
			assert.Equal(t, tt.field, verr.Errors[0].Field)
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	require.NoError(t, Default().Validate())

	cfg := Default()
	cfg.Server.RateLimit = RateLimit{}
	assert.NoError(t, cfg.Validate(), "rate limiting may be disabled")
}

func TestMultiValidationErrorMessage(t *testing.T) {
	cfg := Default()
	cfg.Engine.Syntax = "att"
	cfg.Logging.Level = "loud"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed with 2 errors")
	assert.Contains(t, err.Error(), "1. engine.syntax")
	assert.Contains(t, err.Error(), "2. logging.level")
}
