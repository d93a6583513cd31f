package config

import (
	"github.com/binbridge/binbridge/internal/constants"
)

// Engine defaults mirror the built-in engine's own.
const (
	DefaultMinStringLength = 4
	DefaultSyntax          = "intel"
	DefaultCacheSize       = 256
)

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Version: SchemaVersion,
		Server: ServerConfig{
			Listen:          constants.DefaultListenAddr,
			ReadTimeout:     constants.DefaultReadTimeout,
			WriteTimeout:    constants.DefaultWriteTimeout,
			IdleTimeout:     constants.DefaultIdleTimeout,
			ShutdownTimeout: constants.DefaultShutdownTimeout,
			RateLimit: RateLimit{
				Requests: constants.DefaultRateLimitRequests,
				Window:   constants.DefaultRateLimitWindow,
			},
			WebSocket: true,
		},
		Engine: EngineConfig{
			MinStringLength: DefaultMinStringLength,
			Syntax:          DefaultSyntax,
			CacheSize:       DefaultCacheSize,
			WatchFile:       true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}
