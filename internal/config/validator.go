package config

import (
	"fmt"
	"net"
	"slices"
	"strings"
)

// ValidationError represents a single validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MultiValidationError represents multiple validation errors.
type MultiValidationError struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (e *MultiValidationError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "validation failed with %d errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, err.Error())
	}
	return b.String()
}

var logLevels = []string{"trace", "debug", "info", "warn", "warning", "error", "disabled", "off"}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []ValidationError
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	if c.Version != SchemaVersion {
		add("version", fmt.Sprintf("unsupported version %q (want %q)", c.Version, SchemaVersion))
	}

	if _, port, err := net.SplitHostPort(c.Server.Listen); err != nil {
		add("server.listen", fmt.Sprintf("invalid address %q: %v", c.Server.Listen, err))
	} else if port == "" {
		add("server.listen", "port is required")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.IdleTimeout < 0 {
		add("server", "timeouts must not be negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		add("server.shutdown_timeout", "must be positive")
	}
	if c.Server.RateLimit.Requests < 0 {
		add("server.rate_limit.requests", "must not be negative")
	}
	if c.Server.RateLimit.Requests > 0 && c.Server.RateLimit.Window <= 0 {
		add("server.rate_limit.window", "must be positive when rate limiting is enabled")
	}

	if c.Engine.MinStringLength < 1 {
		add("engine.min_string_length", "must be at least 1")
	}
	if c.Engine.Syntax != "intel" && c.Engine.Syntax != "gnu" {
		add("engine.syntax", fmt.Sprintf("must be 'intel' or 'gnu', got %q", c.Engine.Syntax))
	}
	if c.Engine.CacheSize < 1 {
		add("engine.cache_size", "must be at least 1")
	}

	if !slices.Contains(logLevels, strings.ToLower(c.Logging.Level)) {
		add("logging.level", fmt.Sprintf("unknown level %q", c.Logging.Level))
	}

	if len(errs) > 0 {
		return &MultiValidationError{Errors: errs}
	}
	return nil
}
