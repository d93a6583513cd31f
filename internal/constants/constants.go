// Package constants defines shared configuration constants and defaults.
package constants

import "time"

var (
	ConfigFile = "config.yaml"

	// ConfigEnv names a directory holding ConfigFile. It overrides DefaultDir.
	ConfigEnv = "BINBRIDGE_CONFIG"

	DefaultDir = ".binbridge"

	// DefaultListenAddr is the bridge HTTP listen address. The bridge binds
	// to loopback unless told otherwise.
	DefaultListenAddr = "127.0.0.1:52349"

	DefaultServerURL = "http://" + DefaultListenAddr
)

// APIVersion is the wire protocol version reported by /health.
const APIVersion = "1.0.0"

// APIConstraint is the range of server API versions a client accepts.
const APIConstraint = "^1.0.0"

// Timeouts.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 5 * time.Minute
	DefaultIdleTimeout     = 2 * time.Minute
	DefaultShutdownTimeout = 10 * time.Second

	// DefaultCallTimeout bounds one client request. Decompiling a large
	// procedure can take a while.
	DefaultCallTimeout = 2 * time.Minute

	DefaultHealthTimeout = 500 * time.Millisecond
)

// Rate limiting.
const (
	DefaultRateLimitRequests = 600
	DefaultRateLimitWindow   = time.Minute
)
