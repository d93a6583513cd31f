package config

import "time"

// SchemaVersion is the configuration schema version.
const SchemaVersion = "1"

// Config represents ~/.binbridge/config.yaml.
type Config struct {
	Version string        `yaml:"version"`
	Server  ServerConfig  `yaml:"server"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Engine  EngineConfig  `yaml:"engine"`
	Logging LoggingConfig `yaml:"logging"`
	MCP     MCPConfig     `yaml:"mcp"`
}

// ServerConfig contains the HTTP and websocket transport settings.
type ServerConfig struct {
	Listen          string        `yaml:"listen" env:"BINBRIDGE_LISTEN"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"BINBRIDGE_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"BINBRIDGE_WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RateLimit       RateLimit     `yaml:"rate_limit"`
	// WebSocket enables the /ws endpoint.
	WebSocket bool `yaml:"websocket" env:"BINBRIDGE_WEBSOCKET"`
	// AllowedOrigins lists browser origins accepted on /ws. Empty means
	// same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty" env:"BINBRIDGE_ALLOWED_ORIGINS"`
}

// RateLimit caps requests per client address over a sliding window.
// Zero requests disables limiting.
type RateLimit struct {
	Requests int           `yaml:"requests" env:"BINBRIDGE_RATE_LIMIT"`
	Window   time.Duration `yaml:"window"`
}

// BridgeConfig controls the dispatcher.
type BridgeConfig struct {
	// SerializeAll routes even cheap queries through the execution slot.
	SerializeAll bool `yaml:"serialize_all" env:"BINBRIDGE_SERIALIZE_ALL"`
	// Audit logs one line per request.
	Audit bool `yaml:"audit" env:"BINBRIDGE_AUDIT"`
	// EnabledOperations restricts the operation set. Empty enables all.
	EnabledOperations []string `yaml:"enabled_operations,omitempty" env:"BINBRIDGE_ENABLED_OPERATIONS"`
}

// EngineConfig configures the built-in analysis engine.
type EngineConfig struct {
	MinStringLength int    `yaml:"min_string_length" env:"BINBRIDGE_MIN_STRING_LENGTH"`
	Syntax          string `yaml:"syntax" env:"BINBRIDGE_SYNTAX"` // "intel" or "gnu"
	CacheSize       int    `yaml:"cache_size" env:"BINBRIDGE_CACHE_SIZE"`
	// WatchFile logs a message when the loaded binary changes on disk.
	WatchFile bool `yaml:"watch_file" env:"BINBRIDGE_WATCH_FILE"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"BINBRIDGE_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" env:"BINBRIDGE_LOG_PRETTY"`
}

// MCPConfig configures the MCP tool transport.
type MCPConfig struct {
	// Disabled turns off `serve --mcp-stdio`.
	Disabled bool `yaml:"disabled,omitempty" env:"BINBRIDGE_MCP_DISABLED"`
	// EnabledTools optionally restricts which tools are listed, by wire name.
	EnabledTools []string `yaml:"enabled_tools,omitempty"`
}
