// Package config loads binbridge configuration: a YAML file layered under
// environment overrides, filled in from defaults and validated.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/binbridge/binbridge/internal/constants"
)

// Loader handles loading and saving the configuration file.
type Loader struct {
	dir string
}

// NewLoader creates a config loader. The directory is resolved in this order:
//  1. BINBRIDGE_CONFIG environment variable.
//  2. ~/.binbridge.
//  3. .binbridge in the working directory, when there is no home directory.
func NewLoader() *Loader {
	if dir := os.Getenv(constants.ConfigEnv); dir != "" {
		return &Loader{dir: dir}
	}
	if home, err := os.UserHomeDir(); err == nil {
		return &Loader{dir: filepath.Join(home, constants.DefaultDir)}
	}
	return &Loader{dir: constants.DefaultDir}
}

// NewLoaderAt creates a loader rooted at dir.
func NewLoaderAt(dir string) *Loader {
	return &Loader{dir: dir}
}

// Path returns the path of the config file.
func (l *Loader) Path() string {
	return filepath.Join(l.dir, constants.ConfigFile)
}

// Load reads the config file, applies environment overrides and validates
// the result. A missing file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	return LoadFile(l.Path())
}

// LoadFile is Load for an explicit path. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to the config file, creating the directory.
func (l *Loader) Save(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(l.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(l.Path(), data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
