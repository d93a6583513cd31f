// Package helpers holds flag and connection plumbing shared by CLI commands.
package helpers

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/binbridge/binbridge/internal/cli/render"
	"github.com/binbridge/binbridge/internal/config"
)

// ErrReported is returned by commands that already printed their failure.
// The caller exits non-zero without printing it again.
var ErrReported = errors.New("error already reported")

// ServerEnv overrides the bridge URL used by client commands.
const ServerEnv = "BINBRIDGE_SERVER"

var outputFormats = []string{string(render.FormatAuto), string(render.FormatPretty), string(render.FormatJSON)}

// AddOutputFlag adds a standard --output/-o flag to a command.
func AddOutputFlag(cmd *cobra.Command, formatVar *string) {
	description := fmt.Sprintf("Output format (%s)", strings.Join(outputFormats, ", "))
	cmd.Flags().StringVarP(formatVar, "output", "o", string(render.FormatAuto), description)

	_ = cmd.RegisterFlagCompletionFunc("output", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return outputFormats, cobra.ShellCompDirectiveNoFileComp
	})
}

// AddServerFlag adds a standard --server/-s flag for the bridge address.
func AddServerFlag(cmd *cobra.Command, serverVar *string) {
	cmd.Flags().StringVarP(serverVar, "server", "s", "", "Bridge URL (default: $"+ServerEnv+", then the configured listen address)")
}

// LoadConfig loads path, or the default config location when path is empty.
func LoadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.NewLoader().Load()
}

// ServerURL resolves the bridge URL.
// Priority: --server flag > BINBRIDGE_SERVER env var > server.listen config.
func ServerURL(flag, configPath string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if env := os.Getenv(ServerEnv); env != "" {
		return env, nil
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}
	return "http://" + dialable(cfg.Server.Listen), nil
}

// dialable turns a wildcard listen address into one a client can reach.
func dialable(listen string) string {
	switch {
	case strings.HasPrefix(listen, ":"):
		return "127.0.0.1" + listen
	case strings.HasPrefix(listen, "0.0.0.0:"):
		return "127.0.0.1" + strings.TrimPrefix(listen, "0.0.0.0")
	case strings.HasPrefix(listen, "[::]:"):
		return "[::1]" + strings.TrimPrefix(listen, "[::]")
	default:
		return listen
	}
}
