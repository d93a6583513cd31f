// Package cli wires the binbridge commands together.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/binbridge/binbridge/internal/cli/helpers"
	"github.com/binbridge/binbridge/internal/cli/query"
	"github.com/binbridge/binbridge/internal/cli/render"
	"github.com/binbridge/binbridge/internal/cli/serve"
	"github.com/binbridge/binbridge/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:   "binbridge",
	Short: "binbridge - query a binary analysis session over HTTP, WebSocket or MCP",
	Long: `Load an executable once and ask questions about it from anywhere.

The bridge exposes a fixed set of read-only queries (segments, procedures,
strings, signatures, pseudocode, disassembly, cross references, logs) plus
status and terminate, over three transports:
- HTTP: POST /v1/{operation}
- WebSocket: /ws, one JSON request per message
- MCP: stdio tools for AI assistants (serve --mcp-stdio)

Commands:
- serve: load a binary and answer requests
- call: run one operation against a running bridge
- repl: interactive shell against a running bridge`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serve.NewServeCmd())
	rootCmd.AddCommand(query.NewCallCmd())
	rootCmd.AddCommand(query.NewReplCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	var (
		short  bool
		format string
	)
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := render.ParseFormat(format)
			if err != nil {
				return err
			}
			info := version.Get()
			if f == render.FormatJSON {
				r, err := render.New(cmd.OutOrStdout(), f)
				if err != nil {
					return err
				}
				return r.JSON(info)
			}
			if short {
				cmd.Println(info.Version)
				return nil
			}
			cmd.Printf("binbridge version %s\n", info.Version)
			cmd.Printf("Git commit: %s\n", info.GitCommit)
			cmd.Printf("Build date: %s\n", info.BuildDate)
			cmd.Printf("Go version: %s (%s)\n", info.GoVersion, info.Platform)
			return nil
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "Print the version number only")
	helpers.AddOutputFlag(cmd, &format)
	return cmd
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
