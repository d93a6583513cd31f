package query

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/binbridge/binbridge/internal/bridge"
	"github.com/binbridge/binbridge/internal/cli/helpers"
	"github.com/binbridge/binbridge/internal/cli/render"
	"github.com/binbridge/binbridge/internal/client"
	"github.com/binbridge/binbridge/internal/constants"
)

// NewCallCmd creates the call command.
func NewCallCmd() *cobra.Command {
	var (
		server     string
		configPath string
		format     string
		body       string
		bodyFile   string
		addresses  []string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "call <operation> [key=value...] [address|name]",
		Short: "Run one bridge operation",
		Long: `Sends one operation to a running bridge and prints the result.

Parameters are given as key=value pairs. A bare 0x-prefixed argument is the
address; any other bare argument is a procedure name.

Examples:
  binbridge call segments
  binbridge call decompile 0x401000
  binbridge call disassemble main
  binbridge call procedures filter='name.startsWith("sub_")' limit=20
  binbridge call decompile --addresses 0x401000,0x401200
  binbridge call log_messages since=10 -o json`,
		Args: cobra.MinimumNArgs(1),
		ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			if len(args) > 0 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			return operationNames(), cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := render.ParseFormat(format)
			if err != nil {
				return err
			}
			req, err := ParseRequest(args)
			if err != nil {
				return err
			}

			switch {
			case bodyFile != "":
				data, err := os.ReadFile(bodyFile)
				if err != nil {
					return fmt.Errorf("failed to read body: %w", err)
				}
				req.Body = data
			case body != "":
				req.Body = []byte(body)
			case len(addresses) > 0:
				if req.Body, err = BatchBody(addresses); err != nil {
					return err
				}
			}

			url, err := helpers.ServerURL(server, configPath)
			if err != nil {
				return err
			}
			r, err := render.New(cmd.OutOrStdout(), f)
			if err != nil {
				return err
			}

			c := client.New(url, client.WithTimeout(timeout))
			env, err := c.Call(cmd.Context(), req.Operation.String(), req.Params, req.Body)
			if err != nil {
				return err
			}
			if err := r.Envelope(req.Operation, env); err != nil {
				return err
			}
			if !env.OK {
				return helpers.ErrReported
			}
			return nil
		},
	}

	helpers.AddServerFlag(cmd, &server)
	helpers.AddOutputFlag(cmd, &format)
	cmd.Flags().StringVar(&configPath, "config", "", "Config file used to find the bridge address")
	cmd.Flags().StringVar(&body, "body", "", "Raw JSON request body")
	cmd.Flags().StringVar(&bodyFile, "body-file", "", "Read the request body from a file")
	cmd.Flags().StringSliceVar(&addresses, "addresses", nil, "Batch decompile/disassemble these addresses")
	cmd.Flags().DurationVar(&timeout, "timeout", constants.DefaultCallTimeout, "Request timeout")
	cmd.MarkFlagsMutuallyExclusive("body", "body-file", "addresses")

	return cmd
}

func operationNames() []string {
	ops := bridge.Operations()
	names := make([]string, 0, len(ops))
	for _, op := range ops {
		names = append(names, op.String()+"\t"+op.Description())
	}
	return names
}
