// Package serve implements the serve command: load a binary and answer
// bridge requests until terminated.
package serve

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/binbridge/binbridge/internal/bridge"
	"github.com/binbridge/binbridge/internal/bridge/httpapi"
	"github.com/binbridge/binbridge/internal/bridge/mcp"
	"github.com/binbridge/binbridge/internal/cli/helpers"
	"github.com/binbridge/binbridge/internal/config"
	"github.com/binbridge/binbridge/internal/engine"
	"github.com/binbridge/binbridge/internal/engine/objfile"
	"github.com/binbridge/binbridge/internal/logging"
	"github.com/binbridge/binbridge/internal/session"
	"github.com/binbridge/binbridge/pkg/version"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	var (
		configPath string
		mcpStdio   bool
		over       overrides
	)

	cmd := &cobra.Command{
		Use:   "serve [binary]",
		Short: "Load a binary and serve bridge requests",
		Long: `Loads an executable (ELF, Mach-O or PE) into the built-in analysis engine
and answers bridge requests over HTTP (/v1/{operation}) and WebSocket (/ws)
until a client sends terminate or the process is interrupted.

Without a binary the bridge starts with nothing loaded: status and terminate
work, everything else reports NotReady.

With --mcp-stdio the bridge speaks the Model Context Protocol on stdin and
stdout instead, exposing each operation as a binbridge_<operation> tool.

Examples:
  binbridge serve ./a.out
  binbridge serve --listen 127.0.0.1:0 --syntax gnu /usr/bin/true
  binbridge serve --mcp-stdio ./firmware.elf`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := helpers.LoadConfig(configPath)
			if err != nil {
				return err
			}

			over.apply(cfg, cmd.Flags())
			if err := cfg.Validate(); err != nil {
				return err
			}

			var binary string
			if len(args) == 1 {
				binary = args[0]
			}

			logger := logging.NewWithComponent(logging.Config{
				Level:  cfg.Logging.Level,
				Pretty: cfg.Logging.Pretty,
				Output: cmd.ErrOrStderr(),
			}, "bridge")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return Run(ctx, cfg, binary, Options{
				MCPStdio: mcpStdio,
				Stdin:    cmd.InOrStdin(),
				Stdout:   cmd.OutOrStdout(),
				Logger:   logger,
			})
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Config file (default: ~/.binbridge/config.yaml)")
	cmd.Flags().BoolVar(&mcpStdio, "mcp-stdio", false, "Serve MCP over stdin/stdout instead of HTTP")
	over.register(cmd.Flags())

	return cmd
}

// overrides are the config values settable from the command line.
type overrides struct {
	listen   string
	logLevel string
	syntax   string
	noWatch  bool
}

func (o *overrides) register(fs *pflag.FlagSet) {
	fs.StringVarP(&o.listen, "listen", "l", "", "HTTP listen address (overrides server.listen)")
	fs.StringVar(&o.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	fs.StringVar(&o.syntax, "syntax", "", "x86 assembly syntax (intel, gnu)")
	fs.BoolVar(&o.noWatch, "no-watch", false, "Do not watch the binary for changes")
}

// apply copies the flags the user set onto cfg.
func (o *overrides) apply(cfg *config.Config, fs *pflag.FlagSet) {
	if fs.Changed("listen") {
		cfg.Server.Listen = o.listen
	}
	if fs.Changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
	if fs.Changed("syntax") {
		cfg.Engine.Syntax = o.syntax
	}
	if o.noWatch {
		cfg.Engine.WatchFile = false
	}
}

// Options are the process-level inputs of Run.
type Options struct {
	MCPStdio bool
	Stdin    io.Reader
	Stdout   io.Writer
	Logger   zerolog.Logger

	// Ready, if set, receives the HTTP base URL once the server listens.
	Ready func(url string)
}

// Run serves one session until ctx ends or a client terminates it.
func Run(ctx context.Context, cfg *config.Config, binary string, opts Options) error {
	logger := opts.Logger.With().Str("module", "serve").Logger()
	logger.Info().Str("build", version.String()).Str("binary", binary).Msg("Starting bridge")

	log := session.NewLog()
	eng, err := openEngine(cfg, binary, log, opts.Logger)
	if err != nil {
		return err
	}

	sess := session.New(eng, log, opts.Logger)
	defer func() {
		if _, err := sess.Terminate(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close session")
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Engine.WatchFile && binary != "" {
		if err := sess.WatchFile(ctx); err != nil {
			logger.Warn().Err(err).Msg("Not watching binary for changes")
		}
	}

	d, err := bridge.NewDispatcher(sess, bridge.HostFunc(cancel), bridge.Config{
		SerializeAll:      cfg.Bridge.SerializeAll,
		Audit:             cfg.Bridge.Audit,
		EnabledOperations: cfg.Bridge.EnabledOperations,
	}, opts.Logger)
	if err != nil {
		return err
	}

	if opts.MCPStdio {
		return serveMCP(ctx, cfg, d, opts)
	}
	return serveHTTP(ctx, cfg, d, opts)
}

func openEngine(cfg *config.Config, binary string, log engine.LogSink, logger zerolog.Logger) (*objfile.Engine, error) {
	engOpts := objfile.Options{
		MinStringLength: cfg.Engine.MinStringLength,
		Syntax:          objfile.Syntax(cfg.Engine.Syntax),
		CacheSize:       cfg.Engine.CacheSize,
		Log:             log,
		Logger:          logger,
	}
	if binary == "" {
		return objfile.Unloaded(engOpts), nil
	}
	eng, err := objfile.Open(binary, engOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", binary, err)
	}
	return eng, nil
}

func serveHTTP(ctx context.Context, cfg *config.Config, d *bridge.Dispatcher, opts Options) error {
	httpCfg := httpapi.Config{
		Listen:         cfg.Server.Listen,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		WebSocket:      cfg.Server.WebSocket,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Dispatcher:     d,
		Logger:         opts.Logger,
	}
	if cfg.Server.RateLimit.Requests > 0 {
		httpCfg.RateLimit = &httpapi.RateLimit{
			Requests: cfg.Server.RateLimit.Requests,
			Window:   cfg.Server.RateLimit.Window,
		}
	}

	srv, err := httpapi.New(httpCfg)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	if opts.Ready != nil {
		opts.Ready(srv.URL())
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cfg *config.Config, d *bridge.Dispatcher, opts Options) error {
	if cfg.MCP.Disabled {
		return fmt.Errorf("MCP is disabled in configuration")
	}
	srv, err := mcp.New(d, mcp.Config{
		EnabledTools: cfg.MCP.EnabledTools,
		Logger:       opts.Logger,
	})
	if err != nil {
		return err
	}

	err = srv.ServeStdio(ctx, opts.Stdin, opts.Stdout)
	if err != nil && ctx.Err() != nil {
		// Terminated through the terminate tool or a signal.
		return nil
	}
	return err
}
