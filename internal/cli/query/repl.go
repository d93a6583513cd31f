package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/binbridge/binbridge/internal/bridge"
	"github.com/binbridge/binbridge/internal/cli/helpers"
	"github.com/binbridge/binbridge/internal/cli/render"
	"github.com/binbridge/binbridge/internal/client"
	"github.com/binbridge/binbridge/internal/constants"
	"github.com/binbridge/binbridge/internal/retry"
)

const replPrompt = "binbridge> "

// NewReplCmd creates the repl command.
func NewReplCmd() *cobra.Command {
	var (
		server     string
		configPath string
		format     string
	)

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Open an interactive shell against a running bridge",
		Long: `Opens an interactive shell with command history and completion. Each line
is an operation followed by its arguments, as for 'binbridge call'.

Meta-commands:
  .help              - Show help message
  .ops               - List operations
  .output <format>   - Switch output (pretty, json)
  .exit              - Exit shell (or Ctrl+D)
  .quit              - Exit shell

Example session:
  binbridge> procedures limit=5
  binbridge> decompile main
  binbridge> xrefs 0x401000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := render.ParseFormat(format)
			if err != nil {
				return err
			}
			if f == render.FormatAuto {
				f = render.FormatPretty
			}
			url, err := helpers.ServerURL(server, configPath)
			if err != nil {
				return err
			}

			c := client.New(url)
			ctx := cmd.Context()
			health, err := c.WaitReady(ctx, retry.Config{MaxAttempts: 5, InitialBackoff: 100 * time.Millisecond})
			if err != nil {
				return fmt.Errorf("bridge at %s is not reachable: %w", url, err)
			}

			sh, err := newShell(c, cmd.OutOrStdout(), f)
			if err != nil {
				return err
			}
			sh.r.Hint("Connected to %s (session %s, bridge %s). Type '.help' for help.", url, health.Session, health.Version)
			return sh.run(ctx)
		},
	}

	helpers.AddServerFlag(cmd, &server)
	helpers.AddOutputFlag(cmd, &format)
	cmd.Flags().StringVar(&configPath, "config", "", "Config file used to find the bridge address")

	return cmd
}

// shell evaluates REPL lines against one bridge.
type shell struct {
	client *client.Client
	out    io.Writer
	r      *render.Renderer
}

func newShell(c *client.Client, out io.Writer, f render.Format) (*shell, error) {
	r, err := render.New(out, f)
	if err != nil {
		return nil, err
	}
	return &shell{client: c, out: out, r: r}, nil
}

// errExit ends the loop.
var errExit = errors.New("exit")

func (s *shell) run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          replPrompt,
		HistoryFile:     historyFile(),
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       ".exit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer func() { _ = rl.Close() }()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				_, _ = fmt.Fprintln(s.out)
				return nil
			}
			return fmt.Errorf("readline error: %w", err)
		}

		if err := s.eval(ctx, line); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}
			_ = s.r.Error(err)
		}
	}
}

// eval runs one line. It returns errExit when the shell should stop.
func (s *shell) eval(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	if strings.HasPrefix(line, ".") {
		return s.meta(line)
	}

	req, err := ParseRequest(splitLine(line))
	if err != nil {
		return err
	}
	env, err := s.client.Call(ctx, req.Operation.String(), req.Params, req.Body)
	if err != nil {
		return err
	}
	if err := s.r.Envelope(req.Operation, env); err != nil {
		return err
	}
	if req.Operation == bridge.OpTerminate && env.OK {
		return errExit
	}
	return nil
}

func (s *shell) meta(line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case ".exit", ".quit":
		return errExit
	case ".help":
		_, err := fmt.Fprint(s.out, replHelp)
		return err
	case ".ops":
		rows := make([][]string, 0, len(bridge.Operations()))
		for _, op := range bridge.Operations() {
			rows = append(rows, []string{op.String(), op.Alias(), op.Description()})
		}
		if s.r.Pretty() {
			return s.r.Table([]string{"OPERATION", "ALIAS", "DESCRIPTION"}, rows)
		}
		return s.r.JSON(rows)
	case ".output":
		if len(fields) != 2 {
			return fmt.Errorf("usage: .output <pretty|json>")
		}
		f, err := render.ParseFormat(fields[1])
		if err != nil {
			return err
		}
		if f == render.FormatAuto {
			f = render.FormatPretty
		}
		r, err := render.New(s.out, f)
		if err != nil {
			return err
		}
		s.r = r
		return nil
	default:
		return fmt.Errorf("unknown meta-command %q (try .help)", fields[0])
	}
}

// splitLine splits on whitespace, keeping single- or double-quoted runs
// together so filter expressions can contain spaces.
func splitLine(line string) []string {
	var (
		out   []string
		cur   strings.Builder
		quote rune
		inTok bool
	)
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			inTok = true
		case r == ' ' || r == '\t':
			if inTok {
				out = append(out, cur.String())
				cur.Reset()
				inTok = false
			}
		default:
			cur.WriteRune(r)
			inTok = true
		}
	}
	if inTok {
		out = append(out, cur.String())
	}
	return out
}

func completer() *readline.PrefixCompleter {
	items := []readline.PrefixCompleterInterface{
		readline.PcItem(".help"),
		readline.PcItem(".ops"),
		readline.PcItem(".output", readline.PcItem("pretty"), readline.PcItem("json")),
		readline.PcItem(".exit"),
		readline.PcItem(".quit"),
	}
	for _, op := range bridge.Operations() {
		items = append(items, readline.PcItem(op.String()))
	}
	return readline.NewPrefixCompleter(items...)
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, constants.DefaultDir, "repl_history")
}

const replHelp = `Enter an operation followed by key=value arguments and an optional
address (0x-prefixed) or procedure name:

  strings [filter=EXPR] [offset=N] [limit=N]
  segments
  procedures [filter=EXPR] [offset=N] [limit=N]
  procedure_signature <address|name>
  decompile <address|name>
  disassemble <address|name>
  all_pseudocode
  filepath
  status
  xrefs <address>
  log_messages [since=N]
  terminate

Meta-commands: .help .ops .output <pretty|json> .exit .quit
`
