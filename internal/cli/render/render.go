// Package render prints bridge envelopes for people (tables, highlighted
// pseudocode) or for programs (indented JSON).
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/binbridge/binbridge/internal/bridge"
)

// Format represents the desired output format.
type Format string

const (
	// FormatAuto picks pretty output on a terminal and JSON otherwise.
	FormatAuto   Format = "auto"
	FormatPretty Format = "pretty"
	FormatJSON   Format = "json"
)

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case "", FormatAuto:
		return FormatAuto, nil
	case FormatPretty, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (want auto, pretty or json)", s)
	}
}

var (
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// Renderer writes envelopes to one output.
type Renderer struct {
	out    io.Writer
	pretty bool
	color  bool
	code   *glamour.TermRenderer
}

// New creates a renderer. FormatAuto resolves to pretty output only when out
// is a terminal.
func New(out io.Writer, format Format) (*Renderer, error) {
	tty := IsTerminal(out)

	r := &Renderer{out: out}
	switch format {
	case FormatJSON:
	case FormatPretty:
		r.pretty = true
	default:
		r.pretty = tty
	}
	r.color = r.pretty && tty && os.Getenv("NO_COLOR") == ""

	if r.pretty {
		opts := []glamour.TermRendererOption{glamour.WithWordWrap(0)}
		if r.color {
			opts = append(opts, glamour.WithAutoStyle())
		} else {
			opts = append(opts, glamour.WithStylePath("notty"))
		}
		code, err := glamour.NewTermRenderer(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create code renderer: %w", err)
		}
		r.code = code
	}
	return r, nil
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Pretty reports whether output is meant for people.
func (r *Renderer) Pretty() bool { return r.pretty }

// Envelope prints the outcome of op.
func (r *Renderer) Envelope(op bridge.Operation, env bridge.Envelope) error {
	if !r.pretty {
		return r.JSON(env)
	}
	if !env.OK {
		return r.Error(env.Err())
	}

	var err error
	switch op {
	case bridge.OpSegments:
		err = r.segments(env.Result)
	case bridge.OpProcedures:
		err = r.procedures(env.Result)
	case bridge.OpStrings:
		err = r.stringLiterals(env.Result)
	case bridge.OpProcedureSignature:
		err = r.signature(env.Result)
	case bridge.OpDecompile:
		err = r.decompile(env.Result)
	case bridge.OpDisassemble:
		err = r.disassemble(env.Result)
	case bridge.OpAllPseudocode:
		err = r.allPseudocode(env.Result)
	case bridge.OpFilePath:
		err = r.filePath(env.Result)
	case bridge.OpStatus:
		err = r.status(env.Result)
	case bridge.OpXrefs:
		err = r.xrefs(env.Result)
	case bridge.OpLogMessages:
		err = r.logMessages(env.Result)
	case bridge.OpTerminate:
		err = r.terminate(env.Result)
	default:
		return r.JSON(env)
	}
	if err != nil {
		return fmt.Errorf("failed to render %s: %w", op, err)
	}
	return nil
}

// JSON prints v as indented JSON.
func (r *Renderer) JSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Error prints a failure line.
func (r *Renderer) Error(err error) error {
	if err == nil {
		return nil
	}
	line := "✗ " + err.Error()
	if r.color {
		line = errorStyle.Render(line)
	}
	_, werr := fmt.Fprintln(r.out, line)
	return werr
}

// Hint prints a dim informational line.
func (r *Renderer) Hint(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if r.color {
		line = hintStyle.Render(line)
	}
	_, _ = fmt.Fprintln(r.out, line)
}

func (r *Renderer) title(s string) string {
	if r.color {
		return titleStyle.Render(s)
	}
	return s
}

// isBatch reports whether a code result is a batch (a JSON array).
func isBatch(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}
