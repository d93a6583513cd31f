package render

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/binbridge/binbridge/internal/bridge"
	"github.com/binbridge/binbridge/internal/engine"
)

// Table prints rows under headers. An empty row set prints "(none)".
func (r *Renderer) Table(headers []string, rows [][]string) error {
	if len(rows) == 0 {
		r.Hint("(none)")
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	_, err := fmt.Fprintln(r.out, t.Render())
	return err
}

// Code prints pseudocode through the code renderer.
func (r *Renderer) Code(code string) error {
	out, err := r.code.Render("```c\n" + strings.TrimRight(code, "\n") + "\n```\n")
	if err != nil {
		out = code
	}
	_, err = fmt.Fprint(r.out, out)
	return err
}

func (r *Renderer) segments(raw json.RawMessage) error {
	var segs []engine.Segment
	if err := json.Unmarshal(raw, &segs); err != nil {
		return err
	}
	rows := make([][]string, 0, len(segs))
	for _, s := range segs {
		rows = append(rows, []string{
			s.Name,
			s.Start.String(),
			(s.Start + engine.Address(s.Length)).String(),
			strconv.FormatUint(s.Length, 10),
			s.Permissions,
		})
	}
	return r.Table([]string{"NAME", "START", "END", "LENGTH", "PERM"}, rows)
}

func (r *Renderer) procedures(raw json.RawMessage) error {
	var procs []bridge.ProcedureSummary
	if err := json.Unmarshal(raw, &procs); err != nil {
		return err
	}
	rows := make([][]string, 0, len(procs))
	for _, p := range procs {
		rows = append(rows, []string{p.Address.String(), p.Name})
	}
	return r.Table([]string{"ADDRESS", "NAME"}, rows)
}

func (r *Renderer) stringLiterals(raw json.RawMessage) error {
	var strs []engine.StringLiteral
	if err := json.Unmarshal(raw, &strs); err != nil {
		return err
	}
	rows := make([][]string, 0, len(strs))
	for _, s := range strs {
		rows = append(rows, []string{s.Address.String(), s.Segment, strconv.Quote(s.Text)})
	}
	return r.Table([]string{"ADDRESS", "SEGMENT", "TEXT"}, rows)
}

func (r *Renderer) signature(raw json.RawMessage) error {
	var sig engine.Signature
	if err := json.Unmarshal(raw, &sig); err != nil {
		return err
	}
	_, err := fmt.Fprintln(r.out, sig.Text)
	if err == nil && !sig.Recovered {
		r.Hint("(no debug information; prototype is a placeholder)")
	}
	return err
}

func (r *Renderer) decompile(raw json.RawMessage) error {
	if isBatch(raw) {
		return r.batch(raw, func(result json.RawMessage) error {
			var res bridge.DecompileResult
			if err := json.Unmarshal(result, &res); err != nil {
				return err
			}
			return r.Code(res.Pseudocode)
		})
	}
	var res bridge.DecompileResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return err
	}
	return r.Code(res.Pseudocode)
}

func (r *Renderer) disassemble(raw json.RawMessage) error {
	if isBatch(raw) {
		return r.batch(raw, func(result json.RawMessage) error {
			var res bridge.DisassembleResult
			if err := json.Unmarshal(result, &res); err != nil {
				return err
			}
			return r.listing(res)
		})
	}
	var res bridge.DisassembleResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return err
	}
	return r.listing(res)
}

func (r *Renderer) listing(res bridge.DisassembleResult) error {
	if _, err := fmt.Fprintln(r.out, r.title(res.Name+":")); err != nil {
		return err
	}
	for _, in := range res.Instructions {
		text := in.Formatted
		if text == "" {
			text = strings.TrimSpace(bridge.FormatListing([]engine.Instruction{in}))
		}
		if _, err := fmt.Fprintf(r.out, "  %-12s %-24s %s\n", in.Address, in.Bytes, text); err != nil {
			return err
		}
	}
	return nil
}

// batchEntry mirrors bridge.BatchEntry with the result left raw.
type batchEntry struct {
	Address engine.Address    `json:"address"`
	Name    string            `json:"name"`
	OK      bool              `json:"ok"`
	Result  json.RawMessage   `json:"result"`
	Error   *bridge.ErrorBody `json:"error"`
}

func (r *Renderer) batch(raw json.RawMessage, each func(json.RawMessage) error) error {
	var entries []batchEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return err
	}
	for i, e := range entries {
		if i > 0 {
			_, _ = fmt.Fprintln(r.out)
		}
		label := e.Address.String()
		if e.Name != "" {
			label += " " + e.Name
		}
		_, _ = fmt.Fprintln(r.out, r.title("# "+label))
		if !e.OK {
			if err := r.Error(fmt.Errorf("%s: %s", e.Error.Kind, e.Error.Message)); err != nil {
				return err
			}
			continue
		}
		if err := each(e.Result); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) allPseudocode(raw json.RawMessage) error {
	var entries []bridge.PseudocodeEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return err
	}
	failed := 0
	for i, e := range entries {
		if i > 0 {
			_, _ = fmt.Fprintln(r.out)
		}
		_, _ = fmt.Fprintln(r.out, r.title(fmt.Sprintf("# %s %s", e.Address, e.Name)))
		if !e.OK {
			failed++
			if err := r.Error(fmt.Errorf("%s: %s", e.Error.Kind, e.Error.Message)); err != nil {
				return err
			}
			continue
		}
		if err := r.Code(e.Pseudocode); err != nil {
			return err
		}
	}
	r.Hint("%d procedures, %d failed", len(entries), failed)
	return nil
}

func (r *Renderer) filePath(raw json.RawMessage) error {
	var res struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return err
	}
	_, err := fmt.Fprintln(r.out, res.Path)
	return err
}

func (r *Renderer) status(raw json.RawMessage) error {
	var st bridge.StatusResult
	if err := json.Unmarshal(raw, &st); err != nil {
		return err
	}
	rows := [][]string{
		{"status", st.Status},
		{"session", st.SessionID},
		{"file", st.File},
		{"analyzing", strconv.FormatBool(st.Analyzing)},
		{"log entries", strconv.Itoa(st.LogCount)},
		{"pid", strconv.Itoa(st.Process.PID)},
		{"rss", formatBytes(st.Process.RSSBytes)},
		{"threads", strconv.Itoa(int(st.Process.Threads))},
		{"cpu", fmt.Sprintf("%.1f%%", st.Process.CPUPercent)},
		{"uptime", st.Process.Uptime},
	}
	return r.Table([]string{"FIELD", "VALUE"}, rows)
}

func (r *Renderer) xrefs(raw json.RawMessage) error {
	var res bridge.XrefsResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return err
	}
	rows := make([][]string, 0, len(res.From)+len(res.To))
	add := func(dir string, refs []bridge.XrefEntry) {
		for _, x := range refs {
			rows = append(rows, []string{
				dir,
				labelled(x.Source, x.SourceLabel),
				labelled(x.Target, x.TargetLabel),
				string(x.Kind),
				strconv.FormatBool(x.Resolved),
			})
		}
	}
	add("from", res.From)
	add("to", res.To)
	return r.Table([]string{"DIR", "SOURCE", "TARGET", "KIND", "RESOLVED"}, rows)
}

func labelled(addr engine.Address, label string) string {
	if label == "" {
		return addr.String()
	}
	return addr.String() + " <" + label + ">"
}

func (r *Renderer) logMessages(raw json.RawMessage) error {
	var res bridge.LogMessagesResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return err
	}
	for _, e := range res.Entries {
		if _, err := fmt.Fprintf(r.out, "[%d] %s  %s\n", e.Index, e.Time.Format("15:04:05"), e.Message); err != nil {
			return err
		}
	}
	r.Hint("next: %d", res.Next)
	return nil
}

func (r *Renderer) terminate(raw json.RawMessage) error {
	var res bridge.TerminateResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return err
	}
	msg := "session terminated"
	if res.AlreadyTerminated {
		msg = "session was already terminated"
	}
	_, err := fmt.Fprintln(r.out, msg)
	return err
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
