package bridge

import (
	"context"
	"sort"

	"github.com/binbridge/binbridge/internal/engine"
	"github.com/binbridge/binbridge/internal/session"
)

// ProcedureSummary is the list_procedures entry: address and name only.
type ProcedureSummary struct {
	Address engine.Address `json:"address"`
	Name    string         `json:"name"`
}

// StatusResult answers the status operation.
type StatusResult struct {
	Status    string               `json:"status"`
	SessionID string               `json:"session_id"`
	File      string               `json:"file,omitempty"`
	Analyzing bool                 `json:"analyzing"`
	LogCount  int                  `json:"log_count"`
	Process   session.ProcessStats `json:"process"`
}

// XrefEntry is one cross reference with resolved endpoint labels. An
// endpoint that resolves to no known object is reported with an empty label
// and Resolved=false rather than dropped.
type XrefEntry struct {
	engine.Xref
	SourceLabel string `json:"source_label,omitempty"`
	TargetLabel string `json:"target_label,omitempty"`
	Resolved    bool   `json:"resolved"`
}

// XrefsResult answers the xrefs operation. Each reference appears once: a
// reference from addr to itself is listed under From only.
type XrefsResult struct {
	Address engine.Address `json:"address"`
	From    []XrefEntry    `json:"from"`
	To      []XrefEntry    `json:"to"`
}

// LogMessagesResult answers the log_messages operation.
type LogMessagesResult struct {
	Entries []session.Entry `json:"entries"`
	// Next is the index to pass as "since" on the next poll.
	Next int `json:"next"`
}

func handleStrings(ctx context.Context, env *Env, req *Request) (any, error) {
	eng, err := env.Engine()
	if err != nil {
		return nil, err
	}
	flt, err := compileFilter(stringFilterEnv, req.Params)
	if err != nil {
		return nil, err
	}

	strs, err := eng.StringsInRange(ctx, engine.Everything)
	if err != nil {
		return nil, EngineFailure(err, "failed to list strings")
	}
	sort.SliceStable(strs, func(i, j int) bool { return strs[i].Address < strs[j].Address })

	out := make([]engine.StringLiteral, 0, len(strs))
	for _, s := range strs {
		ok, err := flt.match(map[string]any{
			"address": uint64(s.Address),
			"text":    s.Text,
			"segment": s.Segment,
			"length":  int64(s.Length),
		})
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, s)
		}
	}

	lo, hi, err := req.Params.page(len(out))
	if err != nil {
		return nil, err
	}
	return out[lo:hi], nil
}

func handleSegments(ctx context.Context, env *Env, _ *Request) (any, error) {
	eng, err := env.Engine()
	if err != nil {
		return nil, err
	}
	segs, err := eng.SegmentsInRange(ctx, engine.Everything)
	if err != nil {
		return nil, EngineFailure(err, "failed to list segments")
	}

	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })

	// Engines may report the same segment through overlapping queries.
	out := make([]engine.Segment, 0, len(segs))
	for i, s := range segs {
		if i > 0 && s == segs[i-1] {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func handleProcedures(ctx context.Context, env *Env, req *Request) (any, error) {
	if _, err := env.Engine(); err != nil {
		return nil, err
	}
	flt, err := compileFilter(procedureFilterEnv, req.Params)
	if err != nil {
		return nil, err
	}

	procs, err := env.Resolver.Procedures(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]ProcedureSummary, 0, len(procs))
	for _, p := range procs {
		ok, err := flt.match(map[string]any{
			"address": uint64(p.Entry),
			"name":    p.Name,
		})
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, ProcedureSummary{Address: p.Entry, Name: p.Name})
		}
	}

	lo, hi, err := req.Params.page(len(out))
	if err != nil {
		return nil, err
	}
	return out[lo:hi], nil
}

func handleProcedureSignature(ctx context.Context, env *Env, req *Request) (any, error) {
	eng, err := env.Engine()
	if err != nil {
		return nil, err
	}
	proc, err := env.Resolver.Procedure(ctx, req.Params)
	if err != nil {
		return nil, err
	}

	sig, err := eng.ProcedureSignature(ctx, proc.Entry)
	if err != nil {
		if isNotFound(err) {
			return nil, NotFound("no procedure starts at %s", proc.Entry)
		}
		return nil, EngineFailure(err, "failed to read signature of %s", proc.Entry)
	}
	if sig == nil {
		return nil, EngineFailure(nil, "engine returned no signature for %s", proc.Entry)
	}
	return sig, nil
}

func handleFilePath(_ context.Context, env *Env, _ *Request) (any, error) {
	path, err := env.Session.FilePath()
	if err != nil {
		return nil, classify(err)
	}
	return map[string]string{"path": path}, nil
}

// handleStatus never fails: after terminate it reports "terminated".
func handleStatus(_ context.Context, env *Env, _ *Request) (any, error) {
	status := env.Session.Status()
	result := StatusResult{
		Status:    status.String(),
		SessionID: env.Session.ID(),
		Analyzing: status == engine.StatusLoading || status == engine.StatusAnalyzing,
		LogCount:  env.Session.Log().Len(),
		Process:   env.Session.HostStats(),
	}
	if path, err := env.Session.FilePath(); err == nil {
		result.File = path
	}
	return result, nil
}

func handleXrefs(ctx context.Context, env *Env, req *Request) (any, error) {
	eng, err := env.Engine()
	if err != nil {
		return nil, err
	}
	addr, err := req.Params.Address("address")
	if err != nil {
		return nil, err
	}

	raw, err := eng.XrefsFor(ctx, addr)
	if err != nil {
		if isNotFound(err) {
			return nil, NotFound("address %s is not known", addr)
		}
		return nil, EngineFailure(err, "failed to read xrefs for %s", addr)
	}

	if len(raw) == 0 {
		known, err := env.Resolver.Known(ctx, addr)
		if err != nil {
			return nil, err
		}
		if !known {
			return nil, NotFound("address %s is not known", addr)
		}
	}

	result := XrefsResult{Address: addr, From: []XrefEntry{}, To: []XrefEntry{}}
	seen := make(map[engine.Xref]struct{}, len(raw))
	for _, x := range raw {
		// Engines may hand back references unrelated to addr; never forward them.
		if x.Source != addr && x.Target != addr {
			continue
		}
		if _, dup := seen[x]; dup {
			continue
		}
		seen[x] = struct{}{}

		entry := XrefEntry{Xref: x}
		srcLabel, srcOK := env.Resolver.Describe(ctx, x.Source)
		dstLabel, dstOK := env.Resolver.Describe(ctx, x.Target)
		entry.SourceLabel, entry.TargetLabel = srcLabel, dstLabel
		entry.Resolved = srcOK && dstOK

		if x.Source == addr {
			result.From = append(result.From, entry)
		} else {
			result.To = append(result.To, entry)
		}
	}

	sortXrefs(result.From)
	sortXrefs(result.To)
	return result, nil
}

func sortXrefs(entries []XrefEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.Kind < b.Kind
	})
}

func handleLogMessages(_ context.Context, env *Env, req *Request) (any, error) {
	if env.Session.Terminated() {
		return nil, NotReady("session has been terminated")
	}
	since, _, err := req.Params.Int("since")
	if err != nil {
		return nil, err
	}
	log := env.Session.Log()
	return LogMessagesResult{
		Entries: log.Since(since),
		Next:    log.Len(),
	}, nil
}
