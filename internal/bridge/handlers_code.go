package bridge

import (
	"context"
	"strings"

	"github.com/binbridge/binbridge/internal/engine"
)

// DecompileResult is the pseudocode of one procedure.
type DecompileResult struct {
	Address    engine.Address `json:"address"`
	Name       string         `json:"name"`
	Pseudocode string         `json:"pseudocode"`
}

// DisassembleResult is the instruction listing of one procedure. Text holds
// one "mnemonic  operands" line per instruction.
type DisassembleResult struct {
	Address      engine.Address       `json:"address"`
	Name         string               `json:"name"`
	Instructions []engine.Instruction `json:"instructions"`
	Text         string               `json:"text"`
}

// BatchEntry is one element of a batch or all_pseudocode result. Exactly
// one of Result and Error is set.
type BatchEntry struct {
	Address engine.Address `json:"address"`
	Name    string         `json:"name,omitempty"`
	OK      bool           `json:"ok"`
	Result  any            `json:"result,omitempty"`
	Error   *ErrorBody     `json:"error,omitempty"`
}

// PseudocodeEntry is one procedure of all_pseudocode.
type PseudocodeEntry struct {
	Address    engine.Address `json:"address"`
	Name       string         `json:"name"`
	OK         bool           `json:"ok"`
	Pseudocode string         `json:"pseudocode,omitempty"`
	Error      *ErrorBody     `json:"error,omitempty"`
}

type codeFunc func(ctx context.Context, eng engine.Engine, proc engine.Procedure) (any, error)

func decompileOne(ctx context.Context, eng engine.Engine, proc engine.Procedure) (any, error) {
	text, err := eng.Decompile(ctx, proc.Entry)
	if err != nil {
		if isNotFound(err) {
			return nil, NotFound("no procedure starts at %s", proc.Entry)
		}
		return nil, EngineFailure(err, "failed to decompile %s", proc.Entry)
	}
	return DecompileResult{Address: proc.Entry, Name: proc.Name, Pseudocode: text}, nil
}

func disassembleOne(ctx context.Context, eng engine.Engine, proc engine.Procedure) (any, error) {
	insns, err := eng.Disassemble(ctx, proc.Entry)
	if err != nil {
		if isNotFound(err) {
			return nil, NotFound("no procedure starts at %s", proc.Entry)
		}
		return nil, EngineFailure(err, "failed to disassemble %s", proc.Entry)
	}
	if insns == nil {
		insns = []engine.Instruction{}
	}
	return DisassembleResult{
		Address:      proc.Entry,
		Name:         proc.Name,
		Instructions: insns,
		Text:         FormatListing(insns),
	}, nil
}

// FormatListing renders instructions as "mnemonic  op, op" lines.
func FormatListing(insns []engine.Instruction) string {
	var b strings.Builder
	for _, in := range insns {
		b.WriteString(in.Mnemonic)
		if len(in.Operands) > 0 {
			b.WriteString("  ")
			b.WriteString(strings.Join(in.Operands, ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func handleDecompile(ctx context.Context, env *Env, req *Request) (any, error) {
	return runCode(ctx, env, req, decompileOne)
}

func handleDisassemble(ctx context.Context, env *Env, req *Request) (any, error) {
	return runCode(ctx, env, req, disassembleOne)
}

// runCode serves a single procedure from params, or a batch from the body.
func runCode(ctx context.Context, env *Env, req *Request, fn codeFunc) (any, error) {
	eng, err := env.Engine()
	if err != nil {
		return nil, err
	}

	addrs, batch, err := batchAddresses(req.Body)
	if err != nil {
		return nil, err
	}
	if !batch {
		proc, err := env.Resolver.Procedure(ctx, req.Params)
		if err != nil {
			return nil, err
		}
		return fn(ctx, eng, proc)
	}

	entries := make([]BatchEntry, 0, len(addrs))
	for _, addr := range addrs {
		entry := BatchEntry{Address: addr}
		proc, err := env.Resolver.ProcedureAt(ctx, addr)
		if err == nil {
			entry.Name = proc.Name
			entry.Result, err = fn(ctx, eng, proc)
		}
		if err != nil {
			entry.Error = errorBody(err)
		} else {
			entry.OK = true
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// handleAllPseudocode decompiles every procedure. A failing procedure is
// marked in its entry; the rest of the batch still runs.
func handleAllPseudocode(ctx context.Context, env *Env, _ *Request) (any, error) {
	eng, err := env.Engine()
	if err != nil {
		return nil, err
	}
	procs, err := env.Resolver.Procedures(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]PseudocodeEntry, 0, len(procs))
	failed := 0
	for _, p := range procs {
		entry := PseudocodeEntry{Address: p.Entry, Name: p.Name}
		res, err := safeCode(ctx, eng, p, decompileOne)
		if err != nil {
			entry.Error = errorBody(err)
			failed++
		} else {
			entry.OK = true
			entry.Pseudocode = res.(DecompileResult).Pseudocode
		}
		entries = append(entries, entry)
	}

	env.Logger.Debug().
		Int("procedures", len(procs)).
		Int("failed", failed).
		Msg("Decompiled all procedures")
	return entries, nil
}

// safeCode isolates one procedure so a panicking engine call only marks its
// own entry.
func safeCode(ctx context.Context, eng engine.Engine, proc engine.Procedure, fn codeFunc) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = newError(KindEngineFailure, "engine panicked on %s: %v", proc.Entry, r)
		}
	}()
	return fn(ctx, eng, proc)
}

func errorBody(err error) *ErrorBody {
	e := classify(err)
	return &ErrorBody{Kind: e.Kind, Message: e.Message}
}
