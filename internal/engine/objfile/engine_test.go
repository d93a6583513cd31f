package objfile

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binbridge/binbridge/internal/engine"
)

// selfMarker is looked up in the test binary's read-only data.
var selfMarker = "binbridge-objfile-self-marker"

//go:noinline
func addForTest(a, b int) int {
	return a + b
}

type recordingLog struct {
	messages []string
}

func (r *recordingLog) Append(msg string) { r.messages = append(r.messages, msg) }

// openSelf loads the running test binary.
func openSelf(t *testing.T) *Engine {
	t.Helper()
	switch runtime.GOARCH {
	case "amd64", "arm64", "386":
	default:
		t.Skipf("no disassembler for %s", runtime.GOARCH)
	}

	path, err := os.Executable()
	require.NoError(t, err)

	e, err := Open(path, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	require.NoError(t, e.WaitAnalyzed(ctx))
	return e
}

func findProcedure(t *testing.T, e *Engine, suffix string) engine.Procedure {
	t.Helper()
	procs, err := e.ProceduresInRange(context.Background(), engine.Everything)
	require.NoError(t, err)
	if len(procs) == 0 {
		t.Skip("test binary has no symbols")
	}
	for _, p := range procs {
		if strings.HasSuffix(p.Name, suffix) {
			return p
		}
	}
	t.Skipf("no procedure named *%s", suffix)
	return engine.Procedure{}
}

func TestOpenSelf(t *testing.T) {
	e := openSelf(t)
	ctx := context.Background()

	assert.Equal(t, engine.StatusReady, e.CurrentStatus())
	path, _ := os.Executable()
	assert.Equal(t, path, e.CurrentFilePath())

	segments, err := e.SegmentsInRange(ctx, engine.Everything)
	require.NoError(t, err)
	assert.NotEmpty(t, segments)

	procs, err := e.ProceduresInRange(ctx, engine.Everything)
	require.NoError(t, err)
	require.NotEmpty(t, procs)
	for i := 1; i < len(procs); i++ {
		require.Less(t, procs[i-1].Entry, procs[i].Entry, "procedures are ordered and unique")
	}

	first := procs[0]
	within, err := e.ProceduresInRange(ctx, engine.Range{Start: first.Entry, End: first.Entry + 1})
	require.NoError(t, err)
	require.Len(t, within, 1)
	assert.Equal(t, first, within[0])
}

func TestSelfDisassembleAndDecompile(t *testing.T) {
	e := openSelf(t)
	ctx := context.Background()
	proc := findProcedure(t, e, ".TestSelfDisassembleAndDecompile")

	insns, err := e.Disassemble(ctx, proc.Entry)
	require.NoError(t, err)
	require.NotEmpty(t, insns)
	assert.Equal(t, proc.Entry, insns[0].Address)

	var covered uint64
	for _, in := range insns {
		assert.NotEmpty(t, in.Bytes)
		assert.NotEmpty(t, in.Mnemonic)
		covered += uint64(in.Length)
	}
	assert.Equal(t, proc.Size, covered, "listing covers the whole procedure")

	again, err := e.Disassemble(ctx, proc.Entry)
	require.NoError(t, err)
	assert.Equal(t, insns, again)

	code, err := e.Decompile(ctx, proc.Entry)
	require.NoError(t, err)
	assert.Contains(t, code, proc.Name)
	assert.True(t, strings.HasSuffix(code, "}\n"))

	code2, err := e.Decompile(ctx, proc.Entry)
	require.NoError(t, err)
	assert.Equal(t, code, code2)

	hits, _ := e.CacheStats()
	assert.Positive(t, hits)

	_, err = e.Disassemble(ctx, proc.Entry+1)
	assert.ErrorIs(t, err, engine.ErrNotFound)
	_, err = e.Decompile(ctx, proc.Entry+1)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestSelfXrefs(t *testing.T) {
	e := openSelf(t)
	ctx := context.Background()
	proc := findProcedure(t, e, ".TestSelfXrefs")

	insns, err := e.Disassemble(ctx, proc.Entry)
	require.NoError(t, err)

	for _, in := range insns {
		if in.Mnemonic != "call" && in.Mnemonic != "bl" {
			continue
		}
		refs, err := e.XrefsFor(ctx, in.Address)
		require.NoError(t, err)

		var call *engine.Xref
		for i := range refs {
			if refs[i].Source == in.Address && refs[i].Kind == engine.XrefCall {
				call = &refs[i]
			}
		}
		if call == nil {
			// Indirect call.
			continue
		}

		incoming, err := e.XrefsFor(ctx, call.Target)
		require.NoError(t, err)
		assert.Contains(t, incoming, *call)
		return
	}
	t.Skip("no direct call found")
}

func TestSelfSignature(t *testing.T) {
	assert.Equal(t, 5, addForTest(2, 3))

	e := openSelf(t)
	ctx := context.Background()
	proc := findProcedure(t, e, ".addForTest")

	sig, err := e.ProcedureSignature(ctx, proc.Entry)
	require.NoError(t, err)
	require.NotNil(t, sig)
	if !sig.Recovered {
		t.Skip("test binary has no DWARF")
	}

	assert.Equal(t, proc.Entry, sig.Address)
	assert.Equal(t, []engine.Parameter{{Name: "a", Type: "int"}, {Name: "b", Type: "int"}}, sig.Parameters)
	assert.Equal(t, "int", sig.ReturnType)
	assert.True(t, strings.HasSuffix(sig.Text, "addForTest(int a, int b)"), sig.Text)

	_, err = e.ProcedureSignature(ctx, proc.Entry+1)
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestSelfStrings(t *testing.T) {
	e := openSelf(t)
	strs, err := e.StringsInRange(context.Background(), engine.Everything)
	require.NoError(t, err)
	require.NotEmpty(t, strs)

	found := false
	for _, s := range strs {
		assert.GreaterOrEqual(t, s.Length, DefaultMinStringLength)
		if strings.Contains(s.Text, selfMarker) {
			found = true
		}
	}
	assert.True(t, found, "marker %q not found", selfMarker)
}

func TestOpenLogsToSink(t *testing.T) {
	switch runtime.GOARCH {
	case "amd64", "arm64", "386":
	default:
		t.Skipf("no disassembler for %s", runtime.GOARCH)
	}
	path, err := os.Executable()
	require.NoError(t, err)

	sink := &recordingLog{}
	e, err := Open(path, Options{Log: sink, Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	require.NotEmpty(t, sink.messages)
	assert.True(t, strings.HasPrefix(sink.messages[0], "loaded "+path))
	require.NoError(t, e.Close(), "close is idempotent")
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"), Options{})
	require.Error(t, err)

	junk := filepath.Join(t.TempDir(), "junk")
	require.NoError(t, os.WriteFile(junk, []byte("not an executable at all"), 0o600))
	_, err = Open(junk, Options{})
	require.Error(t, err)
}

func TestUnloaded(t *testing.T) {
	e := Unloaded(Options{})
	ctx := context.Background()

	assert.Equal(t, engine.StatusUnloaded, e.CurrentStatus())
	assert.Empty(t, e.CurrentFilePath())

	segments, err := e.SegmentsInRange(ctx, engine.Everything)
	require.NoError(t, err)
	assert.Empty(t, segments)

	procs, err := e.ProceduresInRange(ctx, engine.Everything)
	require.NoError(t, err)
	assert.Empty(t, procs)

	strs, err := e.StringsInRange(ctx, engine.Everything)
	require.NoError(t, err)
	assert.Empty(t, strs)

	refs, err := e.XrefsFor(ctx, 0x1000)
	require.NoError(t, err)
	assert.Empty(t, refs)

	_, err = e.Decompile(ctx, 0x1000)
	assert.ErrorIs(t, err, engine.ErrNotFound)

	require.NoError(t, e.Close())
}
