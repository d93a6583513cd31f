// Package enginetest provides a scriptable in-memory engine for tests.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/binbridge/binbridge/internal/engine"
)

// Fake is an in-memory engine.Engine. Fields may be set directly before use.
type Fake struct {
	Path        string
	Status      engine.Status
	Segments    []engine.Segment
	Procedures  []engine.Procedure
	Strings     []engine.StringLiteral
	Xrefs       []engine.Xref
	Signatures  map[engine.Address]*engine.Signature
	Concurrent  bool
	QueryDelay  time.Duration
	FailOn      map[engine.Address]error
	Logs        engine.LogSink

	// ListFailures makes that many upcoming ProceduresInRange calls fail
	// with ErrListing.
	ListFailures int

	callCount   atomic.Int64
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	mu          sync.Mutex
	calls       []string
}

// ErrListing is returned by ProceduresInRange while ListFailures is positive.
var ErrListing = errors.New("enginetest: procedure listing failed")

// New returns a ready Fake with the given path.
func New(path string) *Fake {
	return &Fake{
		Path:       path,
		Status:     engine.StatusReady,
		Signatures: make(map[engine.Address]*engine.Signature),
		FailOn:     make(map[engine.Address]error),
	}
}

// Calls returns the total number of engine queries made.
func (f *Fake) Calls() int64 { return f.callCount.Load() }

// CallLog returns the ordered list of method names invoked.
func (f *Fake) CallLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// MaxInFlight returns the highest number of overlapping queries observed.
func (f *Fake) MaxInFlight() int32 { return f.maxInFlight.Load() }

func (f *Fake) enter(method string) func() {
	f.callCount.Add(1)
	f.mu.Lock()
	f.calls = append(f.calls, method)
	f.mu.Unlock()

	n := f.inFlight.Add(1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.QueryDelay > 0 {
		time.Sleep(f.QueryDelay)
	}
	return func() { f.inFlight.Add(-1) }
}

// SegmentsInRange implements engine.Engine.
func (f *Fake) SegmentsInRange(_ context.Context, r engine.Range) ([]engine.Segment, error) {
	defer f.enter("SegmentsInRange")()
	var out []engine.Segment
	for _, s := range f.Segments {
		if r.Overlaps(s.Start, s.Length) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

// ProceduresInRange implements engine.Engine.
func (f *Fake) ProceduresInRange(_ context.Context, r engine.Range) ([]engine.Procedure, error) {
	defer f.enter("ProceduresInRange")()
	f.mu.Lock()
	if f.ListFailures > 0 {
		f.ListFailures--
		f.mu.Unlock()
		return nil, ErrListing
	}
	f.mu.Unlock()
	var out []engine.Procedure
	for _, p := range f.Procedures {
		if r.Contains(p.Entry) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entry < out[j].Entry })
	return out, nil
}

// StringsInRange implements engine.Engine.
func (f *Fake) StringsInRange(_ context.Context, r engine.Range) ([]engine.StringLiteral, error) {
	defer f.enter("StringsInRange")()
	var out []engine.StringLiteral
	for _, s := range f.Strings {
		if r.Contains(s.Address) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (f *Fake) procedureAt(addr engine.Address) (engine.Procedure, error) {
	for _, p := range f.Procedures {
		if p.Entry == addr {
			return p, nil
		}
	}
	return engine.Procedure{}, fmt.Errorf("procedure %s: %w", addr, engine.ErrNotFound)
}

// ProcedureSignature implements engine.Engine.
func (f *Fake) ProcedureSignature(_ context.Context, addr engine.Address) (*engine.Signature, error) {
	defer f.enter("ProcedureSignature")()
	p, err := f.procedureAt(addr)
	if err != nil {
		return nil, err
	}
	if sig, ok := f.Signatures[addr]; ok {
		return sig, nil
	}
	return &engine.Signature{Address: addr, Name: p.Name, Text: p.Name + "()"}, nil
}

// Decompile implements engine.Engine.
func (f *Fake) Decompile(_ context.Context, addr engine.Address) (string, error) {
	defer f.enter("Decompile")()
	if err := f.FailOn[addr]; err != nil {
		return "", err
	}
	p, err := f.procedureAt(addr)
	if err != nil {
		return "", err
	}
	if f.Logs != nil {
		f.Logs.Append("decompiled " + p.Name)
	}
	return fmt.Sprintf("void %s(void)\n{\n    return;\n}\n", p.Name), nil
}

// Disassemble implements engine.Engine.
func (f *Fake) Disassemble(_ context.Context, addr engine.Address) ([]engine.Instruction, error) {
	defer f.enter("Disassemble")()
	if err := f.FailOn[addr]; err != nil {
		return nil, err
	}
	if _, err := f.procedureAt(addr); err != nil {
		return nil, err
	}
	return []engine.Instruction{
		{Address: addr, Bytes: "55", Mnemonic: "push", Operands: []string{"rbp"}, Length: 1, Formatted: "push  rbp"},
		{Address: addr + 1, Bytes: "c3", Mnemonic: "ret", Length: 1, Formatted: "ret"},
	}, nil
}

// XrefsFor implements engine.Engine. Matching records are returned as
// stored, duplicates included, so callers can be tested for dedup.
func (f *Fake) XrefsFor(_ context.Context, addr engine.Address) ([]engine.Xref, error) {
	defer f.enter("XrefsFor")()
	if err := f.FailOn[addr]; err != nil {
		return nil, err
	}
	var out []engine.Xref
	for _, x := range f.Xrefs {
		if x.Source == addr || x.Target == addr {
			out = append(out, x)
		}
	}
	return out, nil
}

// CurrentFilePath implements engine.Engine.
func (f *Fake) CurrentFilePath() string { return f.Path }

// CurrentStatus implements engine.Engine.
func (f *Fake) CurrentStatus() engine.Status { return f.Status }

// ConcurrentReads implements engine.ConcurrentReader.
func (f *Fake) ConcurrentReads() bool { return f.Concurrent }

// Fixture returns a Fake loaded with a small, deterministic binary layout.
func Fixture() *Fake {
	f := New("/fixtures/sample.bin")
	f.Segments = []engine.Segment{
		{Name: "__DATA", Start: 0x3000, Length: 0x1000, Permissions: "rw-"},
		{Name: "__TEXT", Start: 0x1000, Length: 0x1000, Permissions: "r-x"},
		{Name: "__LINKEDIT", Start: 0x4000, Length: 0x800, Permissions: "r--"},
		{Name: "__RODATA", Start: 0x2000, Length: 0x1000, Permissions: "r--"},
	}
	f.Procedures = []engine.Procedure{
		{Entry: 0x1100, Name: "helper", Size: 0x20},
		{Entry: 0x1000, Name: "main", Size: 0x100},
		{Entry: 0x1200, Name: "sub_1200", Size: 0x10},
	}
	f.Strings = []engine.StringLiteral{
		{Address: 0x2010, Text: "world", Length: 5, Segment: "__RODATA"},
		{Address: 0x2000, Text: "hello", Length: 5, Segment: "__RODATA"},
	}
	f.Xrefs = []engine.Xref{
		{Source: 0x1010, Target: 0x1100, Kind: engine.XrefCall},
		{Source: 0x1010, Target: 0x1100, Kind: engine.XrefCall},
		{Source: 0x1020, Target: 0x1200, Kind: engine.XrefCall},
		{Source: 0x1104, Target: 0x2000, Kind: engine.XrefData},
		{Source: 0x1100, Target: 0x1110, Kind: engine.XrefJump},
	}
	f.Signatures[0x1000] = &engine.Signature{
		Address:    0x1000,
		Name:       "main",
		ReturnType: "int",
		Parameters: []engine.Parameter{{Name: "argc", Type: "int"}, {Name: "argv", Type: "char **"}},
		Text:       "int main(int argc, char ** argv)",
		Recovered:  true,
	}
	return f
}

// Names returns procedure names in entry order, for assertions.
func Names(procs []engine.Procedure) string {
	names := make([]string, len(procs))
	for i, p := range procs {
		names[i] = p.Name
	}
	return strings.Join(names, ",")
}
