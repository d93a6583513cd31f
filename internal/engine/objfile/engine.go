// Package objfile is the built-in analysis engine. It reads ELF, Mach-O and
// PE executables with the standard debug/* packages, disassembles amd64, 386
// and arm64 code, lifts listings into C-like pseudocode, recovers prototypes
// from DWARF, and indexes cross references in the background after load.
package objfile

import (
	"context"
	"debug/dwarf"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/binbridge/binbridge/internal/engine"
)

// Options configures the engine.
type Options struct {
	// MinStringLength is the shortest printable run reported by StringsInRange.
	MinStringLength int
	// Syntax is the x86 assembly dialect of Disassemble.
	Syntax Syntax
	// CacheSize bounds the number of cached procedure listings.
	CacheSize int
	// Log receives user-facing engine messages.
	Log    engine.LogSink
	Logger zerolog.Logger
}

// Engine implements engine.Engine over one executable.
type Engine struct {
	opts   Options
	logger zerolog.Logger
	log    engine.LogSink
	img    *image

	status atomic.Int32
	cache  *listingCache

	stringsOnce sync.Once
	strs        []engine.StringLiteral

	sigOnce     sync.Once
	subprograms map[engine.Address]dwarf.Offset

	xrefs     *xrefIndex
	indexDone chan struct{}
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Open loads path and starts background cross-reference indexing. The
// engine reports StatusAnalyzing until indexing completes.
func Open(path string, opts Options) (*Engine, error) {
	e := newEngine(opts)
	e.status.Store(int32(engine.StatusLoading))

	start := time.Now()
	img, err := loadImage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	if img.arch == archUnknown {
		e.logger.Warn().Str("file", path).Msg("Unsupported architecture; disassembly will be unavailable")
	}
	e.img = img

	e.logger.Info().
		Str("file", path).
		Str("format", img.format).
		Str("arch", img.arch.String()).
		Int("segments", len(img.segments)).
		Int("procedures", len(img.procs)).
		Bool("dwarf", img.dwarf != nil).
		Dur("duration", time.Since(start)).
		Msg("Binary loaded")
	e.log.Append(fmt.Sprintf("loaded %s (%s/%s): %d segments, %d procedures",
		path, img.format, img.arch, len(img.segments), len(img.procs)))

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.status.Store(int32(engine.StatusAnalyzing))
	go e.analyze(ctx)

	return e, nil
}

// Unloaded returns an engine with no file. Every listing is empty.
func Unloaded(opts Options) *Engine {
	e := newEngine(opts)
	e.img = &image{}
	e.status.Store(int32(engine.StatusUnloaded))
	close(e.indexDone)
	return e
}

func newEngine(opts Options) *Engine {
	if opts.Syntax == "" {
		opts.Syntax = SyntaxIntel
	}
	if opts.MinStringLength <= 0 {
		opts.MinStringLength = DefaultMinStringLength
	}
	log := opts.Log
	if log == nil {
		log = engine.DiscardLog
	}
	return &Engine{
		opts:      opts,
		logger:    opts.Logger.With().Str("component", "objfile").Logger(),
		log:       log,
		cache:     newListingCache(opts.CacheSize),
		xrefs:     newXrefIndex(),
		indexDone: make(chan struct{}),
		cancel:    func() {},
	}
}

func (e *Engine) analyze(ctx context.Context) {
	defer close(e.indexDone)

	start := time.Now()
	n := e.buildIndex(ctx)
	if ctx.Err() != nil {
		e.logger.Debug().Int("indexed", n).Msg("Analysis cancelled")
		return
	}

	e.status.CompareAndSwap(int32(engine.StatusAnalyzing), int32(engine.StatusReady))
	e.logger.Info().
		Int("procedures", n).
		Int("xrefs", e.xrefs.size()).
		Dur("duration", time.Since(start)).
		Msg("Analysis complete")
	e.log.Append(fmt.Sprintf("analysis complete: %d procedures, %d cross references", n, e.xrefs.size()))
}

// WaitAnalyzed blocks until background indexing has finished or ctx ends.
func (e *Engine) WaitAnalyzed(ctx context.Context) error {
	select {
	case <-e.indexDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SegmentsInRange implements engine.Engine.
func (e *Engine) SegmentsInRange(_ context.Context, r engine.Range) ([]engine.Segment, error) {
	out := make([]engine.Segment, 0, len(e.img.segments))
	for _, s := range e.img.segments {
		if r.Overlaps(s.Start, s.Length) {
			out = append(out, s)
		}
	}
	return out, nil
}

// ProceduresInRange implements engine.Engine.
func (e *Engine) ProceduresInRange(_ context.Context, r engine.Range) ([]engine.Procedure, error) {
	out := make([]engine.Procedure, 0, len(e.img.procs))
	for _, p := range e.img.procs {
		if r.Contains(p.Entry) {
			out = append(out, p)
		}
	}
	return out, nil
}

// StringsInRange implements engine.Engine. Strings are extracted on first use.
func (e *Engine) StringsInRange(_ context.Context, r engine.Range) ([]engine.StringLiteral, error) {
	e.stringsOnce.Do(func() {
		start := time.Now()
		e.strs = scanStrings(e.img.regions, e.opts.MinStringLength)
		e.logger.Debug().
			Int("strings", len(e.strs)).
			Dur("duration", time.Since(start)).
			Msg("Extracted strings")
	})

	out := make([]engine.StringLiteral, 0)
	for _, s := range e.strs {
		if r.Contains(s.Address) {
			out = append(out, s)
		}
	}
	return out, nil
}

// ProcedureSignature implements engine.Engine.
func (e *Engine) ProcedureSignature(_ context.Context, addr engine.Address) (*engine.Signature, error) {
	proc, err := e.procedure(addr)
	if err != nil {
		return nil, err
	}

	e.sigOnce.Do(func() {
		e.subprograms = subprogramIndex(e.img.dwarf)
	})
	off, ok := e.subprograms[addr]
	if !ok {
		return synthesizedSignature(proc), nil
	}
	sig, err := readSignature(e.img.dwarf, off, proc)
	if err != nil {
		e.logger.Debug().Err(err).Str("procedure", proc.Name).Msg("Falling back to synthesized signature")
		return synthesizedSignature(proc), nil
	}
	return sig, nil
}

// Disassemble implements engine.Engine.
func (e *Engine) Disassemble(_ context.Context, addr engine.Address) ([]engine.Instruction, error) {
	_, l, err := e.listing(addr)
	if err != nil {
		return nil, err
	}
	out := make([]engine.Instruction, len(l.insns))
	for i, in := range l.insns {
		out[i] = in.Instruction
		out[i].Operands = append([]string(nil), in.Operands...)
	}
	return out, nil
}

// Decompile implements engine.Engine.
func (e *Engine) Decompile(ctx context.Context, addr engine.Address) (string, error) {
	proc, l, err := e.listing(addr)
	if err != nil {
		return "", err
	}
	l.once.Do(func() {
		header := synthesizedSignature(proc).Text
		if sig, err := e.ProcedureSignature(ctx, addr); err == nil && sig.Recovered {
			header = sig.Text
		}
		lf := &lifter{arch: e.img.arch, sym: e.img.symbolize, proc: proc}
		l.pseudocode = lf.lift(header, l.insns)
		e.log.Append(fmt.Sprintf("decompiled %s at %s", proc.Name, proc.Entry))
	})
	return l.pseudocode, nil
}

// listing returns the cached disassembly of the procedure at addr.
func (e *Engine) listing(addr engine.Address) (engine.Procedure, *listing, error) {
	proc, err := e.procedure(addr)
	if err != nil {
		return engine.Procedure{}, nil, err
	}
	code := e.img.bytesOf(proc)
	key := keyFor(addr, code)
	if l, ok := e.cache.Get(key); ok {
		return proc, l, nil
	}

	insns, err := decode(e.img.arch, e.opts.Syntax, code, proc.Entry, e.img.symbolize)
	if err != nil {
		return engine.Procedure{}, nil, err
	}
	return proc, e.cache.Put(key, &listing{insns: insns}), nil
}

func (e *Engine) procedure(addr engine.Address) (engine.Procedure, error) {
	proc, ok := e.img.procedureAt(addr)
	if !ok {
		return engine.Procedure{}, fmt.Errorf("no procedure starts at %s: %w", addr, engine.ErrNotFound)
	}
	return proc, nil
}

// XrefsFor implements engine.Engine. It blocks until background indexing
// has finished.
func (e *Engine) XrefsFor(ctx context.Context, addr engine.Address) ([]engine.Xref, error) {
	if err := e.WaitAnalyzed(ctx); err != nil {
		return nil, err
	}
	return e.xrefs.lookup(addr), nil
}

// CurrentFilePath implements engine.Engine.
func (e *Engine) CurrentFilePath() string { return e.img.path }

// CurrentStatus implements engine.Engine.
func (e *Engine) CurrentStatus() engine.Status { return engine.Status(e.status.Load()) }

// ConcurrentReads implements engine.ConcurrentReader. The image is immutable
// after load and the caches are locked.
func (e *Engine) ConcurrentReads() bool { return true }

// CacheStats reports listing cache hits and misses.
func (e *Engine) CacheStats() (hits, misses uint64) { return e.cache.Stats() }

// Close stops indexing and releases the file.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.cancel()
		<-e.indexDone
		if e.img.closer != nil {
			err = e.img.closer.Close()
		}
	})
	return err
}
