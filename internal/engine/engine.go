package engine

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when an address maps to no known object.
	ErrNotFound = errors.New("not found")

	// ErrNoFile is returned when no binary has been loaded.
	ErrNoFile = errors.New("no file loaded")

	// ErrUnsupported is returned for architectures or formats the engine cannot handle.
	ErrUnsupported = errors.New("unsupported")
)

// Engine is the query API of a binary-analysis engine.
//
// Implementations are not required to be safe for concurrent use. All
// blocking calls take a context for tracing and deadlines, but callers must
// not rely on cancellation interrupting engine work already in progress.
type Engine interface {
	// SegmentsInRange returns segments overlapping r, ordered by start.
	SegmentsInRange(ctx context.Context, r Range) ([]Segment, error)

	// ProceduresInRange returns procedures whose entry lies in r, ordered by entry.
	ProceduresInRange(ctx context.Context, r Range) ([]Procedure, error)

	// StringsInRange returns string literals whose address lies in r, ordered by address.
	StringsInRange(ctx context.Context, r Range) ([]StringLiteral, error)

	// ProcedureSignature returns the prototype of the procedure starting at addr.
	ProcedureSignature(ctx context.Context, addr Address) (*Signature, error)

	// Decompile returns pseudocode for the procedure starting at addr.
	Decompile(ctx context.Context, addr Address) (string, error)

	// Disassemble returns the instructions of the procedure starting at addr.
	Disassemble(ctx context.Context, addr Address) ([]Instruction, error)

	// XrefsFor returns references whose source or target is addr.
	XrefsFor(ctx context.Context, addr Address) ([]Xref, error)

	// CurrentFilePath returns the loaded file path, or "" when nothing is loaded.
	CurrentFilePath() string

	// CurrentStatus returns the analysis state.
	CurrentStatus() Status
}

// ConcurrentReader is implemented by engines whose cheap metadata reads
// (segments, status) are safe to call while another query is running.
type ConcurrentReader interface {
	ConcurrentReads() bool
}

// LogSink receives human-readable engine log lines.
type LogSink interface {
	Append(msg string)
}

// LogSinkFunc adapts a function to LogSink.
type LogSinkFunc func(msg string)

// Append calls f(msg).
func (f LogSinkFunc) Append(msg string) { f(msg) }

// DiscardLog drops every line.
var DiscardLog LogSink = LogSinkFunc(func(string) {})
