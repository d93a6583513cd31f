package bridge

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/binbridge/binbridge/internal/engine"
)

// Resolver turns caller identifiers into engine objects.
//
// Segments and procedures are snapshotted on first use. A snapshot taken
// before the engine reports ready is retaken on the next lookup, since
// analysis may still be adding procedures. Failed enumerations are not kept.
type Resolver struct {
	eng engine.Engine

	mu   sync.Mutex
	snap *snapshot
}

type snapshot struct {
	procs    []engine.Procedure
	byName   map[string][]engine.Procedure
	segments []engine.Segment
	// final is set when the engine was ready when the snapshot was taken.
	final bool
}

// NewResolver creates a resolver over eng.
func NewResolver(eng engine.Engine) *Resolver {
	return &Resolver{eng: eng}
}

func (r *Resolver) load(ctx context.Context) (*snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap != nil && r.snap.final {
		return r.snap, nil
	}

	status := r.eng.CurrentStatus()
	procs, err := r.eng.ProceduresInRange(ctx, engine.Everything)
	if err != nil {
		return nil, err
	}
	segs, err := r.eng.SegmentsInRange(ctx, engine.Everything)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(procs, func(i, j int) bool { return procs[i].Entry < procs[j].Entry })
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })

	snap := &snapshot{
		procs:    procs,
		segments: segs,
		byName:   make(map[string][]engine.Procedure, len(procs)),
		final:    status >= engine.StatusReady,
	}
	for _, p := range procs {
		snap.byName[p.Name] = append(snap.byName[p.Name], p)
	}
	r.snap = snap
	return snap, nil
}

// Procedures returns every procedure ordered by entry address.
func (r *Resolver) Procedures(ctx context.Context) ([]engine.Procedure, error) {
	snap, err := r.load(ctx)
	if err != nil {
		return nil, EngineFailure(err, "failed to enumerate procedures")
	}
	return snap.procs, nil
}

// ProcedureAt returns the procedure whose entry is exactly addr.
func (r *Resolver) ProcedureAt(ctx context.Context, addr engine.Address) (engine.Procedure, error) {
	snap, err := r.load(ctx)
	if err != nil {
		return engine.Procedure{}, EngineFailure(err, "failed to enumerate procedures")
	}
	i := sort.Search(len(snap.procs), func(i int) bool { return snap.procs[i].Entry >= addr })
	if i < len(snap.procs) && snap.procs[i].Entry == addr {
		return snap.procs[i], nil
	}
	return engine.Procedure{}, NotFound("no procedure starts at %s", addr)
}

// ProcedureNamed returns the procedure called name. Names are not unique;
// an ambiguous name is rejected so the caller can retry by address.
func (r *Resolver) ProcedureNamed(ctx context.Context, name string) (engine.Procedure, error) {
	snap, err := r.load(ctx)
	if err != nil {
		return engine.Procedure{}, EngineFailure(err, "failed to enumerate procedures")
	}
	matches := snap.byName[name]
	switch len(matches) {
	case 0:
		return engine.Procedure{}, NotFound("no procedure named %q", name)
	case 1:
		return matches[0], nil
	default:
		return engine.Procedure{}, InvalidArgument("procedure name %q is ambiguous (%d matches); use address", name, len(matches))
	}
}

// Procedure resolves the procedure a request refers to, by "address" or,
// failing that, by "name".
func (r *Resolver) Procedure(ctx context.Context, params Params) (engine.Procedure, error) {
	if params.Has("address") {
		addr, err := params.Address("address")
		if err != nil {
			return engine.Procedure{}, err
		}
		return r.ProcedureAt(ctx, addr)
	}
	if name, ok := params.String("name"); ok && name != "" {
		return r.ProcedureNamed(ctx, name)
	}
	return engine.Procedure{}, InvalidArgument("missing required parameter \"address\" (or \"name\")")
}

// SegmentAt returns the segment containing addr.
func (r *Resolver) SegmentAt(ctx context.Context, addr engine.Address) (engine.Segment, error) {
	snap, err := r.load(ctx)
	if err != nil {
		return engine.Segment{}, EngineFailure(err, "failed to enumerate segments")
	}
	for _, s := range snap.segments {
		if s.Contains(addr) {
			return s, nil
		}
	}
	return engine.Segment{}, NotFound("address %s is outside every segment", addr)
}

// StringAt returns the string literal starting at addr. Strings are not
// snapshotted: the lookup asks the engine for the single-address range.
func (r *Resolver) StringAt(ctx context.Context, addr engine.Address) (engine.StringLiteral, error) {
	strs, err := r.eng.StringsInRange(ctx, engine.Range{Start: addr, End: addr + 1})
	if err != nil {
		return engine.StringLiteral{}, EngineFailure(err, "failed to read strings")
	}
	for _, s := range strs {
		if s.Address == addr {
			return s, nil
		}
	}
	return engine.StringLiteral{}, NotFound("no string literal at %s", addr)
}

// Known reports whether addr resolves to any object: a procedure start, a
// string literal, or an offset inside a segment.
func (r *Resolver) Known(ctx context.Context, addr engine.Address) (bool, error) {
	if _, err := r.ProcedureAt(ctx, addr); err == nil {
		return true, nil
	} else if KindOf(err) != KindNotFound {
		return false, err
	}
	if _, err := r.SegmentAt(ctx, addr); err == nil {
		return true, nil
	} else if KindOf(err) != KindNotFound {
		return false, err
	}
	if _, err := r.StringAt(ctx, addr); err == nil {
		return true, nil
	} else if KindOf(err) != KindNotFound {
		return false, err
	}
	return false, nil
}

// Describe names the object at addr for xref endpoints, preferring the
// procedure containing it. ok is false when nothing resolves.
func (r *Resolver) Describe(ctx context.Context, addr engine.Address) (label string, ok bool) {
	snap, err := r.load(ctx)
	if err != nil {
		return "", false
	}
	i := sort.Search(len(snap.procs), func(i int) bool { return snap.procs[i].Entry > addr })
	if i > 0 {
		p := snap.procs[i-1]
		if p.Entry == addr {
			return p.Name, true
		}
		if p.Size > 0 && uint64(addr-p.Entry) < p.Size {
			return p.Name + "+" + (addr - p.Entry).String(), true
		}
	}
	if s, err := r.StringAt(ctx, addr); err == nil {
		return "string " + s.Address.String(), true
	}
	if seg, err := r.SegmentAt(ctx, addr); err == nil {
		return seg.Name + "+" + (addr - seg.Start).String(), true
	}
	return "", false
}

// isNotFound reports whether err is a bridge or engine not-found error.
func isNotFound(err error) bool {
	return errors.Is(err, engine.ErrNotFound) || KindOf(err) == KindNotFound
}
