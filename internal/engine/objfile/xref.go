package objfile

import (
	"context"
	"sort"
	"sync"

	"github.com/binbridge/binbridge/internal/engine"
)

// xrefIndex holds every reference found in the procedures, keyed by both
// endpoints. It is written once by the indexer and read afterwards.
type xrefIndex struct {
	mu     sync.RWMutex
	byAddr map[engine.Address][]engine.Xref
	count  int
}

func newXrefIndex() *xrefIndex {
	return &xrefIndex{byAddr: make(map[engine.Address][]engine.Xref)}
}

func (x *xrefIndex) add(ref engine.Xref) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.byAddr[ref.Source] = append(x.byAddr[ref.Source], ref)
	if ref.Target != ref.Source {
		x.byAddr[ref.Target] = append(x.byAddr[ref.Target], ref)
	}
	x.count++
}

func (x *xrefIndex) lookup(addr engine.Address) []engine.Xref {
	x.mu.RLock()
	defer x.mu.RUnlock()
	refs := x.byAddr[addr]
	out := make([]engine.Xref, len(refs))
	copy(out, refs)
	return out
}

func (x *xrefIndex) size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.count
}

// buildIndex decodes every procedure and records its outgoing references.
// It stops early when ctx ends and returns the number of procedures indexed.
func (e *Engine) buildIndex(ctx context.Context) int {
	indexed := 0
	for _, p := range e.img.procs {
		if ctx.Err() != nil {
			return indexed
		}
		insns, err := decode(e.img.arch, SyntaxIntel, e.img.bytesOf(p), p.Entry, nil)
		if err != nil {
			e.logger.Debug().Err(err).Str("procedure", p.Name).Msg("Skipping procedure during indexing")
			continue
		}
		seen := make(map[engine.Xref]struct{})
		for _, in := range insns {
			if !in.hasRef() {
				continue
			}
			ref := engine.Xref{Source: in.Address, Target: in.target, Kind: in.ref}
			if _, dup := seen[ref]; dup {
				continue
			}
			seen[ref] = struct{}{}
			e.xrefs.add(ref)
		}
		indexed++
	}

	e.xrefs.mu.Lock()
	for addr, refs := range e.xrefs.byAddr {
		sort.Slice(refs, func(i, j int) bool {
			if refs[i].Source != refs[j].Source {
				return refs[i].Source < refs[j].Source
			}
			return refs[i].Target < refs[j].Target
		})
		e.xrefs.byAddr[addr] = refs
	}
	e.xrefs.mu.Unlock()
	return indexed
}
