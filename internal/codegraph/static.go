package codegraph

import (
	"context"
	"fmt"
	"sync"
)

// key identifies an entry in StaticResolver by canonical name + node type.
type key struct {
	canon    string
	nodeType string
}

// StaticResolver is an in-memory Resolver double, sufficient for unit
// tests and for embedding a pre-computed symbol table (e.g. one produced
// offline by an external indexer) without wiring a full code-graph
// service.
type StaticResolver struct {
	mu      sync.RWMutex
	entries map[key][]Location
}

// NewStaticResolver creates an empty StaticResolver.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{entries: make(map[key][]Location)}
}

// Put registers a location for a canonical identifier + node type. A
// second Put for the same key makes the identifier ambiguous.
func (r *StaticResolver) Put(canon, nodeType string, loc Location) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{canon, nodeType}
	r.entries[k] = append(r.entries[k], loc)
}

// LookupCanonical implements Resolver.
func (r *StaticResolver) LookupCanonical(_ context.Context, canon string, nodeType string) (Location, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	locs, ok := r.entries[key{canon, nodeType}]
	if !ok || len(locs) == 0 {
		return Location{}, false, nil
	}
	if len(locs) > 1 {
		return Location{}, false, &ErrAmbiguous{Canon: canon, Candidates: locs}
	}
	return locs[0], true, nil
}

var _ fmt.Stringer = key{}

func (k key) String() string { return k.canon + "/" + k.nodeType }
