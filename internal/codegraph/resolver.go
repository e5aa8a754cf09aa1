// Package codegraph names the external code-graph capability the Edit
// Staging Handler depends on to resolve a canonical identifier (e.g.
// "crate::mod::func") and node type into a concrete file location. The
// parser that actually builds this graph is out of scope for this
// core; this package only defines the boundary interface and a small
// in-memory double used by tests and by callers that already have a
// flat symbol table.
package codegraph

import "context"

// Location is the resolved byte range a canonical identifier maps to.
type Location struct {
	FilePath  string
	StartByte uint32
	EndByte   uint32
	FileHash  string
}

// Resolver maps a canonical identifier and node type to a Location.
type Resolver interface {
	// LookupCanonical returns the resolved location, or ok=false if the
	// identifier is not found. A non-nil error indicates the lookup
	// itself failed (e.g. ambiguous match); callers should surface a
	// Domain error in that case rather than treating it as not-found.
	LookupCanonical(ctx context.Context, canon string, nodeType string) (Location, bool, error)
}

// ErrAmbiguous is returned via the error return of LookupCanonical when a
// canonical identifier resolves to more than one candidate location.
type ErrAmbiguous struct {
	Canon      string
	Candidates []Location
}

func (e *ErrAmbiguous) Error() string {
	return "canonical identifier resolves to multiple locations: " + e.Canon
}
