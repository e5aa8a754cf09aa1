package proposal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/weave-editor/weave/internal/logging"
	"github.com/weave-editor/weave/internal/weaveerr"
)

const sidecarFile = "proposals.json"

// Registry is the exclusive owner of every live EditProposal. It is safe
// for concurrent use: reads take the RWMutex's read lock, writes take the
// write lock, and every mutation is followed by a best-effort persist of
// the full table to a JSON sidecar under the workspace's .weave directory.
type Registry struct {
	mu       sync.RWMutex
	byID     map[uuid.UUID]*EditProposal
	weaveDir string
	log      *logging.Logger
}

// sidecarRecord is the on-disk shape of the sidecar file.
type sidecarRecord struct {
	Proposals []*EditProposal `json:"proposals"`
}

// NewRegistry creates an empty Registry rooted at weaveDir (typically
// "<workspace>/.weave"). Restore reads sidecarFile inside it; every
// persisting mutation writes that file, creating weaveDir if needed.
func NewRegistry(weaveDir string) *Registry {
	return &Registry{
		byID:     make(map[uuid.UUID]*EditProposal),
		weaveDir: weaveDir,
		log:      logging.Get(logging.CategoryRegistry),
	}
}

// Restore loads the sidecar file if present. A missing file is not an
// error — it means a fresh workspace. A corrupt file is logged as a
// warning and the registry starts empty rather than failing startup.
func (r *Registry) Restore() error {
	path := r.sidecarPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return weaveerr.New(weaveerr.Warning, weaveerr.CodeIO, "read proposal sidecar").Wrap(err)
	}

	var rec sidecarRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		r.log.Warn("sidecar corrupt, starting with empty registry: %v", err)
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = make(map[uuid.UUID]*EditProposal, len(rec.Proposals))
	for _, p := range rec.Proposals {
		if p == nil {
			continue
		}
		r.byID[p.RequestID] = p
	}
	return nil
}

// Insert adds a new proposal. It returns a Domain error with
// CodeDuplicateRequest if a proposal with the same RequestID already
// exists, since RequestID doubles as the dispatcher's idempotency key.
func (r *Registry) Insert(p *EditProposal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[p.RequestID]; exists {
		return weaveerr.Domainf(weaveerr.CodeDuplicateRequest, "proposal %s already registered", p.RequestID)
	}
	r.byID[p.RequestID] = p
	return r.persistLocked()
}

// Get returns a deep-enough copy of the proposal for requestID, or
// ok=false if it is not present.
func (r *Registry) Get(requestID uuid.UUID) (*EditProposal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byID[requestID]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Transition applies t to the proposal identified by requestID and
// persists the result. It returns weaveerr.CodeNotFound if the proposal
// is unknown, or whatever error EditProposal.Apply returns for an
// illegal transition.
func (r *Registry) Transition(requestID uuid.UUID, t Transition, failReason string) (*EditProposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[requestID]
	if !ok {
		return nil, weaveerr.New(weaveerr.Domain, weaveerr.CodeNotFound, "no proposal with that request id")
	}
	if err := p.Apply(t, failReason); err != nil {
		return nil, err
	}
	if err := r.persistLocked(); err != nil {
		r.log.Warn("persist after transition %q failed: %v", t, err)
	}
	return p.Clone(), nil
}

// Remove deletes a terminal proposal from the registry (e.g. after a
// retention window has elapsed). It is a no-op if requestID is unknown.
func (r *Registry) Remove(requestID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[requestID]; !ok {
		return nil
	}
	delete(r.byID, requestID)
	return r.persistLocked()
}

// IterByStatus returns copies of every proposal currently in status s, in
// no particular order.
func (r *Registry) IterByStatus(s Status) []*EditProposal {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*EditProposal, 0)
	for _, p := range r.byID {
		if p.Status == s {
			out = append(out, p.Clone())
		}
	}
	return out
}

// Seen reports whether requestID already corresponds to a tracked
// proposal, regardless of its status. It satisfies dispatcher.IdempotencyChecker.
func (r *Registry) Seen(requestID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[requestID]
	return ok
}

// Len returns the number of tracked proposals, for diagnostics and tests.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *Registry) sidecarPath() string {
	return filepath.Join(r.weaveDir, sidecarFile)
}

// persistLocked writes the full table to the sidecar via a temp file in
// the same directory followed by an atomic rename, so a crash mid-write
// never leaves a truncated sidecar on disk. Caller must hold r.mu.
func (r *Registry) persistLocked() error {
	rec := sidecarRecord{Proposals: make([]*EditProposal, 0, len(r.byID))}
	for _, p := range r.byID {
		rec.Proposals = append(rec.Proposals, p)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return weaveerr.New(weaveerr.Internal, weaveerr.CodeSchema, "marshal proposal sidecar").Wrap(err)
	}

	if err := os.MkdirAll(r.weaveDir, 0o755); err != nil {
		return weaveerr.New(weaveerr.Warning, weaveerr.CodeIO, "create weave dir").Wrap(err)
	}

	tmp, err := os.CreateTemp(r.weaveDir, sidecarFile+".tmp-*")
	if err != nil {
		return weaveerr.New(weaveerr.Warning, weaveerr.CodeIO, "create sidecar temp file").Wrap(err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return weaveerr.New(weaveerr.Warning, weaveerr.CodeIO, "write sidecar temp file").Wrap(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return weaveerr.New(weaveerr.Warning, weaveerr.CodeIO, "fsync sidecar temp file").Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return weaveerr.New(weaveerr.Warning, weaveerr.CodeIO, "close sidecar temp file").Wrap(err)
	}
	if err := os.Rename(tmpPath, r.sidecarPath()); err != nil {
		os.Remove(tmpPath)
		return weaveerr.New(weaveerr.Warning, weaveerr.CodeIO, "rename sidecar into place").Wrap(err)
	}
	return nil
}
