// Package ioactor is the sole point of filesystem mutation in the
// editing pipeline. It owns per-file locks, performs hash-verified
// reads, and applies atomic splice-writes via a temp-file-plus-rename
// sequence. It is the only package that writes workspace source files;
// the proposal sidecar, log files and observability database under
// <workspace>/.weave are written by their own packages.
package ioactor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/weave-editor/weave/internal/config"
	"github.com/weave-editor/weave/internal/logging"
	"github.com/weave-editor/weave/internal/pathscope"
	"github.com/weave-editor/weave/internal/weaveerr"
)

// Edit is a single byte-range replacement, decoupled from the proposal
// package's WriteSnippet so this package has no upward dependency on
// the staging/approval layer.
type Edit struct {
	FilePath         string
	StartByte        uint32
	EndByte          uint32
	Replacement      string
	ExpectedFileHash string
}

// WriteResult is the per-file outcome of a write_snippets_batch call.
type WriteResult struct {
	FilePath string
	NewHash  string
	Err      error
}

// ExistsPolicy controls CreateFile's behavior when the target already exists.
type ExistsPolicy int

const (
	OnExistsError ExistsPolicy = iota
	OnExistsOverwrite
)

// Actor owns per-file mutexes and the workspace-root allowlist. The zero
// value is not usable; construct with New.
type Actor struct {
	mu     sync.RWMutex
	roots  []string
	policy config.SymlinkPolicy

	fileLocks sync.Map // absolute path -> *sync.Mutex

	log *logging.Logger
}

// New creates an Actor scoped to roots, enforcing policy on every
// resolved path.
func New(roots []string, policy config.SymlinkPolicy) *Actor {
	return &Actor{
		roots:  append([]string(nil), roots...),
		policy: policy,
		log:    logging.Get(logging.CategoryIOActor),
	}
}

// UpdateRoots atomically swaps the root allowlist and symlink policy.
// Safe to call concurrently with any other Actor method.
func (a *Actor) UpdateRoots(roots []string, policy config.SymlinkPolicy) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.roots = append([]string(nil), roots...)
	a.policy = policy
	a.log.Info("roots updated: %v (symlink policy=%v)", a.roots, policy)
}

func (a *Actor) snapshot() ([]string, config.SymlinkPolicy) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.roots...), a.policy
}

// resolve scopes path against the first configured root it falls under.
// It returns the Domain error from the last attempted root if none
// accept the path.
func (a *Actor) resolve(path string) (string, error) {
	roots, policy := a.snapshot()
	if len(roots) == 0 {
		return "", weaveerr.Domainf(weaveerr.CodePathOutsideRoot, "no workspace roots configured")
	}

	var lastErr error
	for _, root := range roots {
		resolved, err := pathscope.Resolve(path, root)
		if err == nil {
			return resolved, nil
		}
		lastErr = err
	}

	if policy == config.SymlinkAllow {
		// Caller has opted out of cross-root symlink rejection; still
		// require the path to lie syntactically under one of the roots,
		// without resolving symlinks along the way.
		for _, root := range roots {
			absRoot, err := filepath.Abs(root)
			if err != nil {
				continue
			}
			candidate := filepath.Clean(path)
			if !filepath.IsAbs(candidate) {
				candidate = filepath.Clean(filepath.Join(absRoot, candidate))
			}
			rel, err := filepath.Rel(absRoot, candidate)
			if err == nil && rel != ".." && !isParentEscape(rel) {
				return candidate, nil
			}
		}
	}
	return "", lastErr
}

func isParentEscape(rel string) bool {
	return rel == ".." || len(rel) >= 3 && rel[:3] == "../"
}

func (a *Actor) lockFor(path string) *sync.Mutex {
	v, _ := a.fileLocks.LoadOrStore(path, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ReadVerified reads path fully and returns its content and content
// hash. If expectedHash is non-empty and does not match, it returns a
// Domain error with CodeContentMismatch and no content.
func (a *Actor) ReadVerified(ctx context.Context, path, expectedHash string) (content string, hash string, err error) {
	resolved, err := a.resolve(path)
	if err != nil {
		return "", "", err
	}

	lock := a.lockFor(resolved)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", "", weaveerr.New(weaveerr.Warning, weaveerr.CodeIO, "read file").Wrap(err)
	}

	hash = hashBytes(data)
	if expectedHash != "" && hash != expectedHash {
		return "", hash, weaveerr.Domainf(weaveerr.CodeContentMismatch,
			"file %s has changed since it was staged", path).
			WithRetryHint("re-fetch the file and resubmit the edit")
	}
	return string(data), hash, nil
}

// WriteSnippetsBatch applies edits grouped by file, each file under its
// own lock and processed concurrently with the others. Edits for a
// single file are applied to an in-memory buffer in descending byte
// order so earlier offsets stay stable, then flushed via a sibling
// temp file, fsync, and atomic rename.
func (a *Actor) WriteSnippetsBatch(ctx context.Context, edits []Edit) ([]WriteResult, error) {
	byFile := make(map[string][]Edit)
	order := make([]string, 0)
	for _, e := range edits {
		if _, ok := byFile[e.FilePath]; !ok {
			order = append(order, e.FilePath)
		}
		byFile[e.FilePath] = append(byFile[e.FilePath], e)
	}

	results := make([]WriteResult, len(order))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range order {
		i, path := i, path
		g.Go(func() error {
			_ = gctx
			hash, err := a.writeFileEdits(path, byFile[path])
			results[i] = WriteResult{FilePath: path, NewHash: hash, Err: err}
			return nil // per-file errors are reported in results, not failing the group
		})
	}
	_ = g.Wait()
	return results, nil
}

func (a *Actor) writeFileEdits(path string, edits []Edit) (string, error) {
	resolved, err := a.resolve(path)
	if err != nil {
		return "", err
	}

	lock := a.lockFor(resolved)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", weaveerr.New(weaveerr.Warning, weaveerr.CodeIO, "read file before write").Wrap(err)
	}

	expected := edits[0].ExpectedFileHash
	for _, e := range edits {
		if e.ExpectedFileHash != expected {
			return "", weaveerr.Domainf(weaveerr.CodeContentMismatch,
				"edits for %s disagree on expected file hash", path)
		}
	}
	currentHash := hashBytes(data)
	if expected != "" && currentHash != expected {
		return "", weaveerr.Domainf(weaveerr.CodeContentMismatch,
			"file %s has changed since it was staged", path).
			WithRetryHint("re-fetch the file and resubmit the edit")
	}

	sorted := append([]Edit(nil), edits...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartByte < sorted[j].StartByte })

	for i, e := range sorted {
		if e.StartByte > e.EndByte {
			return "", weaveerr.Domainf(weaveerr.CodeOutOfRange, "edit start_byte %d > end_byte %d", e.StartByte, e.EndByte)
		}
		if uint64(e.EndByte) > uint64(len(data)) {
			return "", weaveerr.Domainf(weaveerr.CodeOutOfRange, "edit range [%d,%d) exceeds file length %d", e.StartByte, e.EndByte, len(data))
		}
		if e.StartByte < uint32(len(data)) && !utf8.RuneStart(data[e.StartByte]) {
			return "", weaveerr.Domainf(weaveerr.CodeInvalidCharBoundary, "start_byte %d is not a UTF-8 boundary", e.StartByte)
		}
		if e.EndByte < uint32(len(data)) && !utf8.RuneStart(data[e.EndByte]) {
			return "", weaveerr.Domainf(weaveerr.CodeInvalidCharBoundary, "end_byte %d is not a UTF-8 boundary", e.EndByte)
		}
		if i > 0 && sorted[i].StartByte < sorted[i-1].EndByte {
			return "", weaveerr.Domainf(weaveerr.CodeOverlappingRanges, "edits for %s overlap at byte %d", path, sorted[i].StartByte)
		}
	}

	buf := append([]byte(nil), data...)
	for i := len(sorted) - 1; i >= 0; i-- {
		e := sorted[i]
		head := buf[:e.StartByte]
		tail := buf[e.EndByte:]
		merged := make([]byte, 0, len(head)+len(e.Replacement)+len(tail))
		merged = append(merged, head...)
		merged = append(merged, []byte(e.Replacement)...)
		merged = append(merged, tail...)
		buf = merged
	}

	if err := atomicWrite(resolved, buf); err != nil {
		return "", err
	}
	return hashBytes(buf), nil
}

// CreateFile atomically creates path with content. If the file exists,
// onExists determines whether the call fails or overwrites.
func (a *Actor) CreateFile(ctx context.Context, path string, content []byte, onExists ExistsPolicy, createParents bool) (string, error) {
	resolved, err := a.resolve(path)
	if err != nil {
		return "", err
	}

	lock := a.lockFor(resolved)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(resolved); err == nil {
		if onExists == OnExistsError {
			return "", weaveerr.Domainf(weaveerr.CodeIO, "file already exists: %s", path)
		}
	} else if !os.IsNotExist(err) {
		return "", weaveerr.New(weaveerr.Warning, weaveerr.CodeIO, "stat target file").Wrap(err)
	}

	if createParents {
		if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
			return "", weaveerr.New(weaveerr.Warning, weaveerr.CodeIO, "create parent directories").Wrap(err)
		}
	}

	if err := atomicWrite(resolved, content); err != nil {
		return "", err
	}
	return hashBytes(content), nil
}

// FileMetadata is the result of a get_file_metadata call.
type FileMetadata struct {
	Exists    bool
	SizeBytes int64
	Hash      string
}

// Metadata resolves path against the root allowlist and reports its
// size and content hash without exposing file content. A missing file
// is reported as Exists=false rather than an error.
func (a *Actor) Metadata(ctx context.Context, path string) (FileMetadata, error) {
	resolved, err := a.resolve(path)
	if err != nil {
		return FileMetadata{}, err
	}

	lock := a.lockFor(resolved)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(resolved)
	if os.IsNotExist(err) {
		return FileMetadata{Exists: false}, nil
	}
	if err != nil {
		return FileMetadata{}, weaveerr.New(weaveerr.Warning, weaveerr.CodeIO, "stat file for metadata").Wrap(err)
	}
	return FileMetadata{Exists: true, SizeBytes: int64(len(data)), Hash: hashBytes(data)}, nil
}

// atomicWrite writes data to a sibling temp file in target's directory,
// fsyncs it, renames it over target, then best-effort fsyncs the parent
// directory so the rename itself is durable on crash.
func atomicWrite(target string, data []byte) error {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, filepath.Base(target)+".tmp-*")
	if err != nil {
		return weaveerr.New(weaveerr.Warning, weaveerr.CodeIO, "create temp file").Wrap(err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return weaveerr.New(weaveerr.Warning, weaveerr.CodeIO, "write temp file").Wrap(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return weaveerr.New(weaveerr.Warning, weaveerr.CodeIO, "fsync temp file").Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return weaveerr.New(weaveerr.Warning, weaveerr.CodeIO, "close temp file").Wrap(err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return weaveerr.New(weaveerr.Fatal, weaveerr.CodeIO, fmt.Sprintf("rename %s into place", target)).Wrap(err)
	}

	if dirF, err := os.Open(dir); err == nil {
		_ = dirF.Sync()
		_ = dirF.Close()
	}
	return nil
}
