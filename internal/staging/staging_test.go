package staging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weave-editor/weave/internal/codegraph"
	"github.com/weave-editor/weave/internal/config"
	"github.com/weave-editor/weave/internal/proposal"
	"github.com/weave-editor/weave/internal/weaveerr"
)

func hashOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

type fakeReader struct {
	content map[string]string
}

func (f *fakeReader) ReadVerified(ctx context.Context, path, expectedHash string) (string, string, error) {
	c, ok := f.content[path]
	if !ok {
		return "", "", weaveerr.New(weaveerr.Warning, weaveerr.CodeIO, "not found")
	}
	hash := hashOf(c)
	if expectedHash != "" && hash != expectedHash {
		return "", hash, weaveerr.Domainf(weaveerr.CodeContentMismatch, "mismatch")
	}
	return c, hash, nil
}

type fakeRegistry struct {
	inserted []*proposal.EditProposal
	seen     map[uuid.UUID]bool
}

func (f *fakeRegistry) Insert(p *proposal.EditProposal) error {
	f.inserted = append(f.inserted, p)
	return nil
}
func (f *fakeRegistry) Seen(id uuid.UUID) bool { return f.seen[id] }

type fakeAutoconfirm struct {
	dispatched []uuid.UUID
}

func (f *fakeAutoconfirm) DispatchApprove(id uuid.UUID) { f.dispatched = append(f.dispatched, id) }

func newHandler(reader *fakeReader, registry *fakeRegistry, autoconf AutoConfirmDispatcher, editing config.EditingConfig) *Handler {
	return New(reader, codegraph.NewStaticResolver(), registry, autoconf, "/workspace", editing)
}

func TestStage_SpliceEditSuccess(t *testing.T) {
	reader := &fakeReader{content: map[string]string{"/workspace/a.rs": "fn foo() { 1 }"}}
	registry := &fakeRegistry{seen: map[uuid.UUID]bool{}}
	h := newHandler(reader, registry, nil, config.EditingConfig{PreviewMode: config.PreviewCodeBlocks, MaxPreviewLines: 100})

	req := ApplyCodeEditRequest{
		SpliceEdits: []SpliceEdit{
			{FilePath: "a.rs", StartByte: 11, EndByte: 12, Replacement: "42", ExpectedFileHash: hashOf("fn foo() { 1 }")},
		},
	}

	p, err := h.Stage(context.Background(), uuid.New(), uuid.New(), "call-1", req)
	require.NoError(t, err)
	assert.Equal(t, proposal.StatusPending, p.Status)
	assert.Equal(t, []string{"a.rs"}, p.Files)
	require.Len(t, registry.inserted, 1)
}

func TestStage_DuplicateRequestRejected(t *testing.T) {
	reader := &fakeReader{content: map[string]string{"/workspace/a.rs": "x"}}
	reqID := uuid.New()
	registry := &fakeRegistry{seen: map[uuid.UUID]bool{reqID: true}}
	h := newHandler(reader, registry, nil, config.EditingConfig{})

	_, err := h.Stage(context.Background(), reqID, uuid.New(), "call-1", ApplyCodeEditRequest{
		SpliceEdits: []SpliceEdit{{FilePath: "a.rs", StartByte: 0, EndByte: 1, Replacement: "y"}},
	})
	require.Error(t, err)
	werr, ok := weaveerr.As(err)
	require.True(t, ok)
	assert.Equal(t, weaveerr.CodeDuplicateRequest, werr.Code)
}

func TestStage_EmptyEditsRejected(t *testing.T) {
	registry := &fakeRegistry{seen: map[uuid.UUID]bool{}}
	h := newHandler(&fakeReader{}, registry, nil, config.EditingConfig{})

	_, err := h.Stage(context.Background(), uuid.New(), uuid.New(), "call-1", ApplyCodeEditRequest{})
	require.Error(t, err)
	werr, ok := weaveerr.As(err)
	require.True(t, ok)
	assert.Equal(t, weaveerr.CodeSchema, werr.Code)
}

func TestStage_OverlappingEditsRejected(t *testing.T) {
	reader := &fakeReader{content: map[string]string{"/workspace/a.rs": "0123456789"}}
	registry := &fakeRegistry{seen: map[uuid.UUID]bool{}}
	h := newHandler(reader, registry, nil, config.EditingConfig{})

	_, err := h.Stage(context.Background(), uuid.New(), uuid.New(), "call-1", ApplyCodeEditRequest{
		SpliceEdits: []SpliceEdit{
			{FilePath: "a.rs", StartByte: 0, EndByte: 5, Replacement: "x", ExpectedFileHash: hashOf("0123456789")},
			{FilePath: "a.rs", StartByte: 3, EndByte: 8, Replacement: "y", ExpectedFileHash: hashOf("0123456789")},
		},
	})
	require.Error(t, err)
	werr, ok := weaveerr.As(err)
	require.True(t, ok)
	assert.Equal(t, weaveerr.CodeOverlappingRanges, werr.Code)
}

func TestStage_ContentMismatchRejected(t *testing.T) {
	reader := &fakeReader{content: map[string]string{"/workspace/a.rs": "current content"}}
	registry := &fakeRegistry{seen: map[uuid.UUID]bool{}}
	h := newHandler(reader, registry, nil, config.EditingConfig{})

	_, err := h.Stage(context.Background(), uuid.New(), uuid.New(), "call-1", ApplyCodeEditRequest{
		SpliceEdits: []SpliceEdit{
			{FilePath: "a.rs", StartByte: 0, EndByte: 1, Replacement: "x", ExpectedFileHash: hashOf("stale content")},
		},
	})
	require.Error(t, err)
	werr, ok := weaveerr.As(err)
	require.True(t, ok)
	assert.Equal(t, weaveerr.CodeContentMismatch, werr.Code)
}

func TestStage_PathOutsideRootRejected(t *testing.T) {
	reader := &fakeReader{content: map[string]string{}}
	registry := &fakeRegistry{seen: map[uuid.UUID]bool{}}
	h := newHandler(reader, registry, nil, config.EditingConfig{})

	_, err := h.Stage(context.Background(), uuid.New(), uuid.New(), "call-1", ApplyCodeEditRequest{
		SpliceEdits: []SpliceEdit{
			{FilePath: "../../etc/passwd", StartByte: 0, EndByte: 1, Replacement: "x"},
		},
	})
	require.Error(t, err)
	werr, ok := weaveerr.As(err)
	require.True(t, ok)
	assert.Equal(t, weaveerr.CodePathOutsideRoot, werr.Code)
}

func TestStage_CanonicalEditNotFoundRejected(t *testing.T) {
	reader := &fakeReader{content: map[string]string{}}
	registry := &fakeRegistry{seen: map[uuid.UUID]bool{}}
	h := newHandler(reader, registry, nil, config.EditingConfig{})

	_, err := h.Stage(context.Background(), uuid.New(), uuid.New(), "call-1", ApplyCodeEditRequest{
		CanonicalEdits: []CanonicalEdit{{File: "a.rs", Canon: "crate::missing::func", NodeType: "function", Code: "fn x() {}"}},
	})
	require.Error(t, err)
	werr, ok := weaveerr.As(err)
	require.True(t, ok)
	assert.Equal(t, weaveerr.CodeCanonicalNotFound, werr.Code)
}

func TestStage_CanonicalEditAmbiguousRejected(t *testing.T) {
	reader := &fakeReader{content: map[string]string{"/workspace/a.rs": "fn x() {}"}}
	registry := &fakeRegistry{seen: map[uuid.UUID]bool{}}
	resolver := codegraph.NewStaticResolver()
	resolver.Put("crate::dup::func", "function", codegraph.Location{FilePath: "a.rs", StartByte: 0, EndByte: 9, FileHash: hashOf("fn x() {}")})
	resolver.Put("crate::dup::func", "function", codegraph.Location{FilePath: "a.rs", StartByte: 0, EndByte: 9, FileHash: hashOf("fn x() {}")})

	h := New(reader, resolver, registry, nil, "/workspace", config.EditingConfig{})

	_, err := h.Stage(context.Background(), uuid.New(), uuid.New(), "call-1", ApplyCodeEditRequest{
		CanonicalEdits: []CanonicalEdit{{File: "a.rs", Canon: "crate::dup::func", NodeType: "function", Code: "fn y() {}"}},
	})
	require.Error(t, err)
	werr, ok := weaveerr.As(err)
	require.True(t, ok)
	assert.Equal(t, weaveerr.CodeCanonicalAmbiguous, werr.Code)
}

func TestStage_AutoConfirmDispatchesApprove(t *testing.T) {
	reader := &fakeReader{content: map[string]string{"/workspace/a.rs": "x"}}
	registry := &fakeRegistry{seen: map[uuid.UUID]bool{}}
	autoconf := &fakeAutoconfirm{}
	h := newHandler(reader, registry, autoconf, config.EditingConfig{AutoConfirm: true})

	reqID := uuid.New()
	_, err := h.Stage(context.Background(), reqID, uuid.New(), "call-1", ApplyCodeEditRequest{
		SpliceEdits: []SpliceEdit{{FilePath: "a.rs", StartByte: 0, EndByte: 1, Replacement: "y", ExpectedFileHash: hashOf("x")}},
	})
	require.NoError(t, err)
	require.Len(t, autoconf.dispatched, 1)
	assert.Equal(t, reqID, autoconf.dispatched[0])
}
