// Package staging implements the Edit Staging Handler: the subsystem
// that turns an apply_code_edit tool call into a staged EditProposal.
// It takes the already decoded arguments, resolves canonical identifiers through the
// external code graph, validates byte ranges, reads the current file
// content under verification, builds a preview, and stores the result
// in the Proposal Registry.
package staging

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/weave-editor/weave/internal/codegraph"
	"github.com/weave-editor/weave/internal/config"
	"github.com/weave-editor/weave/internal/diff"
	"github.com/weave-editor/weave/internal/logging"
	"github.com/weave-editor/weave/internal/pathscope"
	"github.com/weave-editor/weave/internal/proposal"
	"github.com/weave-editor/weave/internal/weaveerr"
)

// SpliceEdit is a raw byte-range edit against a concrete file, already
// carrying its own expected hash and namespace.
type SpliceEdit struct {
	FilePath         string    `json:"file_path"`
	StartByte        uint32    `json:"start_byte"`
	EndByte          uint32    `json:"end_byte"`
	Replacement      string    `json:"replacement"`
	ExpectedFileHash string    `json:"expected_file_hash"`
	Namespace        uuid.UUID `json:"namespace"`
}

// CanonicalEdit names a code-graph node by canonical identifier rather
// than by byte range; it must be resolved via codegraph.Resolver before
// it can be validated or applied.
type CanonicalEdit struct {
	File     string `json:"file"`
	Canon    string `json:"canon"`
	NodeType string `json:"node_type"`
	Code     string `json:"code"`
}

// ApplyCodeEditRequest is the deserialized shape of the apply_code_edit
// tool call's arguments.
type ApplyCodeEditRequest struct {
	SpliceEdits    []SpliceEdit    `json:"splice_edits,omitempty"`
	CanonicalEdits []CanonicalEdit `json:"canonical_edits,omitempty"`
	Confidence     *float32        `json:"confidence,omitempty"`
}

// Reader is the subset of ioactor.Actor the handler needs: a verified
// read used to capture file content and hash at resolution time.
type Reader interface {
	ReadVerified(ctx context.Context, path, expectedHash string) (content string, hash string, err error)
}

// Registry is the subset of proposal.Registry the handler needs.
type Registry interface {
	Insert(p *proposal.EditProposal) error
	Seen(requestID uuid.UUID) bool
}

// AutoConfirmDispatcher receives a synthesized ApproveEdits command when
// auto-confirm is enabled. The Central Dispatcher satisfies this.
type AutoConfirmDispatcher interface {
	DispatchApprove(requestID uuid.UUID)
}

// Handler is the Edit Staging Handler.
type Handler struct {
	reader     Reader
	resolver   codegraph.Resolver
	registry   Registry
	autoconfRe AutoConfirmDispatcher
	workspace  string
	editing    config.EditingConfig
	log        *logging.Logger
}

// New constructs a Handler. workspace is the crate/repository root used
// for path scoping and workspace-relative preview display.
func New(reader Reader, resolver codegraph.Resolver, registry Registry, autoconf AutoConfirmDispatcher, workspace string, editing config.EditingConfig) *Handler {
	return &Handler{
		reader:     reader,
		resolver:   resolver,
		registry:   registry,
		autoconfRe: autoconf,
		workspace:  workspace,
		editing:    editing,
		log:        logging.Get(logging.CategoryStaging),
	}
}

// resolvedEdit is a SpliceEdit or CanonicalEdit after path scoping and
// (for CanonicalEdit) code-graph resolution, ready for range validation.
type resolvedEdit struct {
	filePath         string
	startByte        uint32
	endByte          uint32
	replacement      string
	expectedFileHash string
}

// Stage runs the full staging pipeline for one tool call and returns the
// resulting EditProposal. It returns a *weaveerr.Error for every
// documented failure mode.
func (h *Handler) Stage(ctx context.Context, requestID, parentID uuid.UUID, callID string, req ApplyCodeEditRequest) (*proposal.EditProposal, error) {
	if h.registry.Seen(requestID) {
		return nil, weaveerr.Domainf(weaveerr.CodeDuplicateRequest, "request %s already staged", requestID)
	}

	if len(req.SpliceEdits) == 0 && len(req.CanonicalEdits) == 0 {
		return nil, weaveerr.Domainf(weaveerr.CodeSchema, "apply_code_edit requires at least one edit").
			WithRetryHint("provide splice_edits or canonical_edits")
	}

	resolved := make([]resolvedEdit, 0, len(req.SpliceEdits)+len(req.CanonicalEdits))

	for _, e := range req.SpliceEdits {
		abs, err := pathscope.Resolve(e.FilePath, h.workspace)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, resolvedEdit{
			filePath:         abs,
			startByte:        e.StartByte,
			endByte:          e.EndByte,
			replacement:      e.Replacement,
			expectedFileHash: e.ExpectedFileHash,
		})
	}

	for _, e := range req.CanonicalEdits {
		loc, ok, err := h.resolver.LookupCanonical(ctx, e.Canon, e.NodeType)
		if err != nil {
			if ambig, ok := err.(*codegraph.ErrAmbiguous); ok {
				return nil, weaveerr.Domainf(weaveerr.CodeCanonicalAmbiguous,
					"canonical identifier %q resolves to %d locations", ambig.Canon, len(ambig.Candidates))
			}
			return nil, weaveerr.New(weaveerr.Internal, weaveerr.CodeCanonicalNotFound, "code graph lookup failed").Wrap(err)
		}
		if !ok {
			return nil, weaveerr.Domainf(weaveerr.CodeCanonicalNotFound, "no code graph entry for %q (%s)", e.Canon, e.NodeType).
				WithRetryHint("verify the canonical identifier against the latest code graph")
		}

		abs, err := pathscope.Resolve(loc.FilePath, h.workspace)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, resolvedEdit{
			filePath:         abs,
			startByte:        loc.StartByte,
			endByte:          loc.EndByte,
			replacement:      e.Code,
			expectedFileHash: loc.FileHash,
		})
	}

	if err := validateRanges(resolved); err != nil {
		return nil, err
	}

	filePairs, err := h.readVerifiedPairs(ctx, resolved)
	if err != nil {
		return nil, err
	}

	preview := h.buildPreview(filePairs)

	edits := make([]proposal.WriteSnippet, len(resolved))
	for i, e := range resolved {
		edits[i] = proposal.WriteSnippet{
			FilePath:         pathscope.RelativeToRoot(e.filePath, h.workspace),
			StartByte:        e.startByte,
			EndByte:          e.endByte,
			Replacement:      e.replacement,
			ExpectedFileHash: e.expectedFileHash,
		}
	}

	p := proposal.New(requestID, parentID, callID, edits, nowMillisFunc(), req.Confidence)
	p.Preview = preview

	if err := h.registry.Insert(p); err != nil {
		return nil, err
	}

	if h.editing.AutoConfirm && h.autoconfRe != nil {
		h.log.Info("auto-confirm enabled: dispatching approval for %s", requestID)
		h.autoconfRe.DispatchApprove(requestID)
	}

	return p, nil
}

// validateRanges enforces the per-file ordering and overlap invariant:
// start <= end for every edit, and no two edits targeting the same
// file may have overlapping [start, end) ranges.
func validateRanges(edits []resolvedEdit) error {
	byFile := make(map[string][]resolvedEdit)
	for _, e := range edits {
		if e.startByte > e.endByte {
			return weaveerr.Domainf(weaveerr.CodeOutOfRange, "edit on %s has start_byte %d > end_byte %d", e.filePath, e.startByte, e.endByte)
		}
		byFile[e.filePath] = append(byFile[e.filePath], e)
	}

	for path, group := range byFile {
		sort.Slice(group, func(i, j int) bool { return group[i].startByte < group[j].startByte })
		for i := 1; i < len(group); i++ {
			if group[i].startByte < group[i-1].endByte {
				return weaveerr.Domainf(weaveerr.CodeOverlappingRanges, "overlapping edits on %s at byte %d", path, group[i].startByte)
			}
		}
	}
	return nil
}

// readVerifiedPairs reads the pre-edit content of every distinct file
// touched by edits and computes the post-edit content for the preview.
// A content mismatch at this stage fails the whole staging attempt,
// since the LLM supplied a stale expected_file_hash.
func (h *Handler) readVerifiedPairs(ctx context.Context, edits []resolvedEdit) ([]diff.FilePair, error) {
	byFile := make(map[string][]resolvedEdit)
	order := make([]string, 0)
	for _, e := range edits {
		if _, ok := byFile[e.filePath]; !ok {
			order = append(order, e.filePath)
		}
		byFile[e.filePath] = append(byFile[e.filePath], e)
	}

	pairs := make([]diff.FilePair, 0, len(order))
	for _, path := range order {
		group := byFile[path]
		before, _, err := h.reader.ReadVerified(ctx, path, group[0].expectedFileHash)
		if err != nil {
			return nil, err
		}

		sort.Slice(group, func(i, j int) bool { return group[i].startByte < group[j].startByte })
		buf := []byte(before)
		for i := len(group) - 1; i >= 0; i-- {
			e := group[i]
			if uint64(e.endByte) > uint64(len(buf)) {
				return nil, weaveerr.Domainf(weaveerr.CodeOutOfRange, "edit range [%d,%d) exceeds file length %d on %s", e.startByte, e.endByte, len(buf), path)
			}
			merged := make([]byte, 0, len(buf)-int(e.endByte-e.startByte)+len(e.replacement))
			merged = append(merged, buf[:e.startByte]...)
			merged = append(merged, []byte(e.replacement)...)
			merged = append(merged, buf[e.endByte:]...)
			buf = merged
		}

		pairs = append(pairs, diff.FilePair{
			Path:   pathscope.RelativeToRoot(path, h.workspace),
			Before: before,
			After:  string(buf),
		})
	}
	return pairs, nil
}

func (h *Handler) buildPreview(pairs []diff.FilePair) diff.Preview {
	switch h.editing.PreviewMode {
	case config.PreviewUnifiedDiff:
		return diff.BuildUnifiedDiffPreview(pairs)
	default:
		return diff.BuildCodeBlockPreview(pairs, h.editing.MaxPreviewLines)
	}
}

// nowMillisFunc is overridden in tests to produce deterministic
// timestamps; in production it reads the wall clock.
var nowMillisFunc = defaultNowMillis

func defaultNowMillis() int64 {
	return time.Now().UnixMilli()
}
