// Package proposal owns the EditProposal data model and its in-memory,
// disk-persisted registry. The registry is the exclusive owner of every
// EditProposal instance; all other subsystems hold request-id references
// or copies obtained through its accessors.
package proposal

import (
	"github.com/google/uuid"

	"github.com/weave-editor/weave/internal/diff"
)

// Status is the tagged state of an EditProposal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusApplied  Status = "applied"
	StatusFailed   Status = "failed"
)

// WriteSnippet is a single byte-range replacement within one file.
type WriteSnippet struct {
	FilePath         string    `json:"file_path"`
	StartByte        uint32    `json:"start_byte"`
	EndByte          uint32    `json:"end_byte"`
	Replacement      string    `json:"replacement"`
	ExpectedFileHash string    `json:"expected_file_hash"`
	Namespace        uuid.UUID `json:"namespace"`
}

// EditProposal is a staged, not-yet-applied edit set awaiting approval.
type EditProposal struct {
	RequestID  uuid.UUID      `json:"request_id"`
	ParentID   uuid.UUID      `json:"parent_id"`
	CallID     string         `json:"call_id"`
	ProposedAt int64          `json:"proposed_at"` // unix millis
	Edits      []WriteSnippet `json:"edits"`
	Files      []string       `json:"files"`
	Preview    diff.Preview   `json:"preview"`
	Confidence *float32       `json:"confidence,omitempty"`

	Status       Status `json:"status"`
	FailedReason string `json:"failed_reason,omitempty"`
}

// filesFromEdits returns the deduplicated, order-preserving list of file
// paths touched by edits.
func filesFromEdits(edits []WriteSnippet) []string {
	seen := make(map[string]bool, len(edits))
	files := make([]string, 0, len(edits))
	for _, e := range edits {
		if !seen[e.FilePath] {
			seen[e.FilePath] = true
			files = append(files, e.FilePath)
		}
	}
	return files
}

// New builds a Pending EditProposal from its edits, computing the
// deduplicated file list.
func New(requestID, parentID uuid.UUID, callID string, edits []WriteSnippet, proposedAt int64, confidence *float32) *EditProposal {
	return &EditProposal{
		RequestID:  requestID,
		ParentID:   parentID,
		CallID:     callID,
		ProposedAt: proposedAt,
		Edits:      edits,
		Files:      filesFromEdits(edits),
		Status:     StatusPending,
		Confidence: confidence,
	}
}

// Clone returns a deep-enough copy for safe handoff outside the registry's
// lock (edits slice and files slice are copied; Preview is copied by value
// since its fields are themselves immutable once built).
func (p *EditProposal) Clone() *EditProposal {
	cp := *p
	cp.Edits = append([]WriteSnippet(nil), p.Edits...)
	cp.Files = append([]string(nil), p.Files...)
	return &cp
}
