// Package approval implements the Approval Executor: the component that
// drives an EditProposal through its state machine in response to
// ApproveEdits/DenyEdits commands, invoking the IO Actor on approval and
// emitting the lifecycle events and post-apply rescan signal.
package approval

import (
	"context"

	"github.com/google/uuid"

	"github.com/weave-editor/weave/internal/dispatcher"
	"github.com/weave-editor/weave/internal/ioactor"
	"github.com/weave-editor/weave/internal/logging"
	"github.com/weave-editor/weave/internal/proposal"
	"github.com/weave-editor/weave/internal/weaveerr"
)

// Registry is the subset of proposal.Registry the executor needs.
type Registry interface {
	Get(requestID uuid.UUID) (*proposal.EditProposal, bool)
	Transition(requestID uuid.UUID, t proposal.Transition, failReason string) (*proposal.EditProposal, error)
}

// Writer is the subset of ioactor.Actor the executor needs.
type Writer interface {
	WriteSnippetsBatch(ctx context.Context, edits []ioactor.Edit) ([]ioactor.WriteResult, error)
}

// Sink receives lifecycle events and the post-apply rescan signal.
type Sink interface {
	PublishCompleted(dispatcher.ToolCompleted)
	PublishFailed(dispatcher.ToolFailed)
	PublishRescan(requestID uuid.UUID, files []string)
}

// Executor is the Approval Executor.
type Executor struct {
	registry Registry
	writer   Writer
	sink     Sink
	log      *logging.Logger
}

// New constructs an Executor.
func New(registry Registry, writer Writer, sink Sink) *Executor {
	return &Executor{registry: registry, writer: writer, sink: sink, log: logging.Get(logging.CategoryApproval)}
}

// PerFileOutcome is one entry of the outcome JSON emitted on successful apply.
type PerFileOutcome struct {
	FilePath string `json:"file_path"`
	NewHash  string `json:"new_hash"`
}

// ApplyOutcome is the ToolCompleted payload for a successful apply.
type ApplyOutcome struct {
	Files []PerFileOutcome `json:"files"`
}

// DenyOutcome is the ToolCompleted payload for a deny.
type DenyOutcome struct {
	Denied bool `json:"denied"`
}

// HandleApprove transitions requestID to Approved (a no-op if already
// terminal-but-applied), dispatches the write batch to the IO Actor, and
// finalizes the proposal as Applied or Failed based on the outcome.
func (e *Executor) HandleApprove(ctx context.Context, requestID uuid.UUID) {
	p, err := e.registry.Transition(requestID, proposal.TransitionApprove, "")
	if err != nil {
		e.sink.PublishFailed(dispatcher.ToolFailed{RequestID: requestID, Error: toToolError(err)})
		return
	}

	if p.Status != proposal.StatusApproved {
		// Already terminal (Applied or Denied): the transition above was
		// a documented no-op. Applied proposals get a completed echo;
		// Denied proposals are reported as a failed duplicate-approve.
		if p.Status == proposal.StatusApplied {
			e.sink.PublishCompleted(dispatcher.ToolCompleted{RequestID: requestID, OutcomeRaw: outcomeFromProposal(p)})
		} else {
			e.sink.PublishFailed(dispatcher.ToolFailed{RequestID: requestID, Error: dispatcher.ToolError{
				Kind:    weaveerr.Domain,
				Message: "proposal already denied",
			}})
		}
		return
	}

	edits := make([]ioactor.Edit, len(p.Edits))
	for i, ws := range p.Edits {
		edits[i] = ioactor.Edit{
			FilePath:         ws.FilePath,
			StartByte:        ws.StartByte,
			EndByte:          ws.EndByte,
			Replacement:      ws.Replacement,
			ExpectedFileHash: ws.ExpectedFileHash,
		}
	}

	results, err := e.writer.WriteSnippetsBatch(ctx, edits)
	if err != nil {
		e.fail(requestID, err)
		return
	}

	outcomes := make([]PerFileOutcome, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			e.fail(requestID, r.Err)
			return
		}
		outcomes = append(outcomes, PerFileOutcome{FilePath: r.FilePath, NewHash: r.NewHash})
	}

	final, err := e.registry.Transition(requestID, proposal.TransitionApplied, "")
	if err != nil {
		e.fail(requestID, err)
		return
	}

	e.sink.PublishCompleted(dispatcher.ToolCompleted{
		RequestID:  requestID,
		CallID:     final.CallID,
		OutcomeRaw: ApplyOutcome{Files: outcomes},
	})
	e.sink.PublishRescan(requestID, final.Files)
}

// HandleDeny transitions requestID to Denied. A subsequent Deny on an
// already-Denied proposal is a documented no-op; Deny on an Approved or
// Applied proposal is rejected as an illegal transition.
func (e *Executor) HandleDeny(ctx context.Context, requestID uuid.UUID) {
	p, err := e.registry.Transition(requestID, proposal.TransitionDeny, "")
	if err != nil {
		e.sink.PublishFailed(dispatcher.ToolFailed{RequestID: requestID, Error: toToolError(err)})
		return
	}

	e.sink.PublishCompleted(dispatcher.ToolCompleted{
		RequestID:  requestID,
		CallID:     p.CallID,
		OutcomeRaw: DenyOutcome{Denied: true},
	})
}

func (e *Executor) fail(requestID uuid.UUID, cause error) {
	reason := cause.Error()
	p, transErr := e.registry.Transition(requestID, proposal.TransitionFail, reason)
	if transErr != nil {
		e.log.Warn("could not mark proposal %s failed: %v", requestID, transErr)
	}
	callID := ""
	if p != nil {
		callID = p.CallID
	}
	e.sink.PublishFailed(dispatcher.ToolFailed{RequestID: requestID, CallID: callID, Error: toToolError(cause)})
}

func outcomeFromProposal(p *proposal.EditProposal) ApplyOutcome {
	out := ApplyOutcome{Files: make([]PerFileOutcome, 0, len(p.Edits))}
	for _, e := range p.Edits {
		out.Files = append(out.Files, PerFileOutcome{FilePath: e.FilePath, NewHash: e.ExpectedFileHash})
	}
	return out
}

func toToolError(err error) dispatcher.ToolError {
	if werr, ok := weaveerr.As(err); ok {
		return dispatcher.ToolError{Kind: werr.Kind, Message: werr.Error(), RetryHint: werr.RetryHint}
	}
	return dispatcher.ToolError{Kind: weaveerr.Internal, Message: err.Error()}
}
