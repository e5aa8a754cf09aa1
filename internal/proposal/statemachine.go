package proposal

import "github.com/weave-editor/weave/internal/weaveerr"

// Transition is a proposed status change requested by the Approval
// Executor. Applying it enforces the proposal state machine.
type Transition string

const (
	TransitionApprove Transition = "approve"
	TransitionDeny    Transition = "deny"
	TransitionApplied Transition = "applied"
	TransitionFail    Transition = "fail"
)

// Apply validates and performs a transition in place, returning a Domain
// error with CodeStateTransition if the transition is illegal from the
// proposal's current status. Terminal states Applied and Denied accept no
// further transition except redeliveries, which are no-ops: a duplicate
// Approve against either terminal state, and a duplicate Deny against a
// Denied proposal, do not surface as errors to the caller.
func (p *EditProposal) Apply(t Transition, failReason string) error {
	switch t {
	case TransitionApprove:
		switch p.Status {
		case StatusPending, StatusFailed:
			p.Status = StatusApproved
			return nil
		case StatusApproved:
			return nil // duplicate Approve while staged for apply: retry, no state change
		case StatusApplied, StatusDenied:
			return nil // duplicate Approve on a terminal proposal is a no-op, not an error
		default:
			return illegal(p.Status, t)
		}
	case TransitionApplied:
		if p.Status != StatusApproved {
			return illegal(p.Status, t)
		}
		p.Status = StatusApplied
		p.FailedReason = ""
		return nil
	case TransitionFail:
		switch p.Status {
		case StatusApproved, StatusPending:
			p.Status = StatusFailed
			p.FailedReason = failReason
			return nil
		default:
			return illegal(p.Status, t)
		}
	case TransitionDeny:
		switch p.Status {
		case StatusPending, StatusFailed:
			p.Status = StatusDenied
			return nil
		case StatusDenied:
			return nil // idempotent no-op on an already-denied proposal
		default: // StatusApproved, StatusApplied
			return illegal(p.Status, t)
		}
	default:
		return weaveerr.Internalf("unknown transition %q", t)
	}
}

func illegal(from Status, t Transition) error {
	return weaveerr.Domainf(weaveerr.CodeStateTransition, "cannot apply transition %q from status %q", t, from)
}

// IsTerminal reports whether status accepts no further transitions other
// than the documented idempotent no-ops.
func (s Status) IsTerminal() bool {
	return s == StatusApplied || s == StatusDenied
}
