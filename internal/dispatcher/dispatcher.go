// Package dispatcher routes typed tool-call events to registered
// handlers, enforcing idempotency on request_id and guaranteeing that
// every invocation emits exactly one lifecycle outcome.
package dispatcher

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/weave-editor/weave/internal/logging"
	"github.com/weave-editor/weave/internal/weaveerr"
)

// ToolRequested is the inbound event carrying a single LLM tool call.
type ToolRequested struct {
	Name      string
	RequestID uuid.UUID
	CallID    string
	ParentID  uuid.UUID
	Vendor    string
	Arguments map[string]any
}

// ToolCompleted is emitted exactly once per successful handler invocation.
type ToolCompleted struct {
	RequestID  uuid.UUID
	CallID     string
	OutcomeRaw any
}

// ToolFailed is emitted exactly once per failed or rejected invocation.
type ToolFailed struct {
	RequestID uuid.UUID
	CallID    string
	Error     ToolError
}

// ToolError is the structured, LLM-consumable failure shape.
type ToolError struct {
	Kind      weaveerr.Kind
	Message   string
	RetryHint string
}

// Handler processes one ToolRequested and returns a JSON-marshalable
// outcome, or an error. Handlers never emit lifecycle events themselves;
// the Dispatcher does that uniformly after the call returns.
type Handler func(ctx context.Context, req ToolRequested) (outcome any, err error)

// IdempotencyChecker reports whether request_id already corresponds to a
// known proposal, regardless of its status. The Proposal Registry
// satisfies this interface.
type IdempotencyChecker interface {
	Seen(requestID uuid.UUID) bool
}

// Sink receives the lifecycle events a Dispatcher emits. The Event Bus
// satisfies this interface.
type Sink interface {
	PublishCompleted(ToolCompleted)
	PublishFailed(ToolFailed)
}

// Dispatcher routes ToolRequested events by name to registered handlers.
type Dispatcher struct {
	handlers   map[string]Handler
	idempotent IdempotencyChecker
	sink       Sink
	log        *logging.Logger
}

// New creates a Dispatcher that consults checker for duplicate request
// ids and publishes lifecycle events to sink.
func New(checker IdempotencyChecker, sink Sink) *Dispatcher {
	return &Dispatcher{
		handlers:   make(map[string]Handler),
		idempotent: checker,
		sink:       sink,
		log:        logging.Get(logging.CategoryDispatcher),
	}
}

// RegisterHandler binds a tool name to its handler. Registering the same
// name twice panics, since that indicates a wiring bug at startup.
func (d *Dispatcher) RegisterHandler(name string, h Handler) {
	if _, exists := d.handlers[name]; exists {
		panic(fmt.Sprintf("dispatcher: handler already registered for tool %q", name))
	}
	d.handlers[name] = h
}

// Dispatch routes req to its handler, enforcing idempotency first, and
// emits exactly one lifecycle event to the sink.
func (d *Dispatcher) Dispatch(ctx context.Context, req ToolRequested) {
	if d.idempotent != nil && d.idempotent.Seen(req.RequestID) {
		d.log.Info("duplicate request_id %s for tool %q: not re-invoking handler", req.RequestID, req.Name)
		d.sink.PublishFailed(ToolFailed{
			RequestID: req.RequestID,
			CallID:    req.CallID,
			Error: ToolError{
				Kind:    weaveerr.Domain,
				Message: "duplicate",
			},
		})
		return
	}

	h, ok := d.handlers[req.Name]
	if !ok {
		d.log.Warn("no handler registered for tool %q", req.Name)
		d.sink.PublishFailed(ToolFailed{
			RequestID: req.RequestID,
			CallID:    req.CallID,
			Error: ToolError{
				Kind:      weaveerr.Domain,
				Message:   fmt.Sprintf("unknown tool %q", req.Name),
				RetryHint: "check the tool name against the registered tool list",
			},
		})
		return
	}

	outcome, err := h(ctx, req)
	if err != nil {
		d.sink.PublishFailed(ToolFailed{
			RequestID: req.RequestID,
			CallID:    req.CallID,
			Error:     toToolError(err),
		})
		return
	}

	d.sink.PublishCompleted(ToolCompleted{
		RequestID:  req.RequestID,
		CallID:     req.CallID,
		OutcomeRaw: outcome,
	})
}

// toToolError adapts any error into the structured ToolError shape,
// attaching the retry hint from a *weaveerr.Error when present.
func toToolError(err error) ToolError {
	if werr, ok := weaveerr.As(err); ok {
		return ToolError{Kind: werr.Kind, Message: werr.Error(), RetryHint: werr.RetryHint}
	}
	return ToolError{Kind: weaveerr.Internal, Message: err.Error()}
}
