// Package central implements the Central Dispatcher: the single
// goroutine that owns the shared configuration and the routing to the
// other actors, and serializes mutation through one command channel
// rather than letting callers reach into its fields directly. It holds
// no proposal registry handle of its own; the registry is held by the
// Approval Executor and Tool Dispatcher its commands are routed to.
package central

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/weave-editor/weave/internal/config"
	"github.com/weave-editor/weave/internal/dispatcher"
	"github.com/weave-editor/weave/internal/logging"
)

// ApprovalExecutor is the subset of approval.Executor the dispatcher routes to.
type ApprovalExecutor interface {
	HandleApprove(ctx context.Context, requestID uuid.UUID)
	HandleDeny(ctx context.Context, requestID uuid.UUID)
}

// IORootUpdater is the subset of ioactor.Actor the dispatcher reconfigures.
type IORootUpdater interface {
	UpdateRoots(roots []string, policy config.SymlinkPolicy)
}

// ToolDispatcher is the subset of dispatcher.Dispatcher the Central
// Dispatcher serializes calls to: RouteToolCall enqueues a ToolRequested
// command that, once it reaches the front of the queue, is handed to
// Dispatch so idempotency checking, handler lookup, and lifecycle-event
// emission stay in one place rather than duplicated here.
type ToolDispatcher interface {
	RegisterHandler(name string, h dispatcher.Handler)
	Dispatch(ctx context.Context, req dispatcher.ToolRequested)
}

// command is the closed sum type every mutation flows through.
type command interface{ apply(d *Dispatcher) }

type approveEdits struct{ requestID uuid.UUID }
type denyEdits struct{ requestID uuid.UUID }
type setPreviewMode struct{ mode config.PreviewMode }
type setMaxPreviewLines struct{ lines uint32 }
type setAutoConfirm struct{ enabled bool }
type updateIoRoots struct {
	roots  []string
	policy config.SymlinkPolicy
}
type routeToolCall struct {
	req  dispatcher.ToolRequested
	done chan struct{}
}

func (c approveEdits) apply(d *Dispatcher) {
	d.approval.HandleApprove(context.Background(), c.requestID)
}

func (c denyEdits) apply(d *Dispatcher) {
	d.approval.HandleDeny(context.Background(), c.requestID)
}

func (c setPreviewMode) apply(d *Dispatcher) {
	d.mu.Lock()
	d.cfg.Editing.PreviewMode = c.mode
	d.mu.Unlock()
}

func (c setMaxPreviewLines) apply(d *Dispatcher) {
	d.mu.Lock()
	d.cfg.Editing.MaxPreviewLines = c.lines
	d.mu.Unlock()
}

func (c setAutoConfirm) apply(d *Dispatcher) {
	d.mu.Lock()
	d.cfg.Editing.AutoConfirm = c.enabled
	d.mu.Unlock()
}

func (c updateIoRoots) apply(d *Dispatcher) {
	d.mu.Lock()
	d.cfg.IO.Roots = c.roots
	d.cfg.IO.SymlinkPolicy = c.policy
	d.mu.Unlock()
	d.ioRoots.UpdateRoots(c.roots, c.policy)
}

func (c routeToolCall) apply(d *Dispatcher) {
	defer close(c.done)
	d.toolDispatch.Dispatch(context.Background(), c.req)
}

// Dispatcher is the Central Dispatcher / State Manager. Every
// mutation of shared state — configuration changes, proposal
// transitions, and tool-call routing — flows through its single
// command channel and is applied by its one owning goroutine, while
// reads of the current configuration snapshot take a concurrent
// read-lock and never touch the channel.
type Dispatcher struct {
	mu  sync.RWMutex
	cfg *config.Config

	cmds chan command

	approval     ApprovalExecutor
	ioRoots      IORootUpdater
	toolDispatch ToolDispatcher

	log *logging.Logger

	stop chan struct{}
	done chan struct{}
}

// New constructs a Dispatcher and starts its command-processing goroutine.
// toolDispatch is the Tool Dispatcher every RouteToolCall command is
// ultimately handed to. Call Stop to shut the loop down.
func New(cfg *config.Config, approvalExecutor ApprovalExecutor, ioRoots IORootUpdater, toolDispatch ToolDispatcher) *Dispatcher {
	d := &Dispatcher{
		cfg:          cfg,
		cmds:         make(chan command, 64),
		approval:     approvalExecutor,
		ioRoots:      ioRoots,
		toolDispatch: toolDispatch,
		log:          logging.Get(logging.CategoryCentral),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	go d.run()
	return d
}

// RegisterToolHandler wires a tool name to the function that services it,
// e.g. "apply_code_edit" to a closure wrapping staging.Handler.Stage. It
// delegates directly to the underlying Tool Dispatcher and may be called
// before or after New, but must complete before the first matching
// ToolRequested command is routed.
func (d *Dispatcher) RegisterToolHandler(name string, h dispatcher.Handler) {
	d.toolDispatch.RegisterHandler(name, h)
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case cmd := <-d.cmds:
			cmd.apply(d)
		case <-d.stop:
			return
		}
	}
}

// Stop drains no further commands and waits for the loop to exit.
func (d *Dispatcher) Stop() {
	close(d.stop)
	<-d.done
}

// Snapshot returns a copy of the current configuration under a read
// lock; it never touches the command channel.
func (d *Dispatcher) Snapshot() config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return *d.cfg
}

// DispatchApprove satisfies staging.AutoConfirmDispatcher: staged
// proposals configured for auto-confirm post an ApproveEdits command
// back through this same serialized queue.
func (d *Dispatcher) DispatchApprove(requestID uuid.UUID) {
	d.cmds <- approveEdits{requestID: requestID}
}

// Approve enqueues an ApproveEdits command.
func (d *Dispatcher) Approve(requestID uuid.UUID) {
	d.cmds <- approveEdits{requestID: requestID}
}

// Deny enqueues a DenyEdits command.
func (d *Dispatcher) Deny(requestID uuid.UUID) {
	d.cmds <- denyEdits{requestID: requestID}
}

// SetEditingPreviewMode enqueues a configuration change.
func (d *Dispatcher) SetEditingPreviewMode(mode config.PreviewMode) {
	d.cmds <- setPreviewMode{mode: mode}
}

// SetEditingMaxPreviewLines enqueues a configuration change.
func (d *Dispatcher) SetEditingMaxPreviewLines(lines uint32) {
	d.cmds <- setMaxPreviewLines{lines: lines}
}

// SetEditingAutoConfirm enqueues a configuration change.
func (d *Dispatcher) SetEditingAutoConfirm(enabled bool) {
	d.cmds <- setAutoConfirm{enabled: enabled}
}

// UpdateIoRoots enqueues an IO root-allowlist change, applied to both
// the config snapshot and the live IO Actor.
func (d *Dispatcher) UpdateIoRoots(roots []string, policy config.SymlinkPolicy) {
	d.cmds <- updateIoRoots{roots: roots, policy: policy}
}

// RouteToolCall enqueues a tool call for serialized handling and
// blocks the caller until it has been applied, matching the required
// lock hierarchy: command queue, then registry write lock, then
// per-file lock, never the reverse.
func (d *Dispatcher) RouteToolCall(req dispatcher.ToolRequested) {
	done := make(chan struct{})
	d.cmds <- routeToolCall{req: req, done: done}
	<-done
}
