// Package eventbus implements the two-priority broadcast bus that
// decouples the Tool Dispatcher, Edit Staging Handler, and Approval
// Executor from whatever external surface (CLI, UI, log sink) consumes
// their lifecycle events. Realtime events are user-visible terminal
// outcomes; background events are intermediate, higher-volume traffic.
package eventbus

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/weave-editor/weave/internal/dispatcher"
	"github.com/weave-editor/weave/internal/logging"
)

// Priority selects which of the two broadcast channels an event travels on.
type Priority int

const (
	PriorityRealtime Priority = iota
	PriorityBackground
)

const (
	realtimeCapacity   = 100
	backgroundCapacity = 1000
)

func capacityFor(p Priority) int {
	if p == PriorityRealtime {
		return realtimeCapacity
	}
	return backgroundCapacity
}

// Envelope wraps a published event with the priority it travelled on.
type Envelope struct {
	Priority Priority
	Payload  any
}

// Bus is a broadcast fan-out: every subscriber on a priority receives
// every event published to it, in publication order. A subscriber whose
// channel is full does not block the publisher or other subscribers —
// its event for that slot is dropped and a rate-limited diagnostic is
// logged instead.
type Bus struct {
	mu             sync.RWMutex
	realtimeSubs   []chan Envelope
	backgroundSubs []chan Envelope

	lagLimiter *rate.Limiter
	log        *logging.Logger
}

// New creates an empty Bus with no subscribers. Lag diagnostics are
// rate-limited to at most once per second.
func New() *Bus {
	return &Bus{
		lagLimiter: rate.NewLimiter(rate.Limit(1), 1),
		log:        logging.Get(logging.CategoryEventBus),
	}
}

// Subscribe registers a new subscriber on priority p and returns its
// receive-only channel, sized to the priority's configured capacity.
func (b *Bus) Subscribe(p Priority) <-chan Envelope {
	ch := make(chan Envelope, capacityFor(p))
	b.mu.Lock()
	defer b.mu.Unlock()
	if p == PriorityRealtime {
		b.realtimeSubs = append(b.realtimeSubs, ch)
	} else {
		b.backgroundSubs = append(b.backgroundSubs, ch)
	}
	return ch
}

// Publish broadcasts payload to every subscriber on priority p, in the
// order Publish is called. A full subscriber channel never blocks this
// call; that subscriber's event is dropped instead.
func (b *Bus) Publish(p Priority, payload any) {
	b.mu.RLock()
	subs := b.realtimeSubs
	if p == PriorityBackground {
		subs = b.backgroundSubs
	}
	snapshot := append([]chan Envelope(nil), subs...)
	b.mu.RUnlock()

	env := Envelope{Priority: p, Payload: payload}
	for _, ch := range snapshot {
		select {
		case ch <- env:
		default:
			b.reportLag(p)
		}
	}
}

func (b *Bus) reportLag(p Priority) {
	if b.lagLimiter.Allow() {
		b.log.Warn("subscriber channel full on priority %d; dropping event for that subscriber", p)
	}
}

// PostApplyRescan is the background event published after a successful apply.
type PostApplyRescan struct {
	RequestID uuid.UUID
	Files     []string
}

// ToolRequestedEvent is the background event type for an arriving tool
// call. No package in this module publishes it.
type ToolRequestedEvent struct {
	Event dispatcher.ToolRequested
}

// DispatcherSink adapts a Bus to dispatcher.Sink: ToolCompleted and
// ToolFailed are user-visible terminal outcomes, so they travel on the
// realtime channel.
type DispatcherSink struct{ Bus *Bus }

func (s DispatcherSink) PublishCompleted(c dispatcher.ToolCompleted) {
	s.Bus.Publish(PriorityRealtime, c)
}

func (s DispatcherSink) PublishFailed(e dispatcher.ToolFailed) {
	s.Bus.Publish(PriorityRealtime, e)
}

// ApprovalSink adapts a Bus to approval.Sink: outcomes are realtime,
// the rescan signal is background (intermediate, non-user-facing work).
type ApprovalSink struct{ Bus *Bus }

func (s ApprovalSink) PublishCompleted(c dispatcher.ToolCompleted) {
	s.Bus.Publish(PriorityRealtime, c)
}

func (s ApprovalSink) PublishFailed(e dispatcher.ToolFailed) {
	s.Bus.Publish(PriorityRealtime, e)
}

func (s ApprovalSink) PublishRescan(requestID uuid.UUID, files []string) {
	s.Bus.Publish(PriorityBackground, PostApplyRescan{RequestID: requestID, Files: files})
}
