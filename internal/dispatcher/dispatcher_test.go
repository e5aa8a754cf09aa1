package dispatcher

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weave-editor/weave/internal/weaveerr"
)

type fakeChecker struct {
	seen map[uuid.UUID]bool
}

func (f *fakeChecker) Seen(id uuid.UUID) bool { return f.seen[id] }

type fakeSink struct {
	completed []ToolCompleted
	failed    []ToolFailed
}

func (f *fakeSink) PublishCompleted(c ToolCompleted) { f.completed = append(f.completed, c) }
func (f *fakeSink) PublishFailed(e ToolFailed)       { f.failed = append(f.failed, e) }

func TestDispatch_RoutesToRegisteredHandler(t *testing.T) {
	sink := &fakeSink{}
	d := New(&fakeChecker{seen: map[uuid.UUID]bool{}}, sink)

	called := false
	d.RegisterHandler("ping", func(ctx context.Context, req ToolRequested) (any, error) {
		called = true
		return "pong", nil
	})

	reqID := uuid.New()
	d.Dispatch(context.Background(), ToolRequested{Name: "ping", RequestID: reqID, CallID: "c1"})

	assert.True(t, called)
	require.Len(t, sink.completed, 1)
	assert.Equal(t, "pong", sink.completed[0].OutcomeRaw)
	assert.Empty(t, sink.failed)
}

func TestDispatch_DuplicateRequestIDSkipsHandler(t *testing.T) {
	reqID := uuid.New()
	sink := &fakeSink{}
	d := New(&fakeChecker{seen: map[uuid.UUID]bool{reqID: true}}, sink)

	called := false
	d.RegisterHandler("ping", func(ctx context.Context, req ToolRequested) (any, error) {
		called = true
		return "pong", nil
	})

	d.Dispatch(context.Background(), ToolRequested{Name: "ping", RequestID: reqID, CallID: "c1"})

	assert.False(t, called)
	require.Len(t, sink.failed, 1)
	assert.Equal(t, "duplicate", sink.failed[0].Error.Message)
}

func TestDispatch_UnknownToolNameFails(t *testing.T) {
	sink := &fakeSink{}
	d := New(&fakeChecker{seen: map[uuid.UUID]bool{}}, sink)

	d.Dispatch(context.Background(), ToolRequested{Name: "nonexistent", RequestID: uuid.New()})

	require.Len(t, sink.failed, 1)
	assert.NotEmpty(t, sink.failed[0].Error.RetryHint)
}

func TestDispatch_HandlerErrorAdaptsToToolError(t *testing.T) {
	sink := &fakeSink{}
	d := New(&fakeChecker{seen: map[uuid.UUID]bool{}}, sink)

	d.RegisterHandler("fail", func(ctx context.Context, req ToolRequested) (any, error) {
		return nil, weaveerr.Domainf(weaveerr.CodeOutOfRange, "bad range").WithRetryHint("fix the range")
	})

	d.Dispatch(context.Background(), ToolRequested{Name: "fail", RequestID: uuid.New()})

	require.Len(t, sink.failed, 1)
	assert.Equal(t, weaveerr.Domain, sink.failed[0].Error.Kind)
	assert.Equal(t, "fix the range", sink.failed[0].Error.RetryHint)
}

func TestRegisterHandler_DuplicatePanics(t *testing.T) {
	d := New(&fakeChecker{seen: map[uuid.UUID]bool{}}, &fakeSink{})
	d.RegisterHandler("ping", func(ctx context.Context, req ToolRequested) (any, error) { return nil, nil })

	assert.Panics(t, func() {
		d.RegisterHandler("ping", func(ctx context.Context, req ToolRequested) (any, error) { return nil, nil })
	})
}
