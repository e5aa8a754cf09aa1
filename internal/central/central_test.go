package central

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/weave-editor/weave/internal/config"
	"github.com/weave-editor/weave/internal/dispatcher"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeApproval struct {
	approved []uuid.UUID
	denied   []uuid.UUID
}

func (f *fakeApproval) HandleApprove(ctx context.Context, id uuid.UUID) { f.approved = append(f.approved, id) }
func (f *fakeApproval) HandleDeny(ctx context.Context, id uuid.UUID)    { f.denied = append(f.denied, id) }

type fakeIORoots struct {
	roots  []string
	policy config.SymlinkPolicy
}

func (f *fakeIORoots) UpdateRoots(roots []string, policy config.SymlinkPolicy) {
	f.roots = roots
	f.policy = policy
}

type fakeChecker struct{ seen map[uuid.UUID]bool }

func (f *fakeChecker) Seen(id uuid.UUID) bool { return f.seen[id] }

type fakeSink struct {
	completed []dispatcher.ToolCompleted
	failed    []dispatcher.ToolFailed
}

func (f *fakeSink) PublishCompleted(c dispatcher.ToolCompleted) { f.completed = append(f.completed, c) }
func (f *fakeSink) PublishFailed(e dispatcher.ToolFailed)       { f.failed = append(f.failed, e) }

// testMesh bundles everything newTestDispatcher wires up, including the
// real Tool Dispatcher the Central Dispatcher delegates RouteToolCall to.
type testMesh struct {
	*Dispatcher
	approval *fakeApproval
	ioRoots  *fakeIORoots
	checker  *fakeChecker
	sink     *fakeSink
	toolDisp *dispatcher.Dispatcher
}

func newTestDispatcher() *testMesh {
	cfg := config.DefaultConfig("/workspace")
	approval := &fakeApproval{}
	ioRoots := &fakeIORoots{}
	checker := &fakeChecker{seen: map[uuid.UUID]bool{}}
	sink := &fakeSink{}
	toolDisp := dispatcher.New(checker, sink)
	d := New(cfg, approval, ioRoots, toolDisp)
	return &testMesh{Dispatcher: d, approval: approval, ioRoots: ioRoots, checker: checker, sink: sink, toolDisp: toolDisp}
}

func TestApprove_RoutesToApprovalExecutor(t *testing.T) {
	m := newTestDispatcher()
	defer m.Stop()

	id := uuid.New()
	m.Approve(id)

	require.Eventually(t, func() bool { return len(m.approval.approved) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, id, m.approval.approved[0])
}

func TestDeny_RoutesToApprovalExecutor(t *testing.T) {
	m := newTestDispatcher()
	defer m.Stop()

	id := uuid.New()
	m.Deny(id)

	require.Eventually(t, func() bool { return len(m.approval.denied) == 1 }, time.Second, time.Millisecond)
}

func TestSetEditingPreviewMode_UpdatesSnapshot(t *testing.T) {
	m := newTestDispatcher()
	defer m.Stop()

	m.SetEditingPreviewMode(config.PreviewUnifiedDiff)

	require.Eventually(t, func() bool {
		return m.Snapshot().Editing.PreviewMode == config.PreviewUnifiedDiff
	}, time.Second, time.Millisecond)
}

func TestSetEditingMaxPreviewLines_UpdatesSnapshot(t *testing.T) {
	m := newTestDispatcher()
	defer m.Stop()

	m.SetEditingMaxPreviewLines(42)

	require.Eventually(t, func() bool {
		return m.Snapshot().Editing.MaxPreviewLines == 42
	}, time.Second, time.Millisecond)
}

func TestSetEditingAutoConfirm_UpdatesSnapshot(t *testing.T) {
	m := newTestDispatcher()
	defer m.Stop()

	m.SetEditingAutoConfirm(true)

	require.Eventually(t, func() bool {
		return m.Snapshot().Editing.AutoConfirm
	}, time.Second, time.Millisecond)
}

func TestUpdateIoRoots_UpdatesConfigAndLiveActor(t *testing.T) {
	m := newTestDispatcher()
	defer m.Stop()

	m.UpdateIoRoots([]string{"/new-root"}, config.SymlinkAllow)

	require.Eventually(t, func() bool { return len(m.ioRoots.roots) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"/new-root"}, m.ioRoots.roots)
	assert.Equal(t, config.SymlinkAllow, m.ioRoots.policy)
	assert.Equal(t, []string{"/new-root"}, m.Snapshot().IO.Roots)
}

func TestDispatchApprove_SameAsApprove(t *testing.T) {
	m := newTestDispatcher()
	defer m.Stop()

	id := uuid.New()
	m.DispatchApprove(id)

	require.Eventually(t, func() bool { return len(m.approval.approved) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, id, m.approval.approved[0])
}

func TestRouteToolCall_UnknownToolPublishesFailed(t *testing.T) {
	m := newTestDispatcher()
	defer m.Stop()

	req := dispatcher.ToolRequested{Name: "no_such_tool", RequestID: uuid.New(), CallID: "c1"}
	m.RouteToolCall(req)

	require.Len(t, m.sink.failed, 1)
	assert.Empty(t, m.sink.completed)
}

func TestRouteToolCall_DuplicateRequestIDPublishesFailed(t *testing.T) {
	m := newTestDispatcher()
	defer m.Stop()

	id := uuid.New()
	m.checker.seen[id] = true
	m.RegisterToolHandler("apply_code_edit", func(ctx context.Context, req dispatcher.ToolRequested) (any, error) {
		t.Fatal("handler should not be invoked for a duplicate request")
		return nil, nil
	})

	m.RouteToolCall(dispatcher.ToolRequested{Name: "apply_code_edit", RequestID: id, CallID: "c1"})

	require.Len(t, m.sink.failed, 1)
}

func TestRouteToolCall_SuccessPublishesCompleted(t *testing.T) {
	m := newTestDispatcher()
	defer m.Stop()

	m.RegisterToolHandler("echo", func(ctx context.Context, req dispatcher.ToolRequested) (any, error) {
		return "ok", nil
	})

	id := uuid.New()
	m.RouteToolCall(dispatcher.ToolRequested{Name: "echo", RequestID: id, CallID: "c1"})

	require.Len(t, m.sink.completed, 1)
	assert.Equal(t, "ok", m.sink.completed[0].OutcomeRaw)
}

func TestRouteToolCall_HandlerErrorPublishesFailed(t *testing.T) {
	m := newTestDispatcher()
	defer m.Stop()

	m.RegisterToolHandler("boom", func(ctx context.Context, req dispatcher.ToolRequested) (any, error) {
		return nil, assertErr{}
	})

	m.RouteToolCall(dispatcher.ToolRequested{Name: "boom", RequestID: uuid.New(), CallID: "c1"})

	require.Len(t, m.sink.failed, 1)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestStop_WaitsForLoopExit(t *testing.T) {
	m := newTestDispatcher()
	m.Stop()
}
