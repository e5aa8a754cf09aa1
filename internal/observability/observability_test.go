package observability

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weave-editor/weave/internal/weaveerr"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "observability.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordToolCallRequested_ThenDone_DerivesLatency(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.RecordToolCallRequested(ctx, ToolCallRequestedRecord{
		RequestID: "r1", CallID: "c1", Vendor: "anthropic", ToolName: "apply_code_edit",
		ArgsHash: "h1", ArgumentsJSON: `{"x":1}`, ValidityTime: 1000,
	}))

	require.NoError(t, s.RecordToolCallDone(ctx, ToolCallDoneRecord{
		RequestID: "r1", CallID: "c1", Status: ToolCallCompleted,
		EndedAt: 1250, OutcomeJSON: `{"ok":true}`, ValidityTime: 1250,
	}))

	status, latency, ok, err := s.CurrentToolCall(ctx, "r1", "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, string(ToolCallCompleted), status)
	assert.Equal(t, int64(250), latency)
}

func TestRecordToolCallRequested_IdenticalRedeliveryIsNoOp(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	rec := ToolCallRequestedRecord{
		RequestID: "r1", CallID: "c1", Vendor: "anthropic", ToolName: "apply_code_edit",
		ArgsHash: "h1", ArgumentsJSON: `{"x":1}`, ValidityTime: 1000,
	}
	require.NoError(t, s.RecordToolCallRequested(ctx, rec))

	rec2 := rec
	rec2.ValidityTime = 2000
	require.NoError(t, s.RecordToolCallRequested(ctx, rec2))

	status, _, ok, err := s.CurrentToolCall(ctx, "r1", "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, string(ToolCallRequested), status)
}

func TestRecordToolCallRequested_RejectedWhenAlreadyTerminal(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.RecordToolCallRequested(ctx, ToolCallRequestedRecord{
		RequestID: "r1", CallID: "c1", Vendor: "anthropic", ToolName: "apply_code_edit",
		ArgsHash: "h1", ValidityTime: 1000,
	}))
	require.NoError(t, s.RecordToolCallDone(ctx, ToolCallDoneRecord{
		RequestID: "r1", CallID: "c1", Status: ToolCallCompleted, EndedAt: 1100, ValidityTime: 1100,
	}))

	err := s.RecordToolCallRequested(ctx, ToolCallRequestedRecord{
		RequestID: "r1", CallID: "c1", Vendor: "anthropic", ToolName: "apply_code_edit",
		ArgsHash: "h2", ValidityTime: 1200,
	})
	require.Error(t, err)
	werr, ok := weaveerr.As(err)
	require.True(t, ok)
	assert.Equal(t, weaveerr.CodeStateTransition, werr.Code)
}

func TestRecordToolCallDone_RejectedWithoutRequestedRow(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	err := s.RecordToolCallDone(ctx, ToolCallDoneRecord{
		RequestID: "missing", CallID: "c1", Status: ToolCallCompleted, EndedAt: 1000, ValidityTime: 1000,
	})
	require.Error(t, err)
	werr, ok := weaveerr.As(err)
	require.True(t, ok)
	assert.Equal(t, weaveerr.CodeNotFound, werr.Code)
}

func TestRecordToolCallDone_RejectedWhenAlreadyTerminal(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.RecordToolCallRequested(ctx, ToolCallRequestedRecord{
		RequestID: "r1", CallID: "c1", ValidityTime: 1000,
	}))
	require.NoError(t, s.RecordToolCallDone(ctx, ToolCallDoneRecord{
		RequestID: "r1", CallID: "c1", Status: ToolCallFailed, EndedAt: 1100, ValidityTime: 1100,
	}))

	err := s.RecordToolCallDone(ctx, ToolCallDoneRecord{
		RequestID: "r1", CallID: "c1", Status: ToolCallCompleted, EndedAt: 1200, ValidityTime: 1200,
	})
	require.Error(t, err)
	werr, ok := weaveerr.As(err)
	require.True(t, ok)
	assert.Equal(t, weaveerr.CodeStateTransition, werr.Code)
}

func TestCurrentToolCall_MissingReturnsNotOk(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, _, ok, err := s.CurrentToolCall(ctx, "nope", "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordConversationTurn_AppendOnly(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.RecordConversationTurn(ctx, ConversationTurnRecord{
		ID: "turn-1", Kind: "user_message", Content: "hello", ThreadID: "t1", ValidityTime: 1000,
	}))
	require.NoError(t, s.RecordConversationTurn(ctx, ConversationTurnRecord{
		ID: "turn-1", Kind: "user_message", Content: "hello edited", ThreadID: "t1", ValidityTime: 2000,
	}))
}

func TestRecordProposalSnapshot_MultipleTransitionsAccumulate(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.RecordProposalSnapshot(ctx, "req-1", "pending", `["a.rs"]`, "", 1000))
	require.NoError(t, s.RecordProposalSnapshot(ctx, "req-1", "approved", `["a.rs"]`, "", 1100))
	require.NoError(t, s.RecordProposalSnapshot(ctx, "req-1", "applied", `["a.rs"]`, "", 1200))
}
