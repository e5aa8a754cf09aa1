package rescan

// fsnotify spawns platform-specific goroutines that goleak cannot
// reliably track, so this package's tests skip goleak verification
// and rely on integration-level coverage instead.

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weave-editor/weave/internal/eventbus"
)

func TestNew_ArmsWatchFromRescanEvent(t *testing.T) {
	dir := t.TempDir()
	sub := make(chan eventbus.Envelope, 1)

	w, err := New(sub)
	require.NoError(t, err)
	defer w.Close()

	sub <- eventbus.Envelope{
		Priority: eventbus.PriorityBackground,
		Payload:  eventbus.PostApplyRescan{Files: []string{filepath.Join(dir, "a.rs")}},
	}

	require.Eventually(t, func() bool {
		return w.fs.WatchList() != nil && len(w.fs.WatchList()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestNew_IgnoresNonRescanPayloads(t *testing.T) {
	sub := make(chan eventbus.Envelope, 1)

	w, err := New(sub)
	require.NoError(t, err)
	defer w.Close()

	sub <- eventbus.Envelope{Priority: eventbus.PriorityRealtime, Payload: "not a rescan"}

	time.Sleep(20 * time.Millisecond)
	require.Empty(t, w.fs.WatchList())
}

func TestClose_StopsLoop(t *testing.T) {
	sub := make(chan eventbus.Envelope)
	w, err := New(sub)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}
