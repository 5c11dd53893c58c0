package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcher_NudgesAfterChange(t *testing.T) {
	root := t.TempDir()
	nudge := make(chan struct{}, 1)

	w, err := NewWatcher(root, nudge)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		w.Start(ctx) //nolint:errcheck
		close(done)
	}()

	// Let the watch settle before touching the tree.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "new.mp3"), []byte("x"), 0o644))

	select {
	case <-nudge:
	case <-time.After(3 * time.Second):
		t.Fatal("no nudge after filesystem change")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}

func TestWatcher_CoalescesBursts(t *testing.T) {
	root := t.TempDir()
	nudge := make(chan struct{}, 8)

	w, err := NewWatcher(root, nudge)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx) //nolint:errcheck

	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "burst.mp3"), []byte{byte(i)}, 0o644))
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case <-nudge:
	case <-time.After(3 * time.Second):
		t.Fatal("no nudge after burst")
	}

	// The burst fell inside one debounce window: a single nudge.
	time.Sleep(2 * debounceInterval)
	require.Empty(t, nudge)
}
