package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type collector struct {
	mu    sync.Mutex
	calls [][]string
}

func (c *collector) onFiles(paths []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, paths)
}

func (c *collector) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		n += len(call)
	}
	return n
}

func TestWatcherReportsNewFileAfterStart(t *testing.T) {
	dir := t.TempDir()
	c := &collector{}

	w, err := New(dir, 20*time.Millisecond, time.Hour, c.onFiles, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	defer func() {
		cancel()
		w.Stop()
	}()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.pdf"), []byte("%PDF-1.4"), 0o644))

	require.Eventually(t, func() bool { return c.total() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherIgnoresFilesPresentBeforeStart(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "existing.pdf"), []byte("%PDF-1.4"), 0o644))

	c := &collector{}
	w, err := New(dir, 20*time.Millisecond, time.Hour, c.onFiles, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	defer func() {
		cancel()
		w.Stop()
	}()

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 0, c.total())
}

func TestWatcherFallsBackToPollingWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	c := &collector{}

	w, err := New(dir, 20*time.Millisecond, 30*time.Millisecond, c.onFiles, zap.NewNop())
	require.NoError(t, err)
	w.usePolling = true // force the polling-only path independent of fsnotify availability

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	defer func() {
		cancel()
		w.Stop()
	}()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "polled.pdf"), []byte("%PDF-1.4"), 0o644))

	require.Eventually(t, func() bool { return c.total() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherDebouncesBurstIntoSingleCallback(t *testing.T) {
	dir := t.TempDir()
	c := &collector{}

	w, err := New(dir, 100*time.Millisecond, time.Hour, c.onFiles, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	defer func() {
		cancel()
		w.Stop()
	}()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "burst"+string(rune('a'+i))+".pdf"), []byte("%PDF-1.4"), 0o644))
	}

	require.Eventually(t, func() bool { return c.total() == 5 }, 2*time.Second, 10*time.Millisecond)

	c.mu.Lock()
	calls := len(c.calls)
	c.mu.Unlock()
	require.Equal(t, 1, calls)
}

func TestStopIsIdempotentWithoutStart(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, time.Second, time.Hour, func([]string) {}, zap.NewNop())
	require.NoError(t, err)
	w.Stop()
	w.Stop()
}
