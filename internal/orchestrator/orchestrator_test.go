package orchestrator

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/docprocd/docprocd/internal/normalize"
	"github.com/docprocd/docprocd/internal/ocr"
	"github.com/docprocd/docprocd/internal/store"
)

func writeTestPNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 30, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 30; x++ {
			img.Set(x, y, color.White)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "docprocd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestRuntime(t *testing.T) (*Runtime, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	cache, err := normalize.NewCache(filepath.Join(dir, "normalized"))
	require.NoError(t, err)
	detector := normalize.NewDetector(cache, nil)

	s := openTestStore(t)
	pipeline := ocr.NewPipeline(s, nil, nil, ocr.Config{FastTestMode: true}, zap.NewNop())

	rt := NewRuntime(s, detector, pipeline, Config{Concurrency: 2, TokenTTL: 50 * time.Millisecond}, zap.NewNop())
	return rt, s
}

func drain(events <-chan Event) []Event {
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestStartRunProcessesSingleDocumentsAndEmitsTerminalEvent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rt, s := newTestRuntime(t)
	dir := t.TempDir()

	var paths []string
	for i := 0; i < 3; i++ {
		p := filepath.Join(dir, "page"+string(rune('a'+i))+".png")
		writeTestPNG(t, p)
		paths = append(paths, p)
	}

	token, events := rt.StartRun(paths)
	require.NotEmpty(t, token)

	received := drain(events)
	require.NotEmpty(t, received)

	terminal := received[len(received)-1]
	require.True(t, terminal.Terminal)
	require.Equal(t, PhaseFinalize, terminal.Phase)
	require.NotZero(t, terminal.SingleBatchID)

	docs, err := s.ListSingleDocumentsByBatch(context.Background(), terminal.SingleBatchID)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	for _, d := range docs {
		require.Equal(t, store.StateAIDone, d.State)
	}
}

func TestCancelledRunEndsWithTerminalEvent(t *testing.T) {
	rt, _ := newTestRuntime(t)
	dir := t.TempDir()

	var paths []string
	for i := 0; i < 5; i++ {
		p := filepath.Join(dir, "page"+string(rune('a'+i))+".png")
		writeTestPNG(t, p)
		paths = append(paths, p)
	}

	token, events := rt.StartRun(paths)
	rt.Cancel(token)

	received := drain(events)
	require.NotEmpty(t, received)
	terminal := received[len(received)-1]
	require.True(t, terminal.Terminal)
	require.Contains(t, []string{PhaseCancelled, PhaseFinalize}, terminal.Phase)
}

func TestCancelReturnsFalseForUnknownToken(t *testing.T) {
	rt, _ := newTestRuntime(t)
	require.False(t, rt.Cancel("does-not-exist"))
}

func TestCleanupExpiredRemovesFinishedRunsPastTTL(t *testing.T) {
	rt, _ := newTestRuntime(t)
	dir := t.TempDir()

	p := filepath.Join(dir, "solo.png")
	writeTestPNG(t, p)

	token, events := rt.StartRun([]string{p})
	drain(events)

	time.Sleep(60 * time.Millisecond)
	removed := rt.CleanupExpired()
	require.GreaterOrEqual(t, removed, 1)
	require.False(t, rt.Cancel(token))
}
