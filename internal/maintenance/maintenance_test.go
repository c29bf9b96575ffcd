package maintenance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docprocd/docprocd/internal/normalize"
	"github.com/docprocd/docprocd/internal/store"
)

type fakeTokenCleaner struct {
	calls int
}

func (f *fakeTokenCleaner) CleanupExpired() int {
	f.calls++
	return 0
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "docprocd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunStartupSweepRemovesEmptyProcessingBatches(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.CreateBatch(ctx, store.KindSingleDocumentBatch, store.StatusPendingProcessing)
	require.NoError(t, err)

	cacheDir := filepath.Join(t.TempDir(), "normalized")
	cache, err := normalize.NewCache(cacheDir)
	require.NoError(t, err)

	guard := store.NewBatchGuard(s)
	tokens := &fakeTokenCleaner{}
	r := NewRunner(cache, guard, tokens, Config{}, zap.NewNop())

	r.startupSweep(ctx)

	_, err = s.GetBatch(ctx, created.ID)
	require.Error(t, err)

	id, err := guard.GetOrCreateProcessingBatch(ctx, store.KindSingleDocumentBatch)
	require.NoError(t, err)
	require.NotZero(t, id)
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	s := openTestStore(t)
	cache, err := normalize.NewCache(filepath.Join(t.TempDir(), "normalized"))
	require.NoError(t, err)
	guard := store.NewBatchGuard(s)
	tokens := &fakeTokenCleaner{}

	r := NewRunner(cache, guard, tokens, Config{
		NormalizedCacheGCInterval: time.Millisecond,
		SmartTokenCleanupInterval: time.Millisecond,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return tokens.calls > 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}

func TestRunCacheGCEvictsStaleEntries(t *testing.T) {
	s := openTestStore(t)
	dir := t.TempDir()
	cache, err := normalize.NewCache(dir)
	require.NoError(t, err)

	_, err = cache.Put("stalehash", []byte("%PDF-1.4 fake"))
	require.NoError(t, err)

	guard := store.NewBatchGuard(s)
	tokens := &fakeTokenCleaner{}
	r := NewRunner(cache, guard, tokens, Config{NormalizedCacheMaxAge: time.Nanosecond}, zap.NewNop())

	time.Sleep(5 * time.Millisecond)
	r.runCacheGC()

	_, found, err := cache.Lookup("stalehash")
	require.NoError(t, err)
	require.False(t, found)
}
