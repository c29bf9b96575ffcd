package normalize

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestDetectKindByMagicBytes(t *testing.T) {
	require.Equal(t, KindPDF, detectKind([]byte("%PDF-1.7\n..."), "whatever.bin"))
	require.Equal(t, KindImage, detectKind([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0}, "whatever.bin"))
	require.Equal(t, KindImage, detectKind([]byte{0xFF, 0xD8, 0xFF, 0xE0}, "whatever.bin"))
	require.Equal(t, KindUnknown, detectKind([]byte("not a known format"), "whatever.bin"))
}

// TestImageNormalizationIsIdempotent covers spec §8 property 1 and scenario
// S2: normalizing the same image content twice reuses the cached PDF on the
// second call and never re-renders.
func TestImageNormalizationIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewCache(filepath.Join(dir, "cache"))
	require.NoError(t, err)

	imgPath := filepath.Join(dir, "page.png")
	writePNG(t, imgPath, 40, 30)

	d := NewDetector(cache, nil)

	a1, err := d.Analyze(imgPath)
	require.NoError(t, err)
	require.Equal(t, KindImage, a1.Kind)
	require.False(t, a1.Reused)
	require.Equal(t, StrategySingleDocument, a1.Strategy)
	require.FileExists(t, a1.NormalizedPath)

	a2, err := d.Analyze(imgPath)
	require.NoError(t, err)
	require.True(t, a2.Reused)
	require.Equal(t, a1.NormalizedPath, a2.NormalizedPath)
	require.Equal(t, a1.ContentHash, a2.ContentHash)
}

func TestAnalyzeRejectsZeroByteFile(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewCache(filepath.Join(dir, "cache"))
	require.NoError(t, err)

	empty := filepath.Join(dir, "empty.pdf")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	d := NewDetector(cache, nil)
	_, err = d.Analyze(empty)
	require.Error(t, err)
}

func TestAnalyzeRejectsUnknownKind(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewCache(filepath.Join(dir, "cache"))
	require.NoError(t, err)

	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("just some plain text, not a document"), 0o644))

	d := NewDetector(cache, nil)
	_, err = d.Analyze(path)
	require.Error(t, err)
}

func TestHeuristicScoreFilenameTokens(t *testing.T) {
	scoreSingle, _, reasonsSingle := heuristicScore("invoice_2024.pdf", 2, 0.5, nil)
	require.Greater(t, scoreSingle, 0)
	require.NotEmpty(t, reasonsSingle)

	scoreBatch, _, reasonsBatch := heuristicScore("scan_batch_001.pdf", 30, 8, nil)
	require.Less(t, scoreBatch, 0)
	require.NotEmpty(t, reasonsBatch)
}

func TestHeuristicStrategyTiesTowardBatchScan(t *testing.T) {
	require.Equal(t, StrategyBatchScan, heuristicStrategy(0))
	require.Equal(t, StrategyBatchScan, heuristicStrategy(-1))
	require.Equal(t, StrategySingleDocument, heuristicStrategy(1))
}

func TestSamplePageNumbers(t *testing.T) {
	require.Equal(t, []int{1}, samplePageNumbers(1))
	require.Equal(t, []int{1, 2}, samplePageNumbers(2))
	require.Equal(t, []int{1, 6, 10}, samplePageNumbers(10))
}

type stubClassifier struct {
	classification string
	confidence     float64
	reasoning      string
	err            error
}

func (s *stubClassifier) AnalyzeDocumentType(samples []string, filename string, pageCount int, sizeMB float64) (string, float64, string, error) {
	return s.classification, s.confidence, s.reasoning, s.err
}

func TestClassifyFallsBackOnClassifierError(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewCache(filepath.Join(dir, "cache"))
	require.NoError(t, err)

	d := NewDetector(cache, &stubClassifier{err: errUnavailable{}})
	strategy, _, reasoning, consulted, err := d.classify("scan.pdf", 10, 2, []string{"", ""})
	require.NoError(t, err)
	require.False(t, consulted)
	require.Equal(t, StrategyBatchScan, strategy)
	require.NotEmpty(t, reasoning)
}

type errUnavailable struct{}

func (errUnavailable) Error() string { return "llm collaborator unavailable" }
