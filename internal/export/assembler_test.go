package export

import (
	"context"
	"database/sql"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docprocd/docprocd/internal/normalize"
	"github.com/docprocd/docprocd/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "docprocd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeTestPNG(t *testing.T, path string, fill color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			img.Set(x, y, fill)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestExportSingleDocumentWritesToCategoryDirectory(t *testing.T) {
	dir := t.TempDir()
	cabinet := filepath.Join(dir, "cabinet")
	s := openTestStore(t)
	ctx := context.Background()

	srcPath := filepath.Join(dir, "searchable.pdf")
	require.NoError(t, os.WriteFile(srcPath, []byte("%PDF-1.4 searchable content"), 0o644))

	batch, err := s.CreateBatch(ctx, store.KindSingleDocumentBatch, store.StatusPendingProcessing)
	require.NoError(t, err)

	doc := &store.SingleDocument{
		BatchID:           batch.ID,
		SourceHash:        "abc123",
		AICategory:        sql.NullString{String: "Invoices", Valid: true},
		AIFilename:        sql.NullString{String: "acme_invoice", Valid: true},
		SearchablePDFPath: sql.NullString{String: srcPath, Valid: true},
		State:             store.StateAIDone,
	}
	id, err := s.UpsertSingleDocument(ctx, doc)
	require.NoError(t, err)
	created, err := s.GetSingleDocument(ctx, id)
	require.NoError(t, err)

	asm := NewAssembler(cabinet, nil, s, nil, false, zap.NewNop())

	destPath, err := asm.ExportSingleDocument(ctx, created)
	require.NoError(t, err)
	require.FileExists(t, destPath)
	require.Equal(t, filepath.Join(cabinet, "Invoices", "acme_invoice.pdf"), destPath)

	destPath2, err := asm.ExportSingleDocument(ctx, created)
	require.NoError(t, err)
	require.Equal(t, destPath, destPath2)
}

func TestExportSingleDocumentBackfillsMismatchWithSuffix(t *testing.T) {
	dir := t.TempDir()
	cabinet := filepath.Join(dir, "cabinet")
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, os.MkdirAll(filepath.Join(cabinet, "Receipts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cabinet, "Receipts", "receipt.pdf"), []byte("stale content"), 0o644))

	srcPath := filepath.Join(dir, "searchable.pdf")
	require.NoError(t, os.WriteFile(srcPath, []byte("%PDF-1.4 fresh content"), 0o644))

	batch, err := s.CreateBatch(ctx, store.KindSingleDocumentBatch, store.StatusPendingProcessing)
	require.NoError(t, err)

	doc := &store.SingleDocument{
		BatchID:           batch.ID,
		SourceHash:        "def456",
		FinalCategory:     sql.NullString{String: "Receipts", Valid: true},
		FinalFilename:     sql.NullString{String: "receipt", Valid: true},
		SearchablePDFPath: sql.NullString{String: srcPath, Valid: true},
		State:             store.StateAIDone,
	}
	id, err := s.UpsertSingleDocument(ctx, doc)
	require.NoError(t, err)
	created, err := s.GetSingleDocument(ctx, id)
	require.NoError(t, err)

	asm := NewAssembler(cabinet, nil, s, nil, false, zap.NewNop())
	destPath, err := asm.ExportSingleDocument(ctx, created)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(cabinet, "Receipts", "receipt_1.pdf"), destPath)
}

func TestExportSingleDocumentRejectsMissingSearchablePDF(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	batch, err := s.CreateBatch(ctx, store.KindSingleDocumentBatch, store.StatusPendingProcessing)
	require.NoError(t, err)

	doc := &store.SingleDocument{BatchID: batch.ID, SourceHash: "nohash", State: store.StateNew}
	id, err := s.UpsertSingleDocument(ctx, doc)
	require.NoError(t, err)
	created, err := s.GetSingleDocument(ctx, id)
	require.NoError(t, err)

	asm := NewAssembler(t.TempDir(), nil, s, nil, false, zap.NewNop())
	_, err = asm.ExportSingleDocument(ctx, created)
	require.Error(t, err)
}

func TestExportGroupedDocumentAssemblesSinglePage(t *testing.T) {
	dir := t.TempDir()
	cache, err := normalize.NewCache(filepath.Join(dir, "normalized"))
	require.NoError(t, err)

	imgPath := filepath.Join(dir, "page0.png")
	writeTestPNG(t, imgPath, color.White)

	detector := normalize.NewDetector(cache, nil)
	analysis, err := detector.Analyze(imgPath)
	require.NoError(t, err)

	s := openTestStore(t)
	ctx := context.Background()
	batch, err := s.CreateBatch(ctx, store.KindGroupedBatch, store.StatusPendingProcessing)
	require.NoError(t, err)

	grouped, err := s.CreateGroupedDocument(ctx, batch.ID, "Smith_Contract")
	require.NoError(t, err)
	_, err = s.AddPage(ctx, grouped.ID, analysis.ContentHash, 0, 0)
	require.NoError(t, err)

	cabinet := filepath.Join(dir, "cabinet")
	asm := NewAssembler(cabinet, cache, s, nil, false, zap.NewNop())

	destPath, err := asm.ExportGroupedDocument(ctx, grouped)
	require.NoError(t, err)
	require.FileExists(t, destPath)
	require.Equal(t, filepath.Join(cabinet, "Uncategorized", "Smith_Contract.pdf"), destPath)
}
