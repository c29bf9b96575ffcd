package cli

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/docprocd/docprocd/internal/store"
)

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

func TestExportRunWritesVerifiedSingleDocumentsAndMarksBatchExported(t *testing.T) {
	dir := t.TempDir()
	setTestEnv(t, dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "intake"), 0o755))

	c, err := wire()
	require.NoError(t, err)
	defer c.store.Close()

	ctx := context.Background()
	batch, err := c.store.CreateBatch(ctx, store.KindSingleDocumentBatch, store.StatusPendingExport)
	require.NoError(t, err)

	pdfPath := filepath.Join(dir, "searchable.pdf")
	require.NoError(t, os.WriteFile(pdfPath, []byte("%PDF-1.4 fake searchable pdf"), 0o644))

	id, err := c.store.UpsertSingleDocument(ctx, &store.SingleDocument{
		BatchID:           batch.ID,
		SourceHash:        "hash-export-1",
		State:             store.StateVerified,
		SearchablePDFPath: nullString(pdfPath),
		FinalCategory:     nullString("Invoice"),
		FinalFilename:     nullString("Acme_Invoice_2024"),
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, runExportRun(cmd, nil))
	require.Contains(t, out.String(), "wrote")

	updated, err := c.store.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusExported, updated.Status)

	require.FileExists(t, filepath.Join(dir, "filing-cabinet", "Invoice", "Acme_Invoice_2024.pdf"))
}

func TestExportRunReportsNoBatchesAwaitingExport(t *testing.T) {
	dir := t.TempDir()
	setTestEnv(t, dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "intake"), 0o755))

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, runExportRun(cmd, nil))
	require.Contains(t, out.String(), "no batches awaiting export")
}
