/**
 * `docprocd export run`: one-shot export-assembler pass over every batch
 * currently awaiting export, driving the same Assembler the verify/group
 * API path would trigger interactively (spec §4.6 "Export is idempotent at
 * the batch level").
 */

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docprocd/docprocd/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export operations",
}

var exportRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Assemble final categorized PDFs for every batch awaiting export",
	RunE:  runExportRun,
}

func init() {
	exportCmd.AddCommand(exportRunCmd)
}

func runExportRun(cmd *cobra.Command, _ []string) error {
	c, err := wire()
	if err != nil {
		return err
	}
	defer c.store.Close()

	ctx := context.Background()
	batches, err := c.store.ListBatchesByStatus(ctx, store.StatusPendingExport)
	if err != nil {
		return fmt.Errorf("listing batches awaiting export: %w", err)
	}
	if len(batches) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no batches awaiting export")
		return nil
	}

	for _, batch := range batches {
		if err := exportBatch(ctx, c, cmd, batch); err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "batch %d: FAILED: %v\n", batch.ID, err)
			continue
		}
	}
	return nil
}

func exportBatch(ctx context.Context, c *components, cmd *cobra.Command, batch *store.Batch) error {
	switch batch.Kind {
	case store.KindSingleDocumentBatch:
		docs, err := c.store.ListSingleDocumentsByBatch(ctx, batch.ID)
		if err != nil {
			return fmt.Errorf("listing single documents: %w", err)
		}
		for _, doc := range docs {
			if doc.State != store.StateVerified {
				continue
			}
			dest, err := c.assembler.ExportSingleDocument(ctx, doc)
			if err != nil {
				return fmt.Errorf("document %d: %w", doc.ID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "batch %d: wrote %s\n", batch.ID, dest)
		}
	case store.KindGroupedBatch:
		docs, err := c.store.ListGroupedDocumentsByBatch(ctx, batch.ID)
		if err != nil {
			return fmt.Errorf("listing grouped documents: %w", err)
		}
		for _, doc := range docs {
			if doc.State != store.StateOrdered {
				continue
			}
			dest, err := c.assembler.ExportGroupedDocument(ctx, doc)
			if err != nil {
				return fmt.Errorf("document %d: %w", doc.ID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "batch %d: wrote %s\n", batch.ID, dest)
		}
	default:
		return fmt.Errorf("unknown batch kind %q", batch.Kind)
	}

	if err := c.store.UpdateBatchStatus(ctx, batch.ID, store.StatusExported); err != nil {
		return fmt.Errorf("marking batch exported: %w", err)
	}
	return nil
}
