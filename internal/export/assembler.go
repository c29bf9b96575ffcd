/**
 * Export Assembler (spec §4.6): writes verified batches to the filing
 * cabinet with deterministic, collision-safe names.
 *
 * Grounded on the teacher's storage_manager.go (copy-then-verify-by-hash
 * idiom) and pdfcpu's page-level API (RotateFile/TrimFile/MergeCreateFile,
 * same family as the Intake Detector's PageCountFile) for GroupedDocument
 * page carve-out and reassembly.
 */

package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"go.uber.org/zap"

	"github.com/docprocd/docprocd/internal/classify"
	"github.com/docprocd/docprocd/internal/normalize"
	"github.com/docprocd/docprocd/internal/pipelineerr"
	"github.com/docprocd/docprocd/internal/store"
)

// Assembler writes verified documents into the filing cabinet.
type Assembler struct {
	cabinetDir string
	cache      *normalize.Cache
	store      *store.Store
	tagClient  *classify.Client
	enableTags bool
	logger     *zap.Logger
}

// NewAssembler builds an Assembler. tagClient may be nil (tag extraction is
// then always skipped regardless of enableTags).
func NewAssembler(cabinetDir string, cache *normalize.Cache, s *store.Store, tagClient *classify.Client, enableTags bool, logger *zap.Logger) *Assembler {
	return &Assembler{cabinetDir: cabinetDir, cache: cache, store: s, tagClient: tagClient, enableTags: enableTags, logger: logger}
}

// ExportSingleDocument copies doc's searchable PDF to
// <cabinet>/<category>/<filename>.pdf, honoring idempotent-with-backfill
// semantics (spec §9 "Re-export of an already-exported batch"): an existing
// destination with matching size+hash is left untouched; a missing one is
// written; a mismatching one is treated as a naming collision.
func (a *Assembler) ExportSingleDocument(ctx context.Context, doc *store.SingleDocument) (string, error) {
	if !doc.SearchablePDFPath.Valid || doc.SearchablePDFPath.String == "" {
		return "", pipelineerr.NewUserInput("document has no searchable pdf to export", nil).WithArtifact(doc.SourceHash, fmt.Sprint(doc.ID))
	}

	category := category(doc)
	filename := filename(doc)

	destDir := filepath.Join(a.cabinetDir, SanitizeDirName(category))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", pipelineerr.NewFatal("creating category directory", err)
	}

	destPath, err := a.placeFile(doc.SearchablePDFPath.String, destDir, SanitizeFilename(filename), ".pdf")
	if err != nil {
		return "", err
	}

	if a.enableTags && a.tagClient != nil && doc.OCRText.Valid {
		a.extractAndLogTags(ctx, doc.BatchID, doc.OCRText.String)
	}

	return destPath, nil
}

// ExportGroupedDocument concatenates the rotated pages of a GroupedDocument
// (carved from a batch-scan artifact) into a new PDF at its destination.
func (a *Assembler) ExportGroupedDocument(ctx context.Context, doc *store.GroupedDocument) (string, error) {
	pages, err := a.store.ListPages(ctx, doc.ID)
	if err != nil {
		return "", pipelineerr.NewTransient("listing grouped document pages", err)
	}
	if len(pages) == 0 {
		return "", pipelineerr.NewUserInput("grouped document has no pages", nil).WithArtifact("", fmt.Sprint(doc.ID))
	}

	tmpDir, err := os.MkdirTemp("", "docprocd-export-*")
	if err != nil {
		return "", pipelineerr.NewFatal("creating export scratch dir", err)
	}
	defer os.RemoveAll(tmpDir)

	pagePaths := make([]string, 0, len(pages))
	for i, p := range pages {
		srcPath, found, err := a.cache.Lookup(p.ArtifactHash)
		if err != nil {
			return "", pipelineerr.NewTransient("locating normalized source artifact", err)
		}
		if !found {
			return "", pipelineerr.NewFatal(fmt.Sprintf("normalized artifact %s missing from cache", p.ArtifactHash), nil)
		}

		pagePath, err := a.extractRotatedPage(srcPath, p.ArtifactHash, p.PageIndex, tmpDir, i)
		if err != nil {
			return "", err
		}
		pagePaths = append(pagePaths, pagePath)
	}

	category := groupedCategory(doc)
	filename := SanitizeFilename(doc.Name)

	destDir := filepath.Join(a.cabinetDir, SanitizeDirName(category))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", pipelineerr.NewFatal("creating category directory", err)
	}

	assembled := filepath.Join(tmpDir, "assembled.pdf")
	if len(pagePaths) == 1 {
		if err := copyFile(pagePaths[0], assembled); err != nil {
			return "", pipelineerr.NewFatal("copying single-page grouped document", err)
		}
	} else if err := api.MergeCreateFile(pagePaths, assembled, false, nil); err != nil {
		return "", pipelineerr.NewFatal("merging grouped document pages", err)
	}

	destPath, err := a.placeFile(assembled, destDir, filename, ".pdf")
	if err != nil {
		return "", err
	}

	return destPath, nil
}

// extractRotatedPage trims a single page out of srcPath and applies its
// persisted RotationOverride (spec §9 "Grouped rotation serving route").
func (a *Assembler) extractRotatedPage(srcPath, artifactHash string, pageIndex int, tmpDir string, ordinal int) (string, error) {
	trimmed := filepath.Join(tmpDir, fmt.Sprintf("page-%d-trim.pdf", ordinal))
	pageSelector := []string{fmt.Sprint(pageIndex + 1)}
	if err := api.TrimFile(srcPath, trimmed, pageSelector, nil); err != nil {
		return "", pipelineerr.NewFatal(fmt.Sprintf("extracting page %d", pageIndex), err)
	}

	angle, found, err := a.store.GetRotationOverride(context.Background(), artifactHash, pageIndex)
	if err != nil {
		return "", pipelineerr.NewTransient("reading rotation override", err)
	}
	if !found || angle == 0 {
		return trimmed, nil
	}

	rotated := filepath.Join(tmpDir, fmt.Sprintf("page-%d-rotated.pdf", ordinal))
	if err := api.RotateFile(trimmed, rotated, angle, nil, nil); err != nil {
		return "", pipelineerr.NewFatal(fmt.Sprintf("rotating page %d", pageIndex), err)
	}
	return rotated, nil
}

// placeFile resolves the final destination name under destDir (idempotent
// if an identical file already exists there, suffixed on mismatch) and
// copies src into place.
func (a *Assembler) placeFile(src, destDir, base, ext string) (string, error) {
	srcHash, srcSize, err := hashAndSize(src)
	if err != nil {
		return "", pipelineerr.NewFatal("hashing export source", err)
	}

	name := ResolveCollision(base, ext, func(candidate string) bool {
		destPath := filepath.Join(destDir, candidate)
		existingHash, existingSize, err := hashAndSize(destPath)
		if err != nil {
			return false // does not exist (or unreadable): not a collision
		}
		if existingHash == srcHash && existingSize == srcSize {
			return false // identical file already in place: reuse this name, no-op copy
		}
		return true
	})

	destPath := filepath.Join(destDir, name)
	if _, err := os.Stat(destPath); err == nil {
		existingHash, existingSize, err := hashAndSize(destPath)
		if err == nil && existingHash == srcHash && existingSize == srcSize {
			return destPath, nil // already exported, byte-identical: no-op
		}
	}

	if err := copyFile(src, destPath); err != nil {
		return "", pipelineerr.NewFatal("copying export output", err)
	}

	destHash, destSize, err := hashAndSize(destPath)
	if err != nil || destHash != srcHash || destSize != srcSize {
		_ = os.Remove(destPath)
		return "", pipelineerr.NewFatal("export copy failed verification", err)
	}

	return destPath, nil
}

func (a *Assembler) extractAndLogTags(ctx context.Context, batchID int64, text string) {
	tags, err := a.tagClient.ExtractTags(ctx, text)
	if err != nil {
		a.logger.Warn("tag extraction failed, continuing without tags", zap.Error(err))
		return
	}
	_ = a.store.AppendInteractionLog(ctx, &batchID, "tags_extracted", map[string]interface{}{
		"people":            tags.People,
		"organizations":     tags.Organizations,
		"places":            tags.Places,
		"dates":             tags.Dates,
		"document_types":    tags.DocumentTypes,
		"keywords":          tags.Keywords,
		"amounts":           tags.Amounts,
		"reference_numbers": tags.ReferenceNumbers,
	})
}

func category(doc *store.SingleDocument) string {
	if doc.FinalCategory.Valid && doc.FinalCategory.String != "" {
		return doc.FinalCategory.String
	}
	if doc.AICategory.Valid && doc.AICategory.String != "" {
		return doc.AICategory.String
	}
	return "Uncategorized"
}

func filename(doc *store.SingleDocument) string {
	if doc.FinalFilename.Valid && doc.FinalFilename.String != "" {
		return doc.FinalFilename.String
	}
	if doc.AIFilename.Valid && doc.AIFilename.String != "" {
		return doc.AIFilename.String
	}
	return fmt.Sprintf("document_%d", doc.ID)
}

func groupedCategory(doc *store.GroupedDocument) string {
	if doc.FinalCategory.Valid && doc.FinalCategory.String != "" {
		return doc.FinalCategory.String
	}
	return "Uncategorized"
}

func hashAndSize(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + fmt.Sprintf(".tmp-%d", os.Getpid())
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
