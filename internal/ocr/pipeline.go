/**
 * OCR/AI pipeline (spec §4.2): transform a NormalizedPDF into a searchable
 * PDF plus extracted text and persist results through the Store.
 *
 * Grounded on the teacher's overall ProcessDocument flow
 * (internal/processor/processor.go), restructured around the Store this
 * codebase uses instead of Postgres/Qdrant, and the page-level rotation and
 * tiered-cascade pieces built in this package.
 */

package ocr

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"

	"github.com/docprocd/docprocd/internal/classify"
	"github.com/docprocd/docprocd/internal/pipelineerr"
	"github.com/docprocd/docprocd/internal/store"
)

// RescanMode selects which parts of the pipeline a rescan re-runs (spec
// §4.2 "A rescan operation supports three modes").
type RescanMode string

const (
	RescanOCR       RescanMode = "ocr"
	RescanLLMOnly   RescanMode = "llm_only"
	RescanOCRAndLLM RescanMode = "ocr_and_llm"
)

// Config bundles the tunables this pipeline consults (spec §10).
type Config struct {
	RenderScale       float64
	OverlayTextLimit  int
	PageTimeout       time.Duration
	FastTestMode      bool
	Cascade           CascadeConfig
	LLMRescanThrottle time.Duration
}

// Pipeline runs the per-document OCR/AI algorithm (spec §4.2).
type Pipeline struct {
	store      *store.Store
	cascade    *Cascade
	llm        *classify.Client
	cfg        Config
	logger     *zap.Logger
	lastRescan map[int64]time.Time
}

// NewPipeline wires a Pipeline. llm may be nil, in which case AI
// classification is always skipped (graceful degradation, spec §6).
func NewPipeline(s *store.Store, cascade *Cascade, llm *classify.Client, cfg Config, logger *zap.Logger) *Pipeline {
	return &Pipeline{store: s, cascade: cascade, llm: llm, cfg: cfg, logger: logger, lastRescan: make(map[int64]time.Time)}
}

// Result is the outcome of processing one document (spec §4.2 Outputs).
type Result struct {
	OCRText           string
	SearchablePDFPath string
	AppliedRotation   int
	AICategory        string
	AIFilename        string
	AISummary         string
	State             string
}

// ProcessDocument runs the full OCR/AI pipeline for a single_documents row
// identified by docID, whose source artifact lives at normalizedPath.
func (p *Pipeline) ProcessDocument(ctx context.Context, docID int64, artifactHash, normalizedPath string, forcedRotation *int) (Result, error) {
	doc, err := p.store.GetSingleDocument(ctx, docID)
	if err != nil {
		return Result{}, pipelineerr.NewFatal("loading document for processing", err).WithArtifact(artifactHash, fmt.Sprint(docID))
	}

	sig, err := ComputeSignature(normalizedPath)
	if err != nil {
		return Result{}, pipelineerr.NewFatal("computing ocr signature", err).WithArtifact(artifactHash, fmt.Sprint(docID))
	}

	cached, err := p.store.GetOCRSignature(ctx, documentKey(docID))
	if err != nil {
		return Result{}, pipelineerr.NewTransient("reading cached ocr signature", err)
	}
	if cached != nil && cached.Equal(sig) && doc.SearchablePDFPath.Valid && doc.OCRText.Valid {
		// spec §4.2 step 1: cache hit reuses stored outputs unconditionally.
		return Result{
			OCRText:           doc.OCRText.String,
			SearchablePDFPath: doc.SearchablePDFPath.String,
			AppliedRotation:   doc.Rotation,
			AICategory:        nullOr(doc.AICategory),
			AIFilename:        nullOr(doc.AIFilename),
			State:             doc.State,
		}, nil
	}

	if p.cfg.FastTestMode {
		return p.processFastTestMode(ctx, doc, artifactHash, sig)
	}

	fitzDoc, err := fitz.New(normalizedPath)
	if err != nil {
		return Result{}, pipelineerr.NewFatal("opening normalized pdf for ocr", err).WithArtifact(artifactHash, fmt.Sprint(docID))
	}
	defer fitzDoc.Close()

	rotation, err := p.resolveRotation(ctx, artifactHash, 0, forcedRotation, fitzDoc)
	if err != nil {
		return Result{}, pipelineerr.NewTransient("detecting page rotation", err).WithArtifact(artifactHash, fmt.Sprint(docID))
	}

	text, searchablePath, err := p.ocrAndAssemble(ctx, fitzDoc, rotation)
	if err != nil {
		failed := markFailed(doc, err)
		if _, uerr := p.store.UpsertSingleDocument(ctx, failed); uerr != nil {
			p.logger.Warn("failed to persist failure state", zap.Int64("document_id", docID), zap.Error(uerr))
		}
		return Result{}, err
	}

	result := Result{
		OCRText:           text,
		SearchablePDFPath: searchablePath,
		AppliedRotation:   rotation,
		State:             store.StateOCRDone,
	}

	if err := p.persist(ctx, doc, &result, sig); err != nil {
		return Result{}, err
	}

	if p.llm != nil {
		p.classifyDocument(ctx, doc, &result)
		if err := p.persist(ctx, doc, &result, sig); err != nil {
			return Result{}, err
		}
	}

	return result, nil
}

func (p *Pipeline) resolveRotation(ctx context.Context, artifactHash string, pageIndex int, forced *int, doc *fitz.Document) (int, error) {
	if forced != nil {
		if err := p.store.PutRotationOverride(ctx, artifactHash, pageIndex, *forced); err != nil {
			return 0, err
		}
		return *forced, nil
	}

	if angle, found, err := p.store.GetRotationOverride(ctx, artifactHash, pageIndex); err != nil {
		return 0, err
	} else if found {
		return angle, nil
	}

	choice, err := DetectRotation(ctx, doc, pageIndex, p.cascade.tier1)
	if err != nil {
		return 0, err
	}
	if err := p.store.PutRotationOverride(ctx, artifactHash, pageIndex, choice.Angle); err != nil {
		return 0, err
	}
	return choice.Angle, nil
}

// ocrAndAssemble runs the tiered cascade over each page and assembles the
// searchable PDF, retrying transient per-page failures with backoff (spec
// §4.2 "Failure semantics": up to 2 retries, exponential backoff).
func (p *Pipeline) ocrAndAssemble(ctx context.Context, doc *fitz.Document, rotation int) (string, string, error) {
	numPages := doc.NumPage()
	assemblies := make([]PageAssembly, 0, numPages)
	var allText []byte

	for i := 0; i < numPages; i++ {
		img, err := RenderPage(doc, i)
		if err != nil {
			return "", "", pipelineerr.NewTransient(fmt.Sprintf("rendering page %d", i), err)
		}

		imgBytes, err := encodeRotatedPNG(img, rotation)
		if err != nil {
			return "", "", pipelineerr.NewFatal(fmt.Sprintf("encoding page %d", i), err)
		}

		pageResult, err := p.runWithRetry(ctx, imgBytes)
		if err != nil {
			return "", "", pipelineerr.NewTransient(fmt.Sprintf("ocr on page %d", i), err)
		}
		cleaned := cleanOCRText(pageResult.Text)

		assemblies = append(assemblies, PageAssembly{Image: img, Text: cleaned})
		allText = append(allText, []byte(cleaned)...)
		allText = append(allText, '\n')
	}

	pdfBytes, err := AssembleSearchablePDF(assemblies, p.cfg.OverlayTextLimit)
	if err != nil {
		return "", "", pipelineerr.NewFatal("assembling searchable pdf", err)
	}

	path, err := writeSearchablePDF(pdfBytes)
	if err != nil {
		return "", "", pipelineerr.NewFatal("writing searchable pdf", err)
	}

	return string(allText), path, nil
}

// runWithRetry retries transient OCR-tier failures twice with exponential
// backoff (1s, 4s), per spec §4.2 "Failure semantics".
func (p *Pipeline) runWithRetry(ctx context.Context, imageData []byte) (PageResult, error) {
	backoffs := []time.Duration{time.Second, 4 * time.Second}
	var lastErr error
	for attempt := 0; ; attempt++ {
		result, err := p.cascade.Run(ctx, imageData)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt >= len(backoffs) {
			break
		}
		select {
		case <-ctx.Done():
			return PageResult{}, ctx.Err()
		case <-time.After(backoffs[attempt]):
		}
	}
	return PageResult{}, lastErr
}

func (p *Pipeline) persist(ctx context.Context, doc *store.SingleDocument, result *Result, sig store.OCRSignature) error {
	doc.OCRText = sql.NullString{String: result.OCRText, Valid: result.OCRText != ""}
	doc.SearchablePDFPath = sql.NullString{String: result.SearchablePDFPath, Valid: result.SearchablePDFPath != ""}
	doc.Rotation = result.AppliedRotation
	doc.State = result.State
	if result.AICategory != "" {
		doc.AICategory = sql.NullString{String: result.AICategory, Valid: true}
	}
	if result.AIFilename != "" {
		doc.AIFilename = sql.NullString{String: result.AIFilename, Valid: true}
	}

	if _, err := p.store.UpsertSingleDocument(ctx, doc); err != nil {
		return pipelineerr.NewTransient("persisting document", err)
	}
	if err := p.store.PutOCRSignature(ctx, documentKey(doc.ID), sig); err != nil {
		return pipelineerr.NewTransient("persisting ocr signature", err)
	}
	return nil
}

// classifyDocument calls the LLM collaborator for category/filename
// suggestions. Failures leave the classification fields null (spec §4.2
// "LLM failures: classification fields left null; user may rescan").
func (p *Pipeline) classifyDocument(ctx context.Context, doc *store.SingleDocument, result *Result) {
	classification, err := p.llm.Classify(ctx, result.OCRText, "", 0, 0)
	if err != nil {
		p.logger.Warn("llm classification failed, leaving fields null", zap.Int64("document_id", doc.ID), zap.Error(err))
		return
	}
	result.AICategory = classification.Category
	result.AIFilename = classification.SuggestedFilename
	result.AISummary = classification.Reasoning
	result.State = store.StateAIDone
}

// processFastTestMode bypasses OCR and the LLM with deterministic fallback
// generators (spec §4.2 "AI classification" policy for fast test mode).
func (p *Pipeline) processFastTestMode(ctx context.Context, doc *store.SingleDocument, artifactHash string, sig store.OCRSignature) (Result, error) {
	stubPath, err := writeSearchablePDF([]byte(fmt.Sprintf("%%PDF-1.4\n%% fast-test-mode stub for %s\n", artifactHash)))
	if err != nil {
		return Result{}, pipelineerr.NewFatal("writing fast-test-mode stub pdf", err)
	}
	result := Result{
		OCRText:           fmt.Sprintf("fast-test-mode stub text for %s", artifactHash),
		SearchablePDFPath: stubPath,
		AppliedRotation:   0,
		AICategory:        "uncategorized",
		AIFilename:        fmt.Sprintf("document-%s", artifactHash),
		State:             store.StateAIDone,
	}
	if err := p.persist(ctx, doc, &result, sig); err != nil {
		return Result{}, err
	}
	return result, nil
}

func documentKey(docID int64) string {
	return fmt.Sprintf("single:%d", docID)
}

func nullOr(s sql.NullString) string {
	if s.Valid {
		return s.String
	}
	return ""
}

func markFailed(doc *store.SingleDocument, err error) *store.SingleDocument {
	doc.State = store.StateFailed
	doc.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
	return doc
}
