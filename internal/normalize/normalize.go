/**
 * Intake Detector & Normalizer (spec §4.1).
 *
 * Grounded on the teacher's detectMimeTypeFromMagicBytes (internal/processor/
 * processor.go), narrowed to the kinds spec §6 names (pdf, png, jpeg), and on
 * its file-hashing/loadFile discipline.
 */

package normalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"codeberg.org/go-pdf/fpdf"
	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// Kind is the detected artifact kind (spec §3 Artifact.kind).
type Kind string

const (
	KindPDF     Kind = "pdf"
	KindImage   Kind = "image"
	KindUnknown Kind = "unknown"
)

// Strategy is the tentative processing strategy (spec §4.1).
type Strategy string

const (
	StrategySingleDocument Strategy = "single_document"
	StrategyBatchScan      Strategy = "batch_scan"
)

// TypeClassifier is the LLM collaborator's analyze_document_type operation
// (spec §6), consumed here as an interface to avoid a package-level
// dependency on the concrete HTTP client in internal/classify.
type TypeClassifier interface {
	AnalyzeDocumentType(sampleTexts []string, filename string, pageCount int, sizeMB float64) (classification string, confidence float64, reasoning string, err error)
}

// Analysis is the detector's output contract (spec §4.1).
type Analysis struct {
	Kind           Kind
	PageCount      int
	SizeMB         float64
	ContentHash    string
	NormalizedPath string
	Reused         bool
	Strategy       Strategy
	Confidence     float64
	Reasoning      []string
	LLMConsulted   bool
}

// Detector implements the Intake Detector & Normalizer.
type Detector struct {
	cache      *Cache
	classifier TypeClassifier // nil is valid: heuristics-only mode
	renderDPI  float64
}

// NewDetector constructs a Detector backed by the given normalized cache. A
// nil classifier disables the LLM-assisted tie-break (heuristics decide
// alone, still tie-breaking toward batch_scan on indeterminate cases).
func NewDetector(cache *Cache, classifier TypeClassifier) *Detector {
	return &Detector{cache: cache, classifier: classifier, renderDPI: 150}
}

// Analyze runs the full detection/normalization algorithm for one file
// (spec §4.1 steps 1-6).
func (d *Detector) Analyze(path string) (*Analysis, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("zero-byte file: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	hash := contentHash(data)
	kind := detectKind(data, path)

	a := &Analysis{
		Kind:        kind,
		ContentHash: hash,
		SizeMB:      float64(info.Size()) / (1024 * 1024),
	}

	switch kind {
	case KindImage:
		normalizedPath, reused, err := d.normalizeImage(hash, data)
		if err != nil {
			return nil, fmt.Errorf("normalizing image %s: %w", path, err)
		}
		a.NormalizedPath = normalizedPath
		a.Reused = reused
		a.PageCount = 1
		// Raw intake images are unconditionally single_document (spec §4.1.6).
		a.Strategy = StrategySingleDocument
		a.Confidence = 1.0
		a.Reasoning = []string{"raw intake images are always treated as single documents"}
		return a, nil

	case KindPDF:
		a.NormalizedPath = path
		_, reused, err := d.cache.Lookup(hash)
		if err != nil {
			return nil, fmt.Errorf("checking normalized cache for %s: %w", path, err)
		}
		a.Reused = reused

		pageCount, err := api.PageCountFile(path)
		if err != nil {
			return nil, fmt.Errorf("corrupt PDF, failed to open %s: %w", path, err)
		}
		a.PageCount = pageCount

		samples, err := sampleText(path, pageCount)
		if err != nil {
			return nil, fmt.Errorf("sampling text from %s: %w", path, err)
		}

		strategy, confidence, reasoning, consulted, err := d.classify(filepath.Base(path), pageCount, a.SizeMB, samples)
		if err != nil {
			return nil, fmt.Errorf("classifying strategy for %s: %w", path, err)
		}
		a.Strategy = strategy
		a.Confidence = confidence
		a.Reasoning = reasoning
		a.LLMConsulted = consulted
		return a, nil

	default:
		return nil, fmt.Errorf("unknown/unsupported file kind for %s", path)
	}
}

func (d *Detector) normalizeImage(hash string, data []byte) (path string, reused bool, err error) {
	if p, found, err := d.cache.Lookup(hash); err != nil {
		return "", false, err
	} else if found {
		return p, true, nil
	}

	pdfBytes, err := renderImageToPDF(data, d.renderDPI)
	if err != nil {
		return "", false, fmt.Errorf("rendering image to pdf: %w", err)
	}
	p, err := d.cache.Put(hash, pdfBytes)
	if err != nil {
		return "", false, err
	}
	return p, false, nil
}

// renderImageToPDF converts an arbitrary supported raster image into a
// single-page PDF sized to the image at the given DPI, quality 95 (spec
// §4.1.2), grounded on the codeberg.org/go-pdf/fpdf API (a maintained
// gofpdf fork).
func renderImageToPDF(data []byte, dpi float64) ([]byte, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image header: %w", err)
	}

	widthMM := float64(cfg.Width) / dpi * 25.4
	heightMM := float64(cfg.Height) / dpi * 25.4

	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: orientation(widthMM, heightMM),
		UnitStr:        "mm",
		SizeStr:        "",
		Size:           fpdf.SizeType{Wd: widthMM, Ht: heightMM},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	imageType := strings.ToUpper(format)
	if imageType == "JPEG" {
		imageType = "JPG"
	}
	opt := fpdf.ImageOptions{ImageType: imageType, ReadDpi: false, Quality: 95}
	pdf.RegisterImageOptionsReader("normalized-source", opt, bytes.NewReader(data))
	pdf.ImageOptions("normalized-source", 0, 0, widthMM, heightMM, false, opt, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("writing normalized pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func orientation(widthMM, heightMM float64) string {
	if widthMM > heightMM {
		return "L"
	}
	return "P"
}

// classify combines heuristic scoring with an optional LLM tie-break, per
// spec §4.1.5.
func (d *Detector) classify(filename string, pageCount int, sizeMB float64, samples []string) (Strategy, float64, []string, bool, error) {
	score, confidence, reasoning := heuristicScore(filename, pageCount, sizeMB, samples)

	needsLLM := d.classifier != nil && (absInt(score) <= 2 || confidence < 0.7 || (pageCount >= 5 && pageCount <= 20))
	if !needsLLM {
		return heuristicStrategy(score), confidence, reasoning, false, nil
	}

	classification, llmConfidence, llmReasoning, err := d.classifier.AnalyzeDocumentType(samples, filename, pageCount, sizeMB)
	if err != nil {
		// LLM collaborator failure degrades gracefully: proceed on
		// heuristics alone (spec §6 "graceful degradation").
		reasoning = append(reasoning, "LLM classifier unavailable, falling back to heuristics: "+err.Error())
		return heuristicStrategy(score), confidence, reasoning, false, nil
	}

	reasoning = append(reasoning, "LLM: "+llmReasoning)
	combined := combineDecisions(heuristicStrategy(score), confidence, Strategy(classification), llmConfidence/100.0)
	finalConfidence := (confidence + llmConfidence/100.0) / 2
	return combined, finalConfidence, reasoning, true, nil
}

// combineDecisions takes the higher-confidence decision on disagreement and
// falls back to batch_scan only when both confidences are equal (spec
// §4.1.5: "safer" choice on indeterminate cases).
func combineDecisions(heuristic Strategy, heuristicConfidence float64, llm Strategy, llmConfidence float64) Strategy {
	if heuristic == llm {
		return heuristic
	}
	if llmConfidence > heuristicConfidence {
		return llm
	}
	if heuristicConfidence > llmConfidence {
		return heuristic
	}
	return StrategyBatchScan
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// detectKind sniffs magic bytes, narrowed from the teacher's broader
// detectMimeTypeFromMagicBytes to the kinds spec §6 supports.
func detectKind(data []byte, path string) Kind {
	if len(data) >= 5 && bytes.Equal(data[:5], []byte("%PDF-")) {
		return KindPDF
	}
	if len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}) {
		return KindImage
	}
	if len(data) >= 3 && bytes.Equal(data[:3], []byte{0xFF, 0xD8, 0xFF}) {
		return KindImage
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return KindPDF
	case ".png", ".jpg", ".jpeg":
		return KindImage
	default:
		return KindUnknown
	}
}

// sampleText extracts a text sample via multi-point sampling (spec
// §4.1.4): page 1 only for single-page documents; pages 1 and last for
// two-page documents; pages 1, middle, last otherwise. Grounded on the
// ledongthuc/pdf per-page GetPlainText idiom.
func sampleText(path string, pageCount int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s for text sampling: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	reader, err := pdf.NewReader(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("corrupt PDF, failed to open text layer of %s: %w", path, err)
	}

	pages := samplePageNumbers(pageCount)
	samples := make([]string, 0, len(pages))
	for _, p := range pages {
		samples = append(samples, extractPageText(reader, p))
	}
	return samples, nil
}

func samplePageNumbers(pageCount int) []int {
	switch {
	case pageCount <= 1:
		return []int{1}
	case pageCount == 2:
		return []int{1, 2}
	default:
		return []int{1, pageCount/2 + 1, pageCount}
	}
}

// extractPageText returns the embedded text layer for one page, or an empty
// string if none is present — a corrupt or unextractable page never aborts
// the scan (spec §4.1 edge cases). An empty page contributes nothing to the
// sample; the detector runs no OCR on sampled pages.
func extractPageText(reader *pdf.Reader, pageNum int) string {
	if pageNum < 1 || pageNum > reader.NumPage() {
		return ""
	}
	page := reader.Page(pageNum)
	if page.V.IsNull() {
		return ""
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return text
}
