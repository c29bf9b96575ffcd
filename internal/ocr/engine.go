/**
 * OCR engine interfaces and the Tesseract tier-1 engine (spec §4.2, §6).
 *
 * Grounded on the teacher's internal/processor/tesseract_ocr.go and
 * ocr_types.go, kept largely intact and adapted to the page-level contract
 * this pipeline needs.
 */

package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"
)

// PageResult is the outcome of running one OCR engine over one rasterized
// page image.
type PageResult struct {
	Text       string
	Confidence float64
	TierUsed   string
	Duration   time.Duration
}

// Engine is a pluggable text extractor (spec §1: "OCR engines (treated as
// pluggable text extractors)").
type Engine interface {
	Name() string
	ExtractPage(ctx context.Context, imageData []byte) (PageResult, error)
}

// TesseractEngine wraps gosseract as the tier-1, fast/free/offline engine.
type TesseractEngine struct {
	tesseractPath string
}

// NewTesseractEngine constructs the tier-1 engine. An empty path defers to
// gosseract's own `tesseract` binary discovery.
func NewTesseractEngine(tesseractPath string) *TesseractEngine {
	return &TesseractEngine{tesseractPath: tesseractPath}
}

func (t *TesseractEngine) Name() string { return "tesseract" }

func (t *TesseractEngine) ExtractPage(ctx context.Context, imageData []byte) (PageResult, error) {
	start := time.Now()

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetImageFromBytes(imageData); err != nil {
		return PageResult{}, fmt.Errorf("setting tesseract image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return PageResult{}, fmt.Errorf("tesseract extraction failed: %w", err)
	}

	return PageResult{
		Text:       text,
		Confidence: estimateTesseractConfidence(text),
		TierUsed:   t.Name(),
		Duration:   time.Since(start),
	}, nil
}

// estimateTesseractConfidence is the teacher's text-quality heuristic
// (calculateTesseractConfidence), kept verbatim in spirit: gosseract's
// MeanTextConf requires the HOCR path the teacher never took either.
func estimateTesseractConfidence(text string) float64 {
	confidence := 0.5

	if len(text) > 1000 {
		confidence += 0.1
	}
	if len(text) > 5000 {
		confidence += 0.1
	}

	words := strings.Fields(text)
	if len(words) > 100 {
		confidence += 0.1
	}

	alphaCount := 0
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			alphaCount++
		}
	}
	if len(text) > 0 {
		alphaRatio := float64(alphaCount) / float64(len(text))
		if alphaRatio > 0.5 && alphaRatio < 0.9 {
			confidence += 0.1
		}
	}

	if confidence > 0.85 {
		confidence = 0.85
	}
	return confidence
}
