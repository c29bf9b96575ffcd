/**
 * Page rotation selection (spec §3 RotationOverride, §4.2 step 2).
 *
 * Renders a page at each candidate angle via go-fitz and scores each OCR
 * attempt; the highest-scoring angle is chosen and carried forward unless a
 * persisted RotationOverride already settled the question.
 */

package ocr

import (
	"context"
	"fmt"

	"github.com/gen2brain/go-fitz"
)

// candidateAngles are tried in this order when no override is present.
var candidateAngles = []int{0, 90, 180, 270}

// RotationChoice is the outcome of auto-detecting a page's orientation.
type RotationChoice struct {
	Angle      int
	Text       string
	Confidence float64
}

// DetectRotation renders pageIndex at each candidate angle, OCRs each
// rendering with engine, and picks the angle maximizing a weighted score of
// confidence and extracted text length (spec §4.2 step 2). Candidates are
// tried sequentially against the shared *fitz.Document: go-fitz's underlying
// MuPDF handle is not safe for concurrent rendering calls, so this is not a
// fan-out candidate despite the four attempts being logically independent.
func DetectRotation(ctx context.Context, doc *fitz.Document, pageIndex int, engine Engine) (RotationChoice, error) {
	var best RotationChoice
	bestScore := -1.0

	for _, angle := range candidateAngles {
		img, err := renderPageAtAngle(doc, pageIndex, angle)
		if err != nil {
			continue
		}

		result, err := engine.ExtractPage(ctx, img)
		if err != nil {
			continue
		}

		score := rotationScore(result.Confidence, len(result.Text))
		if score > bestScore {
			bestScore = score
			best = RotationChoice{Angle: angle, Text: result.Text, Confidence: result.Confidence}
		}
	}

	if bestScore < 0 {
		return RotationChoice{}, fmt.Errorf("rotation detection: no candidate angle produced usable OCR output for page %d", pageIndex)
	}
	return best, nil
}

// rotationScore weights confidence heavily but still rewards longer
// extracted text, since a near-blank page at the "right" angle can score
// the same confidence as one full of garbled text at the wrong angle.
func rotationScore(confidence float64, textLen int) float64 {
	lengthBonus := float64(textLen)
	if lengthBonus > 2000 {
		lengthBonus = 2000
	}
	return confidence*0.8 + (lengthBonus/2000)*0.2
}

func renderPageAtAngle(doc *fitz.Document, pageIndex int, angle int) ([]byte, error) {
	img, err := doc.Image(pageIndex)
	if err != nil {
		return nil, fmt.Errorf("rendering page %d: %w", pageIndex, err)
	}
	return encodeRotatedPNG(img, angle)
}
