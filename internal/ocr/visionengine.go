/**
 * Vision-LLM OCR tiers (spec §4.2 tiered OCR escalation, SPEC_FULL §4.2): the
 * cascade's tier-2/tier-3 engines are the same LLM collaborator used for
 * classification, called through its vision-capable model instead of a
 * second OCR dependency.
 */

package ocr

import (
	"context"
	"time"

	"github.com/docprocd/docprocd/internal/classify"
)

// VisionEngine adapts classify.Client's vision extraction operation to the
// Engine interface so it can sit at any cascade tier.
type VisionEngine struct {
	client *classify.Client
	model  string
	name   string
}

// NewVisionEngine builds a tier-2/tier-3 OCR engine backed by the LLM
// collaborator's vision model. name distinguishes which tier it serves in
// PageResult.TierUsed (e.g. "vision-tier2", "vision-tier3").
func NewVisionEngine(client *classify.Client, model, name string) *VisionEngine {
	return &VisionEngine{client: client, model: model, name: name}
}

func (v *VisionEngine) Name() string { return v.name }

func (v *VisionEngine) ExtractPage(ctx context.Context, imageData []byte) (PageResult, error) {
	start := time.Now()
	result, err := v.client.ExtractPageVision(ctx, imageData, v.model)
	if err != nil {
		return PageResult{}, err
	}
	return PageResult{
		Text:       result.Text,
		Confidence: result.Confidence,
		TierUsed:   v.name,
		Duration:   time.Since(start),
	}, nil
}
