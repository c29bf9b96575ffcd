/**
 * Tiered OCR escalation (spec §4.2 "Tiered OCR escalation (supplemented)").
 *
 * Grounded on the teacher's performOCRWithMageAgent 3-tier cascade
 * (internal/processor/processor.go): tier 1 Tesseract, tier 2/3 a
 * higher-accuracy vision-capable route, generalized from the teacher's
 * hardcoded GPT-4o/Claude Opus model pair to the configured
 * ocr_tier1_min_confidence / ocr_tier2_min_confidence thresholds.
 */

package ocr

import (
	"context"
	"fmt"
)

// CascadeConfig carries the escalation thresholds (spec §4.2, §10).
type CascadeConfig struct {
	Tier1MinConfidence float64
	Tier2MinConfidence float64
}

// Cascade runs the tiered OCR escalation over a single rendered page image.
type Cascade struct {
	tier1  Engine
	tier2  Engine // typically a vision-LLM route; may be nil
	tier3  Engine // highest-accuracy fallback; may be nil
	config CascadeConfig
}

// NewCascade builds the tiered cascade. tier2/tier3 may be nil if no
// higher-accuracy engine is configured, in which case the cascade accepts
// whatever tier 1 produces.
func NewCascade(tier1, tier2, tier3 Engine, config CascadeConfig) *Cascade {
	return &Cascade{tier1: tier1, tier2: tier2, tier3: tier3, config: config}
}

// Run executes the cascade over one page image, escalating through tiers
// until a result clears its tier's confidence floor or tiers are exhausted.
func (c *Cascade) Run(ctx context.Context, imageData []byte) (PageResult, error) {
	var lastErr error

	if c.tier1 != nil {
		result, err := c.tier1.ExtractPage(ctx, imageData)
		if err == nil {
			if result.Confidence >= c.config.Tier1MinConfidence || c.tier2 == nil {
				return result, nil
			}
		} else {
			lastErr = err
		}
	}

	if c.tier2 != nil {
		result, err := c.tier2.ExtractPage(ctx, imageData)
		if err == nil {
			if result.Confidence >= c.config.Tier2MinConfidence || c.tier3 == nil {
				return result, nil
			}
		} else {
			lastErr = err
		}
	}

	if c.tier3 != nil {
		result, err := c.tier3.ExtractPage(ctx, imageData)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return PageResult{}, fmt.Errorf("all configured OCR tiers failed: %w", lastErr)
	}
	return PageResult{}, fmt.Errorf("no OCR engine configured")
}
