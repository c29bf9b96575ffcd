/**
 * LLM collaborator RPC client (spec §6 "LLM service (collaborator)").
 *
 * Grounded on the teacher's internal/clients/mageagent_client.go HTTP
 * idiom (context-aware requests, JSON request/response, X-Request-ID
 * correlation header), adapted from MageAgent's vision-specific contract to
 * the three generic operations spec §6 names against a local LLM host.
 */

package classify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Client is the RPC client for the LLM collaborator (spec §6).
type Client struct {
	baseURL     string
	model       string
	visionModel string
	httpClient  *http.Client
	logger      *zap.Logger
	maxRetries  int
}

// New builds a Client targeting host (e.g. "http://localhost:11434") with
// the given default text and vision model names and request timeout.
func New(host, model, visionModel string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:     host,
		model:       model,
		visionModel: visionModel,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
		maxRetries:  2,
	}
}

// ClassifyResult is the classify(...) operation's return contract.
type ClassifyResult struct {
	Category          string  `json:"category"`
	Confidence        float64 `json:"confidence"`
	Reasoning         string  `json:"reasoning"`
	SuggestedFilename string  `json:"suggested_filename"`
}

// Classify calls the LLM collaborator's classify operation. On failure
// after retries it returns a nil result and the last error; callers log it
// and proceed without AI fields (spec §6 "graceful degradation").
func (c *Client) Classify(ctx context.Context, text, filename string, pageCount int, sizeMB float64) (*ClassifyResult, error) {
	req := map[string]interface{}{
		"text":       text,
		"filename":   filename,
		"page_count": pageCount,
		"size":       sizeMB,
	}
	var result ClassifyResult
	if err := c.call(ctx, "/api/classify", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// analyzeDocumentTypeResult mirrors the analyze_document_type operation's
// wire shape (confidence on a 0-100 scale, per spec §6).
type analyzeDocumentTypeResult struct {
	Classification string  `json:"classification"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
}

// AnalyzeDocumentType implements normalize.TypeClassifier against the LLM
// collaborator's analyze_document_type operation.
func (c *Client) AnalyzeDocumentType(sampleTexts []string, filename string, pageCount int, sizeMB float64) (string, float64, string, error) {
	req := map[string]interface{}{
		"sample_texts": sampleTexts,
		"filename":     filename,
		"page_count":   pageCount,
		"size_mb":      sizeMB,
	}
	var result analyzeDocumentTypeResult
	if err := c.call(context.Background(), "/api/analyze_document_type", req, &result); err != nil {
		return "", 0, "", err
	}
	return result.Classification, result.Confidence, result.Reasoning, nil
}

// TagExtraction is the extract_tags(...) operation's return contract.
type TagExtraction struct {
	People           []string `json:"people"`
	Organizations    []string `json:"organizations"`
	Places           []string `json:"places"`
	Dates            []string `json:"dates"`
	DocumentTypes    []string `json:"document_types"`
	Keywords         []string `json:"keywords"`
	Amounts          []string `json:"amounts"`
	ReferenceNumbers []string `json:"reference_numbers"`
}

// ExtractTags calls the optional tag-extraction operation. Failures are
// non-fatal per spec §4.6 "Optional tagging": callers should log a warning
// and proceed without tags.
func (c *Client) ExtractTags(ctx context.Context, text string) (*TagExtraction, error) {
	req := map[string]interface{}{"text": text}
	var result TagExtraction
	if err := c.call(ctx, "/api/extract_tags", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// VisionExtraction is the extract_page_vision(...) operation's return
// contract: a higher-accuracy OCR pass over a single rasterized page image,
// served by the vision-capable model (spec §4.2 tiered OCR escalation).
type VisionExtraction struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// ExtractPageVision sends one rasterized page image to the LLM
// collaborator's vision model for text extraction. Used as the OCR
// cascade's tier-2/tier-3 escalation path instead of a dedicated vision-OCR
// dependency, reusing this same HTTP collaborator.
func (c *Client) ExtractPageVision(ctx context.Context, imageData []byte, model string) (*VisionExtraction, error) {
	if model == "" {
		model = c.visionModel
	}
	req := map[string]interface{}{
		"model": model,
		"image": base64.StdEncoding.EncodeToString(imageData),
	}
	var result VisionExtraction
	if err := c.call(ctx, "/api/extract_page_vision", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// call performs the request/retry/decode sequence shared by every
// operation: one attempt plus up to maxRetries retries, each bounded by the client's
// configured timeout (spec §6 "request timeout, retry (up to 2)").
func (c *Client) call(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling llm request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying llm collaborator call", zap.String("path", path), zap.Int("attempt", attempt), zap.Error(lastErr))
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("building llm request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("X-Request-ID", fmt.Sprintf("docprocd-%d", time.Now().UnixNano()))

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("llm request failed: %w", err)
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("reading llm response: %w", readErr)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("llm collaborator returned status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		if err := json.Unmarshal(respBody, out); err != nil {
			lastErr = fmt.Errorf("decoding llm response: %w", err)
			continue
		}
		return nil
	}
	return lastErr
}
