/**
 * Searchable PDF assembly (spec §4.2 step 4).
 *
 * Rasterizes each page via go-fitz and overlays the OCR'd text as a
 * fully-transparent text layer positioned over the page image, so the PDF
 * remains visually identical to the scan while becoming text-searchable.
 * The invisible-layer technique is implemented via fpdf's alpha blending
 * (SetAlpha(0, ...)) rather than a PDF text-rendering-mode flag, since
 * codeberg.org/go-pdf/fpdf does not expose the latter.
 */

package ocr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"codeberg.org/go-pdf/fpdf"
	"github.com/gen2brain/go-fitz"
)

// PageAssembly is one page's rasterized image plus its OCR text, ready for
// compositing into a searchable PDF.
type PageAssembly struct {
	Image image.Image
	Text  string
}

// AssembleSearchablePDF places each page image on a page sized to its pixel
// dimensions in points and overlays the page's OCR text, truncated at
// overlayTextLimitBytes, as an invisible layer. Returns the composite PDF bytes.
func AssembleSearchablePDF(pages []PageAssembly, overlayTextLimitBytes int) ([]byte, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("assembling searchable pdf: no pages")
	}

	pdf := fpdf.New("P", "pt", "", "")
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetMargins(0, 0, 0)
	pdf.SetFont("Helvetica", "", 10)

	for i, page := range pages {
		b := page.Image.Bounds()
		w, h := float64(b.Dx()), float64(b.Dy())

		pdf.AddPageFormat("", fpdf.SizeType{Wd: w, Ht: h})

		var buf bytes.Buffer
		if err := encodePNGTo(&buf, page.Image); err != nil {
			return nil, fmt.Errorf("encoding page %d image: %w", i, err)
		}
		name := fmt.Sprintf("page-%d", i)
		opt := fpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader(name, opt, &buf)
		pdf.ImageOptions(name, 0, 0, w, h, false, opt, 0, "")

		text := truncateBytes(page.Text, overlayTextLimitBytes)
		if text != "" {
			pdf.SetAlpha(0, "Normal")
			pdf.SetXY(0, 0)
			pdf.MultiCell(w, 10, text, "", "", false)
			pdf.SetAlpha(1, "Normal")
		}
	}

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, fmt.Errorf("writing searchable pdf: %w", err)
	}
	return out.Bytes(), nil
}

// RenderPage rasterizes one page of doc at its native resolution for OCR
// and searchable-PDF assembly input.
func RenderPage(doc *fitz.Document, pageIndex int) (image.Image, error) {
	img, err := doc.Image(pageIndex)
	if err != nil {
		return nil, fmt.Errorf("rendering page %d: %w", pageIndex, err)
	}
	return img, nil
}

func truncateBytes(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit]
}

// searchablePDFDir is process-wide: Pipeline.ocrAndAssemble has no config
// plumbing of its own for this path. It defaults to a directory under
// os.TempDir() and changes only through SetSearchablePDFDir, which the
// process entrypoint does not call.
var searchablePDFDir = filepath.Join(os.TempDir(), "docprocd-searchable")

// SetSearchablePDFDir configures where assembled searchable PDFs are
// written. It takes effect for Pipeline.ProcessDocument calls made after it.
func SetSearchablePDFDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating searchable pdf dir: %w", err)
	}
	searchablePDFDir = dir
	return nil
}

// writeSearchablePDF content-addresses data under searchablePDFDir using a
// temp-file-then-rename sequence so a reader never observes a partial file
// (spec §5 "Cancellation and in-progress searchable PDFs").
func writeSearchablePDF(data []byte) (string, error) {
	if err := os.MkdirAll(searchablePDFDir, 0o755); err != nil {
		return "", fmt.Errorf("creating searchable pdf dir: %w", err)
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	final := filepath.Join(searchablePDFDir, "searchable_"+hash+".pdf")

	if _, err := os.Stat(final); err == nil {
		return final, nil
	}

	tmp := final + fmt.Sprintf(".tmp-%d", time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("writing temp searchable pdf: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("renaming searchable pdf into place: %w", err)
	}
	return final, nil
}
