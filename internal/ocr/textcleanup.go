/**
 * OCR text post-processing (spec §4.2 "OCR text post-processing").
 *
 * Grounded on other_examples/8f211091_toricodesthings-PDF-to-Text-Extraction-Service
 * internal/image/image.go's cleanOCRText, kept near-verbatim and trimmed to
 * the artifacts this pipeline's OCR engines actually produce.
 */

package ocr

import (
	"regexp"
	"strings"
)

var (
	zeroWidthChars     = regexp.MustCompile("[​-‍﻿­⁠]")
	standaloneImgName  = regexp.MustCompile(`(?mi)^[\w-]*(?:img|image|figure|fig|photo|pic)[\w-]*\.(jpeg|jpg|png|gif|webp|svg|bmp|tiff?)[ \t]*$`)
	standaloneFileName = regexp.MustCompile(`(?mi)^[\w-]+\.(jpeg|jpg|png|gif|webp|svg|bmp|tiff?)[ \t]*$`)
	markdownImageRef   = regexp.MustCompile(`(?m)!\[[^\]]*\]\([^)]*\)`)
	markdownLinkRef    = regexp.MustCompile(`(?m)\[[^\]]*\]\([^)]*\.(jpeg|jpg|png|gif|webp|svg|bmp|tiff?)\)`)
	excessiveNewlines  = regexp.MustCompile(`\n{4,}`)
	trailingSpaces     = regexp.MustCompile(`(?m)[ \t]+$`)
)

// cleanOCRText strips zero-width characters, stray image-filename/markdown
// artifacts left over from source conversion, and collapses excessive blank
// lines, without altering the substantive extracted content.
func cleanOCRText(text string) string {
	if text == "" {
		return ""
	}

	text = zeroWidthChars.ReplaceAllString(text, "")
	text = markdownImageRef.ReplaceAllString(text, "")
	text = markdownLinkRef.ReplaceAllString(text, "")
	text = standaloneImgName.ReplaceAllString(text, "")
	text = standaloneFileName.ReplaceAllString(text, "")

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	text = trailingSpaces.ReplaceAllString(text, "")
	text = excessiveNewlines.ReplaceAllString(text, "\n\n\n")

	return strings.TrimSpace(text)
}
