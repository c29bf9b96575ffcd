package ocr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCleanOCRTextStripsArtifacts(t *testing.T) {
	raw := "Hello​World\n\nimage_001.png\n\n![alt](foo.png)\n\n[link](bar.png)\n\n\n\nTrailing line   \n"
	cleaned := cleanOCRText(raw)

	require.NotContains(t, cleaned, "​")
	require.NotContains(t, cleaned, "image_001.png")
	require.NotContains(t, cleaned, "![alt]")
	require.NotContains(t, cleaned, "[link]")
	require.Contains(t, cleaned, "Hello")
	require.Contains(t, cleaned, "World")
	require.Contains(t, cleaned, "Trailing line")
}

func TestCleanOCRTextCollapsesBlankLines(t *testing.T) {
	raw := "one\n\n\n\n\ntwo"
	cleaned := cleanOCRText(raw)
	require.NotContains(t, cleaned, "\n\n\n\n")
}
