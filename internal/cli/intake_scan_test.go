package cli

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func writeTestPNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestIntakeScanReportsStrategyForEachFile(t *testing.T) {
	dir := t.TempDir()
	setTestEnv(t, dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "intake"), 0o755))

	writeTestPNG(t, filepath.Join(dir, "intake", "photo.png"))

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, runIntakeScan(cmd, nil))
	require.Contains(t, out.String(), "photo.png")
	require.Contains(t, out.String(), "single_document")
}

func TestIntakeScanHandlesEmptyIntakeDirectory(t *testing.T) {
	dir := t.TempDir()
	setTestEnv(t, dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "intake"), 0o755))

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, runIntakeScan(cmd, nil))
	require.Empty(t, out.String())
}
