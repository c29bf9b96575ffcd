package ocr

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeSignatureChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.pdf")

	require.NoError(t, os.WriteFile(path, []byte("version one"), 0o644))
	sig1, err := ComputeSignature(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("version two, longer content"), 0o644))
	sig2, err := ComputeSignature(path)
	require.NoError(t, err)

	require.False(t, sig1.Equal(sig2))
}

func TestComputeSignatureStableForUnchangedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("stable content"), 0o644))

	sig1, err := ComputeSignature(path)
	require.NoError(t, err)
	sig2, err := ComputeSignature(path)
	require.NoError(t, err)

	require.True(t, sig1.Equal(sig2))
}
