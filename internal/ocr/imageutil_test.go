package ocr

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
)

func makeTestImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	// Mark the top-left pixel distinctly so rotation direction is checkable.
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	return img
}

func TestRotate90SwapsDimensions(t *testing.T) {
	img := makeTestImage(10, 20)
	rotated := rotate90(img)
	b := rotated.Bounds()
	require.Equal(t, 20, b.Dx())
	require.Equal(t, 10, b.Dy())
}

func TestRotate180PreservesDimensions(t *testing.T) {
	img := makeTestImage(10, 20)
	rotated := rotate180(img)
	b := rotated.Bounds()
	require.Equal(t, 10, b.Dx())
	require.Equal(t, 20, b.Dy())

	r, _, _, _ := rotated.At(9, 19).RGBA()
	require.NotZero(t, r)
}

func TestRotate90MultipleIdentityAtZero(t *testing.T) {
	img := makeTestImage(5, 5)
	require.Equal(t, img, rotate90Multiple(img, 0))
	require.Equal(t, img, rotate90Multiple(img, 360))
}

func TestEncodeRotatedPNGProducesValidPNG(t *testing.T) {
	img := makeTestImage(4, 4)
	data, err := encodeRotatedPNG(img, 90)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	require.Equal(t, []byte{0x89, 0x50, 0x4E, 0x47}, data[:4])
}
