package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
)

// encodeRotatedPNG rotates img clockwise by angle degrees (must be a
// multiple of 90) and PNG-encodes the result.
func encodeRotatedPNG(img image.Image, angle int) ([]byte, error) {
	rotated := rotate90Multiple(img, angle)
	var buf bytes.Buffer
	if err := png.Encode(&buf, rotated); err != nil {
		return nil, fmt.Errorf("encoding rotated page image: %w", err)
	}
	return buf.Bytes(), nil
}

func encodePNGTo(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}

func rotate90Multiple(img image.Image, angle int) image.Image {
	switch ((angle % 360) + 360) % 360 {
	case 90:
		return rotate90(img)
	case 180:
		return rotate180(img)
	case 270:
		return rotate90(rotate180(img))
	default:
		return img
	}
}

func rotate90(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(h-1-y, x, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

func rotate180(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(w-1-x, h-1-y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}
