package ocr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRotationScorePrefersHigherConfidence(t *testing.T) {
	highConfidence := rotationScore(0.9, 100)
	lowConfidence := rotationScore(0.2, 100)
	require.Greater(t, highConfidence, lowConfidence)
}

func TestRotationScoreCapsLengthBonus(t *testing.T) {
	atCap := rotationScore(0.5, 2000)
	overCap := rotationScore(0.5, 50000)
	require.Equal(t, atCap, overCap)
}
