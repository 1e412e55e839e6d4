package adapter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateUnderLimitUntouched(t *testing.T) {
	assert.Equal(t, "short post", Truncate("short post", 280))
}

func TestTruncateCutsToExactLimit(t *testing.T) {
	payload := strings.Repeat("a", 300)
	got := Truncate(payload, 280)
	assert.Len(t, []rune(got), 280)
	assert.True(t, strings.HasSuffix(got, truncationMarker))
	assert.Equal(t, strings.Repeat("a", 277), got[:277])
}

func TestTruncateDeterministic(t *testing.T) {
	payload := strings.Repeat("xyz", 150)
	first := Truncate(payload, 280)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Truncate(payload, 280))
	}
}

func TestTruncateCountsRunesNotBytes(t *testing.T) {
	payload := strings.Repeat("ü", 300) // 2 bytes per rune
	got := Truncate(payload, 280)
	assert.Len(t, []rune(got), 280)
}

func TestTruncateNormalizesBeforeCounting(t *testing.T) {
	// u + combining diaeresis normalizes to a single rune.
	composed := strings.Repeat("ü", 280)
	got := Truncate(composed, 280)
	assert.Len(t, []rune(got), 280)
	assert.NotContains(t, got, truncationMarker)
}

func TestTruncateZeroLimitMeansUnlimited(t *testing.T) {
	payload := strings.Repeat("a", 5000)
	assert.Equal(t, payload, Truncate(payload, 0))
}

func TestTruncateTinyLimit(t *testing.T) {
	got := Truncate("abcdef", 2)
	assert.Equal(t, "ab", got, "limits at or below the marker length cut hard")
}

func TestContentHashStableAndDistinct(t *testing.T) {
	h1 := ContentHash("twitter", "hello")
	h2 := ContentHash("twitter", "hello")
	h3 := ContentHash("linkedin", "hello")
	h4 := ContentHash("twitter", "goodbye")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.NotEqual(t, h1, h4)
	assert.Len(t, h1, 64)
}
