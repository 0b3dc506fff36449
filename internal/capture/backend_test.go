package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCopyRowPitchStripsPadding(t *testing.T) {
	// 2x2 BGRA8 image with 4 bytes of row padding: rowPitch=12, width*bpp=8.
	src := []byte{
		1, 2, 3, 4, 5, 6, 7, 8, 0xAA, 0xAA, 0xAA, 0xAA,
		9, 10, 11, 12, 13, 14, 15, 16, 0xBB, 0xBB, 0xBB, 0xBB,
	}
	got := copyRowPitch(src, 2, 2, 12, 4)
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	assert.Equal(t, want, got)
}

func TestCopyRowPitchTightStrideIsNoOp(t *testing.T) {
	src := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	got := copyRowPitch(src, 2, 2, 8, 4)
	assert.Equal(t, src, got)
}

func TestCopyRowPitchTruncatedSourceStopsEarly(t *testing.T) {
	src := []byte{1, 2, 3, 4} // only one full row's worth of data
	got := copyRowPitch(src, 2, 2, 8, 4)
	want := make([]byte, 16)
	assert.Equal(t, want, got)
}

func TestSizeDebouncerRequiresStableStreak(t *testing.T) {
	var d sizeDebouncer

	rebuild, _, _ := d.observe(100, 100)
	assert.False(t, rebuild, "first sample should never rebuild")

	rebuild, w, h := d.observe(100, 100)
	assert.True(t, rebuild)
	assert.Equal(t, 100, w)
	assert.Equal(t, 100, h)

	rebuild, _, _ = d.observe(100, 100)
	assert.False(t, rebuild, "already-rebuilt size should not rebuild again")
}

func TestSizeDebouncerJitterDoesNotThrashPool(t *testing.T) {
	var d sizeDebouncer
	d.observe(100, 100)
	rebuild, _, _ := d.observe(100, 100) // stable streak of 2
	assert.True(t, rebuild)

	rebuild, _, _ = d.observe(101, 100) // one-off jitter resets the streak
	assert.False(t, rebuild)
	rebuild, _, _ = d.observe(100, 100)
	assert.False(t, rebuild, "jitter sample should not itself count toward a new streak")
}

func TestClipToContentClampsToSmallerDimension(t *testing.T) {
	w, h := clipToContent(200, 150, 180, 200)
	assert.Equal(t, 180, w)
	assert.Equal(t, 150, h)
}

func TestClipToContentIgnoresZeroContentSize(t *testing.T) {
	w, h := clipToContent(200, 150, 0, 0)
	assert.Equal(t, 200, w)
	assert.Equal(t, 150, h)
}
