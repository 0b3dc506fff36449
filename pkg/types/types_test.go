package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRectEmpty(t *testing.T) {
	assert.True(t, Rect{}.Empty())
	assert.True(t, Rect{W: 0, H: 10}.Empty())
	assert.False(t, Rect{W: 1, H: 1}.Empty())
}

func TestRectContains(t *testing.T) {
	r := Rect{X: 10, Y: 10, W: 20, H: 20}
	assert.True(t, r.Contains(Point{X: 10, Y: 10}))
	assert.True(t, r.Contains(Point{X: 29, Y: 29}))
	assert.False(t, r.Contains(Point{X: 30, Y: 10}))
	assert.False(t, r.Contains(Point{X: 9, Y: 10}))
}

func TestRectClipIntersectsWithFrameBounds(t *testing.T) {
	r := Rect{X: -5, Y: -5, W: 20, H: 20}
	got := r.Clip(10, 10)
	assert.Equal(t, Rect{X: 0, Y: 0, W: 10, H: 10}, got)
}

func TestRectClipEntirelyOutsideReturnsEmpty(t *testing.T) {
	r := Rect{X: 100, Y: 100, W: 10, H: 10}
	got := r.Clip(50, 50)
	assert.True(t, got.Empty())
}

func TestPixelFormatBytesPerPixel(t *testing.T) {
	assert.Equal(t, 4, FormatBGRA8.BytesPerPixel())
	assert.Equal(t, 3, FormatBGR8.BytesPerPixel())
}
