package match

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/pkg/types"
)

func checkerValue(x, y int, a, b byte) byte {
	if (x+y)%2 == 0 {
		return a
	}
	return b
}

// checkerFrame builds a BGRA8 Frame of w x h filled with a flat
// background, with a checkerboard "button" patch at (px,py,pw,ph) using
// the same two-tone pattern grayTemplate uses, so NCC has real texture
// to correlate against instead of a degenerate constant region.
func checkerFrame(w, h, px, py, pw, ph int, bg byte) *types.Frame {
	data := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := (y*w + x) * 4
			v := bg
			if x >= px && x < px+pw && y >= py && y < py+ph {
				v = checkerValue(x-px, y-py, 220, 40)
			}
			data[o], data[o+1], data[o+2], data[o+3] = v, v, v, 255
		}
	}
	return &types.Frame{Width: w, Height: h, Format: types.FormatBGRA8, RowPitch: w * 4, Data: data, Timestamp: time.Now()}
}

func checkerTemplate(id string, w, h int) *types.Template {
	gray := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gray.SetGray(x, y, color.Gray{Y: checkerValue(x, y, 220, 40)})
		}
	}
	return &types.Template{
		ID: id, Width: w, Height: h,
		Pyramid: []types.ScaledVariant{{Scale: 1.0, Gray: gray}},
	}
}

func flatTemplate(id string, w, h int, v byte) *types.Template {
	gray := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gray.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return &types.Template{
		ID: id, Width: w, Height: h,
		Pyramid: []types.ScaledVariant{{Scale: 1.0, Gray: gray}},
	}
}

func TestMatchOneFindsExactPatch(t *testing.T) {
	frame := checkerFrame(100, 80, 40, 30, 20, 10, 120)
	tpl := checkerTemplate("confirm", 20, 10)

	result, err := MatchOne(frame, []*types.Template{tpl}, Options{Threshold: 0.9})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "confirm", result.TemplateID)
	assert.InDelta(t, 1.0, result.Score, 1e-6)
	assert.Equal(t, types.Point{X: 40 + 10, Y: 30 + 5}, result.Center)
}

func TestMatchOneReturnsNilOnCleanMiss(t *testing.T) {
	frame := checkerFrame(100, 80, 0, 0, 0, 0, 10) // flat everywhere, no patch
	tpl := checkerTemplate("confirm", 20, 10)

	result, err := MatchOne(frame, []*types.Template{tpl}, Options{Threshold: 0.9})
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestMatchOneFrameTooSmallAtEveryScale(t *testing.T) {
	frame := checkerFrame(10, 10, 0, 0, 0, 0, 10)
	tpl := checkerTemplate("confirm", 50, 50)

	result, err := MatchOne(frame, []*types.Template{tpl}, Options{Threshold: 0.9})
	assert.ErrorIs(t, err, ErrFrameTooSmall)
	assert.Nil(t, result)
}

func TestMatchOneEarlyExitsOnFirstQualifyingTemplate(t *testing.T) {
	frame := checkerFrame(100, 80, 40, 30, 20, 10, 120)
	first := checkerTemplate("first", 20, 10)
	second := flatTemplate("second", 20, 10, 250)

	result, err := MatchOne(frame, []*types.Template{first, second}, Options{Threshold: 0.9})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "first", result.TemplateID)
}

func TestBetterCandidatePrefersHigherScore(t *testing.T) {
	best := &types.MatchResult{Score: 0.8, Scale: 1.0}
	cand := &types.MatchResult{Score: 0.9, Scale: 1.0}
	assert.True(t, betterCandidate(cand, best))
	assert.False(t, betterCandidate(best, cand))
}

func TestBetterCandidateTiesPreferScaleClosestToNative(t *testing.T) {
	best := &types.MatchResult{Score: 0.9, Scale: 1.2}
	cand := &types.MatchResult{Score: 0.9, Scale: 1.05}
	assert.True(t, betterCandidate(cand, best))
}

func TestBetterCandidateTiesPreferTopLeftMost(t *testing.T) {
	best := &types.MatchResult{Score: 0.9, Scale: 1.0, Center: types.Point{X: 50, Y: 50}}
	cand := &types.MatchResult{Score: 0.9, Scale: 1.0, Center: types.Point{X: 10, Y: 50}}
	assert.True(t, betterCandidate(cand, best))
}
