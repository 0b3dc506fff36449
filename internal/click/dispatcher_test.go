package click

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/pkg/types"
)

func TestComputeScreenPointAddsOffsetToClientOrigin(t *testing.T) {
	clientRect := types.Rect{X: 100, Y: 200, W: 800, H: 600}
	framePoint := types.Point{X: 50, Y: 60}
	offset := types.Point{X: -5, Y: 2}

	got := computeScreenPoint(clientRect, framePoint, offset)
	assert.Equal(t, types.Point{X: 145, Y: 262}, got)
}

func TestComputeScreenPointZeroOffsetIsFrameOriginTranslation(t *testing.T) {
	clientRect := types.Rect{X: 0, Y: 0, W: 800, H: 600}
	framePoint := types.Point{X: 10, Y: 10}
	got := computeScreenPoint(clientRect, framePoint, types.Point{})
	assert.Equal(t, framePoint, got)
}

func TestDurationFromSecondsHandlesFractionalSeconds(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, durationFromSeconds(0.5))
	assert.Equal(t, 5*time.Second, durationFromSeconds(5))
}
