package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/pkg/types"
)

func twoMonitorRegistry() *Registry {
	return &Registry{
		monitors: []types.Monitor{
			{ID: "monitor-1", Bounds: types.Rect{X: 0, Y: 0, W: 1920, H: 1080}, ScaleFactor: 1.0, Primary: true},
			{ID: "monitor-2", Bounds: types.Rect{X: 1920, Y: 0, W: 1280, H: 1024}, ScaleFactor: 1.25},
		},
	}
}

func TestMonitorForPointInsideBounds(t *testing.T) {
	r := twoMonitorRegistry()
	m, ok := r.MonitorForPoint(types.Point{X: 2000, Y: 10})
	assert.True(t, ok)
	assert.Equal(t, "monitor-2", m.ID)
}

func TestMonitorForPointOffScreenFallsBackToNearest(t *testing.T) {
	r := twoMonitorRegistry()
	m, ok := r.MonitorForPoint(types.Point{X: -500, Y: 500})
	assert.True(t, ok)
	assert.Equal(t, "monitor-1", m.ID)
}

func TestMonitorByIndexIsOneBased(t *testing.T) {
	r := twoMonitorRegistry()
	m, ok := r.MonitorByIndex(1)
	assert.True(t, ok)
	assert.Equal(t, "monitor-1", m.ID)

	m, ok = r.MonitorByIndex(2)
	assert.True(t, ok)
	assert.Equal(t, "monitor-2", m.ID)

	_, ok = r.MonitorByIndex(0)
	assert.False(t, ok)
	_, ok = r.MonitorByIndex(3)
	assert.False(t, ok)
}

func TestToLogicalAndToPhysicalRoundTrip(t *testing.T) {
	r := twoMonitorRegistry()
	m, _ := r.MonitorByIndex(2) // 1.25 scale factor

	physical := types.Point{X: 1920 + 250, Y: 125}
	logical := r.ToLogical(m, physical)
	assert.Equal(t, types.Point{X: 1920 + 200, Y: 100}, logical)

	backToPhysical := r.ToPhysical(m, logical)
	assert.Equal(t, physical, backToPhysical)
}

func TestToLogicalZeroScaleFactorIsIdentity(t *testing.T) {
	r := &Registry{}
	m := types.Monitor{Bounds: types.Rect{X: 0, Y: 0, W: 100, H: 100}}
	p := types.Point{X: 10, Y: 10}
	assert.Equal(t, p, r.ToLogical(m, p))
	assert.Equal(t, p, r.ToPhysical(m, p))
}
