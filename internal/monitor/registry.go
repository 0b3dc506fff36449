// Package monitor implements the monitor and DPI registry (C1): display
// enumeration and the physical<->logical coordinate transforms every
// other component relies on to talk to the OS in physical pixels.
package monitor

import (
	"fmt"
	"sync"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"

	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/pkg/types"
)

var (
	user32   = windows.NewLazySystemDLL("user32.dll")
	shcore   = windows.NewLazySystemDLL("shcore.dll")

	procEnumDisplayMonitors        = user32.NewProc("EnumDisplayMonitors")
	procGetMonitorInfoW            = user32.NewProc("GetMonitorInfoW")
	procMonitorFromWindow          = user32.NewProc("MonitorFromWindow")
	procMonitorFromPoint           = user32.NewProc("MonitorFromPoint")
	procGetDpiForMonitor           = shcore.NewProc("GetDpiForMonitor")
	procSetProcessDpiAwarenessCtx  = user32.NewProc("SetProcessDpiAwarenessContext")
)

const (
	monitorDefaultToNearest = 2
	mdtEffectiveDPI         = 0
	// DPI_AWARENESS_CONTEXT_PER_MONITOR_AWARE_V2, per the Win32 SDK headers.
	dpiAwarenessContextPerMonitorAwareV2 = ^uintptr(3) // -4 as uintptr
	baseDPI                              = 96.0
)

type rect struct{ Left, Top, Right, Bottom int32 }

type monitorInfoExW struct {
	CbSize    uint32
	RcMonitor rect
	RcWork    rect
	Flags     uint32
	SzDevice  [32]uint16
}

// Registry enumerates displays and answers coordinate-transform queries.
// It is initialized once per process and re-populated on display-change
// notifications; callers take a snapshot via Snapshot so in-flight
// transforms remain valid across a re-enumeration (the §5 copy-on-
// reconfigure rule for C1).
type Registry struct {
	mu       sync.RWMutex
	monitors []types.Monitor
	logger   *zap.Logger
}

// New enables per-monitor v2 DPI awareness for the process (best-effort;
// a process already started with a manifest-declared awareness mode
// will report the call as a no-op failure, which is not fatal) and
// performs the first enumeration.
func New(logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if procSetProcessDpiAwarenessCtx.Find() == nil {
		r, _, _ := procSetProcessDpiAwarenessCtx.Call(dpiAwarenessContextPerMonitorAwareV2)
		if r == 0 {
			logger.Debug("SetProcessDpiAwarenessContext did not apply (already set by manifest?)")
		}
	}
	reg := &Registry{logger: logger}
	if err := reg.Refresh(); err != nil {
		return nil, err
	}
	return reg, nil
}

// Refresh re-enumerates displays. Existing Snapshot results remain valid
// until the caller takes a new one.
func (r *Registry) Refresh() error {
	var mons []types.Monitor
	cb := windows.NewCallback(func(hMonitor uintptr, _ uintptr, _ uintptr, _ uintptr) uintptr {
		mi := monitorInfoExW{CbSize: uint32(unsafe.Sizeof(monitorInfoExW{}))}
		ret, _, _ := procGetMonitorInfoW.Call(hMonitor, uintptr(unsafe.Pointer(&mi)))
		if ret == 0 {
			return 1
		}
		scale := baseDPI
		if procGetDpiForMonitor.Find() == nil {
			var dpiX, dpiY uint32
			procGetDpiForMonitor.Call(hMonitor, mdtEffectiveDPI,
				uintptr(unsafe.Pointer(&dpiX)), uintptr(unsafe.Pointer(&dpiY)))
			if dpiX > 0 {
				scale = float64(dpiX)
			}
		}
		mons = append(mons, types.Monitor{
			ID: fmt.Sprintf("monitor-%d", len(mons)+1),
			Bounds: types.Rect{
				X: int(mi.RcMonitor.Left),
				Y: int(mi.RcMonitor.Top),
				W: int(mi.RcMonitor.Right - mi.RcMonitor.Left),
				H: int(mi.RcMonitor.Bottom - mi.RcMonitor.Top),
			},
			ScaleFactor: scale / baseDPI,
			Primary:     mi.Flags&1 != 0,
		})
		return 1
	})
	ret, _, _ := procEnumDisplayMonitors.Call(0, 0, cb, 0)
	if ret == 0 {
		return fmt.Errorf("monitor: EnumDisplayMonitors failed")
	}
	r.mu.Lock()
	r.monitors = mons
	r.mu.Unlock()
	r.logger.Info("monitor registry refreshed", zap.Int("count", len(mons)))
	return nil
}

// ListMonitors returns a snapshot of all enumerated displays.
func (r *Registry) ListMonitors() []types.Monitor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Monitor, len(r.monitors))
	copy(out, r.monitors)
	return out
}

// MonitorForPoint returns the monitor containing p (virtual-screen
// physical coordinates), or the nearest monitor if p lies off every
// display, matching MonitorFromPoint's MONITOR_DEFAULTTONEAREST mode.
func (r *Registry) MonitorForPoint(p types.Point) (types.Monitor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.monitors {
		if m.Bounds.Contains(p) {
			return m, true
		}
	}
	return r.nearest(p)
}

func (r *Registry) nearest(p types.Point) (types.Monitor, bool) {
	if len(r.monitors) == 0 {
		return types.Monitor{}, false
	}
	best := r.monitors[0]
	bestDist := dist2(best.Bounds, p)
	for _, m := range r.monitors[1:] {
		if d := dist2(m.Bounds, p); d < bestDist {
			best, bestDist = m, d
		}
	}
	return best, true
}

func dist2(r types.Rect, p types.Point) int64 {
	cx := r.X + r.W/2
	cy := r.Y + r.H/2
	dx := int64(cx - p.X)
	dy := int64(cy - p.Y)
	return dx*dx + dy*dy
}

// MonitorForWindow returns the monitor most overlapping handle's window,
// using MONITOR_DEFAULTTONEAREST semantics via the OS call directly so
// it works even when ListMonitors has gone stale relative to a moved
// window.
func (r *Registry) MonitorForWindow(handle uintptr) (types.Monitor, bool) {
	hMonitor, _, _ := procMonitorFromWindow.Call(handle, monitorDefaultToNearest)
	if hMonitor == 0 {
		return types.Monitor{}, false
	}
	mi := monitorInfoExW{CbSize: uint32(unsafe.Sizeof(monitorInfoExW{}))}
	ret, _, _ := procGetMonitorInfoW.Call(hMonitor, uintptr(unsafe.Pointer(&mi)))
	if ret == 0 {
		return types.Monitor{}, false
	}
	bounds := types.Rect{
		X: int(mi.RcMonitor.Left), Y: int(mi.RcMonitor.Top),
		W: int(mi.RcMonitor.Right - mi.RcMonitor.Left),
		H: int(mi.RcMonitor.Bottom - mi.RcMonitor.Top),
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.monitors {
		if m.Bounds == bounds {
			return m, true
		}
	}
	return types.Monitor{Bounds: bounds, ScaleFactor: 1.0}, true
}

// ToLogical converts a physical point into the monitor's logical space.
func (r *Registry) ToLogical(m types.Monitor, physical types.Point) types.Point {
	if m.ScaleFactor <= 0 {
		return physical
	}
	return types.Point{
		X: int(float64(physical.X-m.Bounds.X)/m.ScaleFactor) + m.Bounds.X,
		Y: int(float64(physical.Y-m.Bounds.Y)/m.ScaleFactor) + m.Bounds.Y,
	}
}

// ToPhysical converts a logical point back into physical pixels.
func (r *Registry) ToPhysical(m types.Monitor, logical types.Point) types.Point {
	if m.ScaleFactor <= 0 {
		return logical
	}
	return types.Point{
		X: int(float64(logical.X-m.Bounds.X)*m.ScaleFactor) + m.Bounds.X,
		Y: int(float64(logical.Y-m.Bounds.Y)*m.ScaleFactor) + m.Bounds.Y,
	}
}

// MonitorByIndex returns the 1-based monitor matching config's
// monitor_index convention.
func (r *Registry) MonitorByIndex(index int) (types.Monitor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if index < 1 || index > len(r.monitors) {
		return types.Monitor{}, false
	}
	return r.monitors[index-1], true
}
