// Package types holds the data model shared across the capture, match,
// and click pipeline: the shapes that cross component boundaries.
package types

import (
	"image"
	"time"
)

// Point is a coordinate pair. Used for both physical and logical space;
// callers are responsible for knowing which space a given Point lives in.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Rect is an axis-aligned rectangle, top-left plus size.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Empty reports whether the rectangle has zero width or height, the
// sentinel the region-of-interest config uses to mean "full frame".
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// Contains reports whether p falls within r.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X < r.X+r.W && p.Y >= r.Y && p.Y < r.Y+r.H
}

// Clip restricts r to the bounds of a frameW x frameH frame, returning
// the intersection.
func (r Rect) Clip(frameW, frameH int) Rect {
	x0, y0 := max(r.X, 0), max(r.Y, 0)
	x1, y1 := min(r.X+r.W, frameW), min(r.Y+r.H, frameH)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

func (r Rect) ToImageRect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Monitor describes one display as enumerated by the DPI registry (C1).
type Monitor struct {
	ID          string  `json:"id"`
	Bounds      Rect    `json:"bounds"` // physical pixels, virtual-screen coordinates
	ScaleFactor float64 `json:"scale_factor"`
	Primary     bool    `json:"primary"`
}

// CaptureBackendKind selects what a capture session targets.
type CaptureBackendKind string

const (
	BackendWindow  CaptureBackendKind = "window"
	BackendMonitor CaptureBackendKind = "monitor"
)

// WindowTarget is the stable identity the locator resolves to a handle.
// The locator tries Handle, then Title, then Process, in that order.
type WindowTarget struct {
	Handle              uintptr `json:"handle"`
	Title               string  `json:"title"`
	TitlePartialMatch   bool    `json:"title_partial_match"`
	Process             string  `json:"process"`
	AutoUpdateByProcess bool    `json:"auto_update_by_process"`
}

// PixelFormat identifies how Frame.Data is laid out.
type PixelFormat int

const (
	FormatBGRA8 PixelFormat = iota
	FormatBGR8
)

// BytesPerPixel returns the stride unit for a PixelFormat.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatBGR8:
		return 3
	default:
		return 4
	}
}

// Frame is one captured surface, already copied off the GPU and stripped
// of row-pitch padding by the capture backend before it reaches the
// cache. Width/Height describe the visible content, not the pool size.
type Frame struct {
	Width       int
	Height      int
	Format      PixelFormat
	RowPitch    int // bytes per row as captured, before Data was repacked
	Data        []byte
	Timestamp   time.Time // monotonic capture timestamp
	ContentSize image.Point
}

// Template is one loaded and preprocessed confirmation-button image.
type Template struct {
	ID      string
	Path    string
	BGR     *image.NRGBA
	Gray    *image.Gray
	Pyramid []ScaledVariant
	Width   int
	Height  int
}

// ScaledVariant is one entry of a Template's precomputed scale pyramid.
type ScaledVariant struct {
	Scale float64
	Gray  *image.Gray
	BGR   *image.NRGBA
}

// MatchResult is one qualifying matcher output for a single template
// against a single frame.
type MatchResult struct {
	TemplateID string
	Center     Point
	Score      float64
	Scale      float64
	Timestamp  time.Time
}

// ScannerState is the scanner orchestrator's current state.
type ScannerState string

const (
	StateIdle     ScannerState = "Idle"
	StateArming   ScannerState = "Arming"
	StateScanning ScannerState = "Scanning"
	StateCooldown ScannerState = "Cooldown"
	StatePaused   ScannerState = "Paused"
	StateFaulted  ScannerState = "Faulted"
)

// ClickResult is the outcome of one click-dispatch attempt.
type ClickResult struct {
	Handle      uintptr
	ScreenPoint Point
	TemplateID  string
	Dispatched  bool
	Timestamp   time.Time
}

// PerfSample is one performance snapshot emitted on the status channel.
type PerfSample struct {
	FPS       float64
	CPUPct    float64
	MemMB     float64
	Timestamp time.Time
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
