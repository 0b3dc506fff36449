// Package click implements the click dispatcher (C8): coordinate
// transform plus a non-activating, message-based left-click with
// per-handle cooldown. Grounded on the teacher's Win32 syscall idiom
// (NewLazyDLL/NewProc) applied to the message-post surface instead of
// window enumeration.
package click

import (
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"

	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/pkg/types"
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")

	procPostMessageW        = user32.NewProc("PostMessageW")
	procSendMessageTimeoutW = user32.NewProc("SendMessageTimeoutW")
	procIsWindowClick       = user32.NewProc("IsWindow")
	procScreenToClientClick = user32.NewProc("ScreenToClient")
)

const (
	wmLButtonDown = 0x0201
	wmLButtonUp   = 0x0202
	mkLButton     = 0x0001

	smtoAbortIfHung = 0x0002
)

// Sentinel errors per §4.8; all recoverable by the orchestrator.
var (
	ErrWindowGone  = errors.New("click: target window no longer exists")
	ErrOutOfBounds = errors.New("click: point no longer lies within the target client region")
	ErrPostFailed  = errors.New("click: message post/send failed")
)

// ErrCooling is returned (silently per §4.8, i.e. not logged as an
// error) when a click is refused because cooldown has not elapsed.
var ErrCooling = errors.New("click: cooldown active")

// Method selects the dispatch mode; "simulate" is reserved for a
// future SendInput-based path and is not implemented — the design's
// default and only wired mode is message-based.
type Method string

const (
	MethodMessage  Method = "message"
	MethodSimulate Method = "simulate"
)

// Options configures one dispatch call. GuardedTimeoutMS is opt-in: zero
// (the default) sends via plain PostMessageW, and only a positive value
// switches to SendMessageTimeoutW for callers that need hang protection.
type Options struct {
	Method                   Method
	VerifyWindowBeforeClick  bool
	CooldownS                float64
	GuardedTimeoutMS         int
}

// Dispatcher tracks per-handle cooldown and issues clicks.
type Dispatcher struct {
	mu       sync.Mutex
	lastSent map[uintptr]time.Time
	logger   *zap.Logger
}

func New(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{lastSent: make(map[uintptr]time.Time), logger: logger}
}

// Dispatch performs the §4.8 steps: client-rect lookup, coordinate
// transform, optional bounds re-check, client-relative conversion, and
// the down/up message pair. clientRect is the target's current client
// rect in physical pixels (obtained by the caller from the locator so
// this package stays free of window-resolution concerns).
func (d *Dispatcher) Dispatch(handle uintptr, clientRect types.Rect, framePoint, clickOffset types.Point, opts Options) (types.ClickResult, error) {
	if opts.CooldownS <= 0 {
		opts.CooldownS = 5.0
	}

	d.mu.Lock()
	if last, ok := d.lastSent[handle]; ok && time.Since(last) < durationFromSeconds(opts.CooldownS) {
		d.mu.Unlock()
		return types.ClickResult{}, ErrCooling
	}
	d.mu.Unlock()

	if ok, _, _ := procIsWindowClick.Call(handle); ok == 0 {
		return types.ClickResult{}, ErrWindowGone
	}

	screenPoint := computeScreenPoint(clientRect, framePoint, clickOffset)

	if opts.VerifyWindowBeforeClick && !clientRect.Contains(screenPoint) {
		return types.ClickResult{}, ErrOutOfBounds
	}

	clientPoint := struct{ X, Y int32 }{int32(screenPoint.X), int32(screenPoint.Y)}
	if ret, _, _ := procScreenToClientClick.Call(handle, uintptr(unsafe.Pointer(&clientPoint))); ret == 0 {
		return types.ClickResult{}, fmt.Errorf("%w: ScreenToClient failed", ErrPostFailed)
	}
	lparam := uintptr(uint32(clientPoint.X)) | uintptr(uint32(clientPoint.Y))<<16

	if err := d.sendClick(handle, lparam, opts); err != nil {
		return types.ClickResult{}, err
	}

	d.mu.Lock()
	d.lastSent[handle] = time.Now()
	d.mu.Unlock()

	result := types.ClickResult{
		Handle:      handle,
		ScreenPoint: screenPoint,
		Dispatched:  true,
		Timestamp:   time.Now(),
	}
	d.logger.Info("click dispatched", zap.Uintptr("handle", handle),
		zap.Int("x", screenPoint.X), zap.Int("y", screenPoint.Y))
	return result, nil
}

func (d *Dispatcher) sendClick(handle uintptr, lparam uintptr, opts Options) error {
	if opts.GuardedTimeoutMS > 0 {
		var result uintptr
		ret, _, _ := procSendMessageTimeoutW.Call(handle, wmLButtonDown, mkLButton, lparam,
			smtoAbortIfHung, uintptr(opts.GuardedTimeoutMS), uintptr(unsafe.Pointer(&result)))
		if ret == 0 {
			return fmt.Errorf("%w: left-button-down timed out or failed", ErrPostFailed)
		}
		ret, _, _ = procSendMessageTimeoutW.Call(handle, wmLButtonUp, 0, lparam,
			smtoAbortIfHung, uintptr(opts.GuardedTimeoutMS), uintptr(unsafe.Pointer(&result)))
		if ret == 0 {
			return fmt.Errorf("%w: left-button-up timed out or failed", ErrPostFailed)
		}
		return nil
	}
	if ret, _, _ := procPostMessageW.Call(handle, wmLButtonDown, mkLButton, lparam); ret == 0 {
		return fmt.Errorf("%w: PostMessageW(down) failed", ErrPostFailed)
	}
	if ret, _, _ := procPostMessageW.Call(handle, wmLButtonUp, 0, lparam); ret == 0 {
		return fmt.Errorf("%w: PostMessageW(up) failed", ErrPostFailed)
	}
	return nil
}

func durationFromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// computeScreenPoint maps a match center (frame-relative) plus a
// configured click offset onto absolute screen coordinates, anchored
// at the target's current client-rect origin.
func computeScreenPoint(clientRect types.Rect, framePoint, clickOffset types.Point) types.Point {
	return types.Point{
		X: clientRect.X + framePoint.X + clickOffset.X,
		Y: clientRect.Y + framePoint.Y + clickOffset.Y,
	}
}
