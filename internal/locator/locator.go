// Package locator implements the window locator (C2): resolving a
// WindowTarget to a live top-level window handle, and reporting the
// foreground window and client rectangles the rest of the pipeline
// needs in physical pixels.
package locator

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"

	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/pkg/types"
)

var (
	user32   = windows.NewLazySystemDLL("user32.dll")
	kernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procEnumWindows           = user32.NewProc("EnumWindows")
	procGetWindowTextW        = user32.NewProc("GetWindowTextW")
	procIsWindowVisible       = user32.NewProc("IsWindowVisible")
	procIsIconic              = user32.NewProc("IsIconic")
	procIsWindow               = user32.NewProc("IsWindow")
	procGetForegroundWindow   = user32.NewProc("GetForegroundWindow")
	procGetClientRect         = user32.NewProc("GetClientRect")
	procClientToScreen        = user32.NewProc("ClientToScreen")
	procGetWindowThreadProcID = user32.NewProc("GetWindowThreadProcessId")
	procOpenProcess           = kernel32.NewProc("OpenProcess")
	procQueryFullProcessImage = kernel32.NewProc("QueryFullProcessImageNameW")
	procCloseHandle           = kernel32.NewProc("CloseHandle")
)

const (
	processQueryLimitedInformation = 0x1000
)

// Sentinel errors per §4.2: both recoverable by the caller retrying on
// the next tick.
var (
	ErrNotFound = errors.New("locator: no candidate window found")
	ErrStale    = errors.New("locator: handle no longer refers to a live window")
)

type winRect struct{ Left, Top, Right, Bottom int32 }

// Locator resolves WindowTargets. It never activates or raises windows;
// every call here is passively read-only against the window manager.
type Locator struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Locator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locator{logger: logger}
}

type candidate struct {
	handle  uintptr
	title   string
	visible bool
	iconic  bool
	zOrder  int
}

// Resolve performs, in order: explicit handle, title match, process
// match. Ties among multiple title/process matches are broken by
// preferring visible non-minimized windows, then by z-order (earliest
// enumerated wins, since EnumWindows visits top-to-bottom in z-order).
func (l *Locator) Resolve(target types.WindowTarget) (uintptr, error) {
	if target.Handle != 0 {
		if l.isLiveWindow(target.Handle) {
			return target.Handle, nil
		}
		if !target.AutoUpdateByProcess || target.Process == "" {
			return 0, fmt.Errorf("locator: handle %d: %w", target.Handle, ErrStale)
		}
		// Fall through to process-based re-resolution below.
	}

	candidates, err := l.enumerateTopLevel()
	if err != nil {
		return 0, err
	}

	if target.Title != "" {
		if h, ok := pickBestTitleMatch(candidates, target.Title, target.TitlePartialMatch); ok {
			return h, nil
		}
		return 0, fmt.Errorf("locator: title %q: %w", target.Title, ErrNotFound)
	}

	if target.Process != "" {
		for _, c := range candidates {
			name, err := l.processImageName(c.handle)
			if err != nil {
				continue
			}
			if strings.EqualFold(name, target.Process) || strings.EqualFold(baseName(name), target.Process) {
				return c.handle, nil
			}
		}
		return 0, fmt.Errorf("locator: process %q: %w", target.Process, ErrNotFound)
	}

	return 0, ErrNotFound
}

func pickBestTitleMatch(candidates []candidate, title string, partial bool) (uintptr, bool) {
	var best *candidate
	for i := range candidates {
		c := &candidates[i]
		if c.iconic {
			continue
		}
		match := false
		if partial {
			match = strings.Contains(c.title, title)
		} else {
			match = c.title == title
		}
		if !match {
			continue
		}
		if best == nil || (c.visible && !best.visible) || (c.visible == best.visible && c.zOrder < best.zOrder) {
			best = c
		}
	}
	if best == nil {
		return 0, false
	}
	return best.handle, true
}

func (l *Locator) enumerateTopLevel() ([]candidate, error) {
	var out []candidate
	cb := syscall.NewCallback(func(hwnd uintptr, _ uintptr) uintptr {
		visible, _, _ := procIsWindowVisible.Call(hwnd)
		iconic, _, _ := procIsIconic.Call(hwnd)
		title := windowText(hwnd)
		out = append(out, candidate{
			handle:  hwnd,
			title:   title,
			visible: visible != 0,
			iconic:  iconic != 0,
			zOrder:  len(out),
		})
		return 1
	})
	ret, _, errno := procEnumWindows.Call(cb, 0)
	if ret == 0 {
		return nil, fmt.Errorf("locator: EnumWindows failed: %w", errno)
	}
	return out, nil
}

func windowText(hwnd uintptr) string {
	buf := make([]uint16, 512)
	n, _, _ := procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if n == 0 {
		return ""
	}
	return windows.UTF16ToString(buf[:n])
}

func (l *Locator) isLiveWindow(handle uintptr) bool {
	ret, _, _ := procIsWindow.Call(handle)
	return ret != 0
}

// ForegroundHandle returns the current foreground window, or 0 if none.
func (l *Locator) ForegroundHandle() uintptr {
	h, _, _ := procGetForegroundWindow.Call()
	return h
}

// ClientRect returns handle's client area in physical screen pixels
// (top-left mapped via ClientToScreen, size from GetClientRect).
func (l *Locator) ClientRect(handle uintptr) (types.Rect, error) {
	if !l.isLiveWindow(handle) {
		return types.Rect{}, ErrStale
	}
	var r winRect
	ret, _, _ := procGetClientRect.Call(handle, uintptr(unsafe.Pointer(&r)))
	if ret == 0 {
		return types.Rect{}, fmt.Errorf("locator: GetClientRect failed")
	}
	topLeft := struct{ X, Y int32 }{0, 0}
	procClientToScreen.Call(handle, uintptr(unsafe.Pointer(&topLeft)))
	return types.Rect{
		X: int(topLeft.X),
		Y: int(topLeft.Y),
		W: int(r.Right - r.Left),
		H: int(r.Bottom - r.Top),
	}, nil
}

// ForegroundProcessName returns the image base name of the foreground
// window's owning process, used by the adaptive scheduler's whitelist
// check.
func (l *Locator) ForegroundProcessName() (string, error) {
	h := l.ForegroundHandle()
	if h == 0 {
		return "", ErrNotFound
	}
	name, err := l.processImageName(h)
	if err != nil {
		return "", err
	}
	return baseName(name), nil
}

func (l *Locator) processImageName(handle uintptr) (string, error) {
	var pid uint32
	procGetWindowThreadProcID.Call(handle, uintptr(unsafe.Pointer(&pid)))
	if pid == 0 {
		return "", fmt.Errorf("locator: no owning pid for handle")
	}
	h, _, _ := procOpenProcess.Call(processQueryLimitedInformation, 0, uintptr(pid))
	if h == 0 {
		return "", fmt.Errorf("locator: OpenProcess failed for pid %d", pid)
	}
	defer procCloseHandle.Call(h)

	buf := make([]uint16, windows.MAX_PATH)
	size := uint32(len(buf))
	ret, _, _ := procQueryFullProcessImage.Call(h, 0, uintptr(unsafe.Pointer(&buf[0])), uintptr(unsafe.Pointer(&size)))
	if ret == 0 {
		return "", fmt.Errorf("locator: QueryFullProcessImageNameW failed")
	}
	return windows.UTF16ToString(buf[:size]), nil
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `\/`); i >= 0 {
		return path[i+1:]
	}
	return path
}
