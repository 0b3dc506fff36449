// Package capture implements the capture backend (C3) and the shared
// frame cache (C4). The backend wraps the Windows.Graphics.Capture
// surface exclusively — the design forbids falling back to BitBlt or
// PrintWindow, so a failed capture start fails fast rather than trying
// an alternate path.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"

	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/pkg/types"
)

var (
	procShowWindow = windows.NewLazySystemDLL("user32.dll").NewProc("ShowWindow")
	procIsIconicBK = windows.NewLazySystemDLL("user32.dll").NewProc("IsIconic")
)

const swShowNoActivate = 4

// Sentinel errors, per §4.3.
var (
	ErrUnsupported = errors.New("capture: graphics capture unsupported on this system")
	ErrUnavailable = errors.New("capture: frame temporarily unavailable")
	ErrClosed      = errors.New("capture: session closed")
)

// Source identifies what a session captures.
type Source struct {
	Kind    types.CaptureBackendKind
	Handle  uintptr // valid when Kind == BackendWindow
	Monitor string  // monitor id, valid when Kind == BackendMonitor
}

// Options configures a capture session, per §4.3's start(source, opts).
type Options struct {
	IncludeCursor  bool
	BorderRequired bool
	FPSMax         int
	TimeoutMS      int
	RestoreMinimizedNoActivate bool
}

// Session is one active graphics-capture session against a single
// source. A Session is not safe for concurrent Start/Stop, but
// LatestFrame is safe to call concurrently with the internal poll loop.
type Session struct {
	logger *zap.Logger
	source Source
	opts   Options

	mu       sync.Mutex
	latest   *types.Frame
	lastSeen time.Time
	closed   bool

	sizing sizeDebouncer
	poolW, poolH int

	cancel     context.CancelFunc
	done       chan struct{}
	restoredOnce bool

	// com holds the live WinRT/D3D11 objects for this session; nil when
	// running against a synthetic/offline frame source in tests.
	com *comResources
}

type comResources struct {
	device      *d3dDevice
	captureItem comObject
	framePool   comObject
	captureSess comObject
}

// Start opens a capture session per §4.3. On any failure to acquire the
// graphics-capture surface it returns immediately — there is no
// fallback path to try.
func Start(logger *zap.Logger, source Source, opts Options) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.FPSMax <= 0 {
		opts.FPSMax = 30
	}
	if opts.TimeoutMS <= 0 {
		opts.TimeoutMS = 5000
	}

	s := &Session{
		logger: logger,
		source: source,
		opts:   opts,
		done:   make(chan struct{}),
	}

	if source.Kind == types.BackendWindow && source.Handle != 0 {
		s.maybeRestoreMinimized()
	}

	com, err := startComSession(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	s.com = com

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.pollLoop(ctx)

	logger.Info("capture session started",
		zap.String("kind", string(source.Kind)),
		zap.Uintptr("handle", source.Handle))
	return s, nil
}

func (s *Session) maybeRestoreMinimized() {
	if !s.opts.RestoreMinimizedNoActivate || s.restoredOnce {
		return
	}
	iconic, _, _ := procIsIconicBK.Call(s.source.Handle)
	if iconic != 0 {
		procShowWindow.Call(s.source.Handle, swShowNoActivate)
	}
	s.restoredOnce = true
}

// pollLoop stands in for the OS's frame-arrived callback: it polls the
// frame pool at opts.FPSMax and publishes at most one pending surface
// at a time (latest-wins), matching the "never queues more than one
// pending surface" rule in §4.3.
func (s *Session) pollLoop(ctx context.Context) {
	defer close(s.done)
	interval := time.Second / time.Duration(s.opts.FPSMax)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, contentW, contentH, err := s.com.tryGetNextFrame(s.poolW, s.poolH)
			if err != nil {
				s.logger.Debug("capture poll error", zap.Error(err))
				continue
			}
			if frame == nil {
				continue
			}
			if rebuild, newW, newH := s.sizing.observe(contentW, contentH); rebuild {
				if err := s.com.recreatePool(newW, newH); err != nil {
					s.logger.Warn("frame pool rebuild failed", zap.Error(err))
				} else {
					s.poolW, s.poolH = newW, newH
				}
			}
			s.mu.Lock()
			s.latest = frame
			s.lastSeen = time.Now()
			s.mu.Unlock()
		}
	}
}

// LatestFrame returns the most recently published frame, or nil if
// nothing has arrived within TimeoutMS (§4.3's `latest_frame()`).
func (s *Session) LatestFrame() (*types.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.latest == nil {
		return nil, nil
	}
	if time.Since(s.lastSeen) > time.Duration(s.opts.TimeoutMS)*time.Millisecond {
		return nil, nil
	}
	return s.latest, nil
}

// Stop is idempotent; it releases the frame pool and capture item.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
	if s.com != nil {
		s.com.release()
	}
	s.logger.Info("capture session stopped")
}

// sizeDebouncer implements §4.3's content-size debounce: a pool rebuild
// fires only once a new content size has been observed stable across a
// short debounce window (2 frames), so brief resize jitter doesn't
// thrash the pool.
type sizeDebouncer struct {
	lastW, lastH     int
	stableW, stableH int
	stableCount      int
	rebuiltW, rebuiltH int
}

const debounceFrames = 2

// observe records one content-size sample and reports whether a pool
// rebuild should fire now, along with the target size.
func (d *sizeDebouncer) observe(w, h int) (rebuild bool, newW, newH int) {
	if w == d.stableW && h == d.stableH {
		d.stableCount++
	} else {
		d.stableW, d.stableH = w, h
		d.stableCount = 1
	}
	d.lastW, d.lastH = w, h
	if d.stableCount >= debounceFrames && (d.rebuiltW != w || d.rebuiltH != h) {
		d.rebuiltW, d.rebuiltH = w, h
		return true, w, h
	}
	return false, 0, 0
}

// copyRowPitch copies exactly width*bpp bytes from each of height rows
// of src (whose rows are rowPitch bytes apart) into a tightly packed
// dst buffer. This is the only place row bytes are read; reading the
// full stride would pull in alignment padding and, on a resized
// surface, produce diagonal shear — forbidden by §4.3.
func copyRowPitch(src []byte, width, height, rowPitch, bpp int) []byte {
	rowBytes := width * bpp
	dst := make([]byte, rowBytes*height)
	for row := 0; row < height; row++ {
		srcOff := row * rowPitch
		dstOff := row * rowBytes
		if srcOff+rowBytes > len(src) {
			break
		}
		copy(dst[dstOff:dstOff+rowBytes], src[srcOff:srcOff+rowBytes])
	}
	return dst
}

// clipToContent clips (width, height) to the content size reported by
// the surface, per §4.3's "clip the published frame to
// min(content_size, pool_size)" rule.
func clipToContent(poolW, poolH, contentW, contentH int) (int, int) {
	w, h := poolW, poolH
	if contentW > 0 && contentW < w {
		w = contentW
	}
	if contentH > 0 && contentH < h {
		h = contentH
	}
	return w, h
}
