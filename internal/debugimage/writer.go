// Package debugimage implements the supplemented debug-image capture
// feature: on a Click or Error event, write the frame that triggered
// it to a date-structured directory as a PNG. Grounded on the
// teacher's ImageProcessor.SaveWithTimestamp (internal/screenshot/
// encoder.go), adapted from a flat timestamp-prefixed filename to the
// <dir>/<year>/<month>/<day>/ layout the design calls for.
package debugimage

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/pkg/types"
)

// Writer saves frames for later inspection. A nil Writer (via NewNop)
// makes Save a no-op, so call sites don't need to branch on whether
// debug capture is enabled.
type Writer struct {
	enabled bool
	baseDir string
	logger  *zap.Logger
}

func New(baseDir string, enabled bool, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{enabled: enabled, baseDir: baseDir, logger: logger}
}

// Save writes frame as a PNG under baseDir/YYYY/MM/DD/<timestamp>-<state>.png.
// state is a short tag such as "click" or "error" identifying why the
// capture was taken.
func (w *Writer) Save(frame *types.Frame, state string, at time.Time) {
	if w == nil || !w.enabled || frame == nil {
		return
	}
	dir := filepath.Join(w.baseDir, at.Format("2006"), at.Format("01"), at.Format("02"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		w.logger.Warn("debugimage: mkdir failed", zap.Error(err))
		return
	}
	name := fmt.Sprintf("%s-%s.png", at.Format("20060102T150405.000"), state)
	path := filepath.Join(dir, name)

	file, err := os.Create(path)
	if err != nil {
		w.logger.Warn("debugimage: create failed", zap.Error(err))
		return
	}
	defer file.Close()

	img := frameToImage(frame)
	if err := png.Encode(file, img); err != nil {
		w.logger.Warn("debugimage: encode failed", zap.Error(err))
		return
	}
	w.logger.Debug("debugimage: saved", zap.String("path", path))
}

// frameToImage reinterprets a tightly packed BGRA8/BGR8 frame as an
// image.Image without copying pixel storage beyond the channel swap
// image.NRGBA requires.
func frameToImage(frame *types.Frame) image.Image {
	bpp := frame.Format.BytesPerPixel()
	img := image.NewNRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for y := 0; y < frame.Height; y++ {
		rowOff := y * frame.Width * bpp
		for x := 0; x < frame.Width; x++ {
			px := rowOff + x*bpp
			if px+2 >= len(frame.Data) {
				continue
			}
			b, g, r := frame.Data[px], frame.Data[px+1], frame.Data[px+2]
			a := byte(255)
			if bpp >= 4 && px+3 < len(frame.Data) {
				a = frame.Data[px+3]
			}
			o := img.PixOffset(x, y)
			img.Pix[o+0] = r
			img.Pix[o+1] = g
			img.Pix[o+2] = b
			img.Pix[o+3] = a
		}
	}
	return img
}
