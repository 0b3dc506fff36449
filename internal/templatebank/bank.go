// Package templatebank implements the template bank (C5): loading
// confirmation-button images, deriving grayscale and scale-pyramid
// variants, and content-addressing them so a duplicate load is a
// no-op. Grounded on the teacher's image pipeline (decode + imaging
// resize), repointed at matcher templates instead of screenshot output.
package templatebank

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/pkg/types"
)

// ErrBadTemplate is returned for an image that fails to decode or has
// zero area.
var ErrBadTemplate = errors.New("templatebank: invalid template image")

// Bank holds the immutable set of loaded templates. Reads need no lock
// once a template exists; Load/ReloadAll take the write lock briefly.
type Bank struct {
	mu        sync.RWMutex
	byID      map[string]*types.Template
	order     []string // preserves configuration order for C6's early-exit evaluation
	paths     []string // source paths, in load order, for ReloadAll
	scales    []float64
	grayscale bool
	logger    *zap.Logger
}

// New constructs an empty bank. scales is the configured pyramid ratio
// list, honored only when multiScale is true; an empty list, or
// multiScale=false, forces native scale only.
func New(logger *zap.Logger, scales []float64, grayscale bool, multiScale bool) *Bank {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !multiScale || len(scales) == 0 {
		scales = []float64{1.0}
	}
	return &Bank{
		byID:      make(map[string]*types.Template),
		scales:    scales,
		grayscale: grayscale,
		logger:    logger,
	}
}

// Load decodes path, builds its variants, and returns its content
// hash id. Loading the same bytes twice returns the existing id without
// growing the bank.
func (b *Bank) Load(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrBadTemplate, path, err)
	}
	return b.loadBytes(path, raw)
}

func (b *Bank) loadBytes(path string, raw []byte) (string, error) {
	id := contentHash(raw)

	b.mu.RLock()
	if existing, ok := b.byID[id]; ok {
		b.mu.RUnlock()
		return existing.ID, nil
	}
	b.mu.RUnlock()

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("%w: decode %s: %v", ErrBadTemplate, path, err)
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return "", fmt.Errorf("%w: %s has zero area", ErrBadTemplate, path)
	}

	bgr := imaging.Clone(img)
	gray := toGray(bgr)
	pyramid := b.buildPyramid(bgr, gray)

	tpl := &types.Template{
		ID:      id,
		Path:    path,
		BGR:     bgr,
		Gray:    gray,
		Pyramid: pyramid,
		Width:   bounds.Dx(),
		Height:  bounds.Dy(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.byID[id]; ok {
		return existing.ID, nil // lost the race with a concurrent loader
	}
	b.byID[id] = tpl
	b.order = append(b.order, id)
	b.paths = append(b.paths, path)
	b.logger.Info("template loaded", zap.String("id", id), zap.String("path", path),
		zap.Int("width", tpl.Width), zap.Int("height", tpl.Height))
	return id, nil
}

// buildPyramid produces one grayscale+BGR variant per configured
// scale. Pyramid scales are monotone because they are built in the
// order the caller configured them, and each is an independent resize
// from the native-resolution source (no cumulative resampling error).
func (b *Bank) buildPyramid(bgr *image.NRGBA, gray *image.Gray) []types.ScaledVariant {
	variants := make([]types.ScaledVariant, 0, len(b.scales))
	bounds := bgr.Bounds()
	for _, scale := range b.scales {
		if scale == 1.0 {
			variants = append(variants, types.ScaledVariant{Scale: 1.0, BGR: bgr, Gray: gray})
			continue
		}
		w := max(1, int(float64(bounds.Dx())*scale))
		h := max(1, int(float64(bounds.Dy())*scale))
		resizedBGR := imaging.Resize(bgr, w, h, imaging.Lanczos)
		variants = append(variants, types.ScaledVariant{
			Scale: scale,
			BGR:   resizedBGR,
			Gray:  toGray(resizedBGR),
		})
	}
	return variants
}

// Get returns a loaded template by id.
func (b *Bank) Get(id string) (*types.Template, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.byID[id]
	return t, ok
}

// All returns templates in configuration (load) order, the order C6
// evaluates them in for its early-exit multi-template rule.
func (b *Bank) All() []*types.Template {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*types.Template, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.byID[id])
	}
	return out
}

// ReloadAll re-reads every currently loaded template's source path.
// Per §7, a BadTemplate failure on one path drops that template and
// continues with the remainder; all failures are aggregated and
// returned together.
func (b *Bank) ReloadAll() error {
	b.mu.RLock()
	paths := append([]string(nil), b.paths...)
	b.mu.RUnlock()

	b.mu.Lock()
	b.byID = make(map[string]*types.Template)
	b.order = nil
	b.paths = nil
	b.mu.Unlock()

	var errs error
	for _, p := range paths {
		if _, err := b.Load(p); err != nil {
			errs = multierr.Append(errs, err)
			b.logger.Warn("template reload dropped", zap.String("path", p), zap.Error(err))
		}
	}
	return errs
}

func contentHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:16])
}

func toGray(img image.Image) *image.Gray {
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, img.At(x, y))
		}
	}
	return gray
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
