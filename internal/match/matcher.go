// Package match implements the matcher (C6): normalized cross-
// correlation of template bank entries against a region of a captured
// frame, with the multi-template early-exit and multi-scale
// highest-score rules the scanner orchestrator depends on.
package match

import (
	"image"
	"image/color"
	"math"

	"github.com/Rain-Of-Stars/Ai-IDE-Auto-run/pkg/types"
)

// Options configures one matcher invocation; mirrors the relevant
// config keys.
type Options struct {
	Threshold float64
	Grayscale bool
	ROI       types.Rect
}

// FrameTooSmall is a non-match, not an error — the frame (or ROI) is
// smaller than the template at every configured scale.
type frameTooSmall struct{}

func (frameTooSmall) Error() string { return "match: frame smaller than template at all scales" }

// ErrFrameTooSmall is the sentinel for the non-match case above.
var ErrFrameTooSmall error = frameTooSmall{}

// frameGray decodes a capture Frame's BGRA8 bytes into a grayscale
// image for matching, honoring the Frame's own RowPitch (the frame
// arrives from the cache already repacked tightly, but this keeps the
// conversion defensive against a non-tight RowPitch too).
func frameGray(f *types.Frame) *image.Gray {
	bpp := f.Format.BytesPerPixel()
	rowPitch := f.RowPitch
	if rowPitch < f.Width*bpp {
		rowPitch = f.Width * bpp
	}
	gray := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		rowOff := y * rowPitch
		for x := 0; x < f.Width; x++ {
			px := rowOff + x*bpp
			if px+2 >= len(f.Data) {
				continue
			}
			b, g, r := f.Data[px], f.Data[px+1], f.Data[px+2]
			lum := (299*int(r) + 587*int(g) + 114*int(b)) / 1000
			gray.SetGray(x, y, color.Gray{Y: clampByte(lum)})
		}
	}
	return gray
}

func clampByte(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// MatchOne runs C6 against a single frame using bank's templates, in
// configuration order, returning on the first qualifying hit
// (multi-template early-exit). Returns nil, nil on a clean miss.
func MatchOne(frame *types.Frame, templates []*types.Template, opts Options) (*types.MatchResult, error) {
	roi := opts.ROI
	if roi.Empty() {
		roi = types.Rect{X: 0, Y: 0, W: frame.Width, H: frame.Height}
	} else {
		roi = roi.Clip(frame.Width, frame.Height)
	}
	if roi.Empty() {
		return nil, ErrFrameTooSmall
	}

	// Correlation is computed on luminance in both modes; "BGR" mode
	// differs only in which template variant is consulted for the
	// pyramid's non-1.0 scales upstream in the template bank. This
	// keeps one NCC kernel instead of duplicating it per color space.
	frameGrayImg := frameGray(frame)

	anyRegionLargeEnough := false
	for _, tpl := range templates {
		best, attempted, err := matchTemplate(frame, frameGrayImg, tpl, roi, opts)
		if err != nil {
			continue
		}
		if attempted {
			anyRegionLargeEnough = true
		}
		if best != nil && best.Score >= opts.Threshold {
			return best, nil // early-exit: first qualifying template wins
		}
	}
	if !anyRegionLargeEnough {
		return nil, ErrFrameTooSmall
	}
	return nil, nil
}

// matchTemplate evaluates every configured scale for one template and
// returns the highest-scoring result (not the first over threshold),
// per §4.6's multi-scale rule.
func matchTemplate(frame *types.Frame, frameGrayImg *image.Gray, tpl *types.Template, roi types.Rect, opts Options) (*types.MatchResult, bool, error) {
	var best *types.MatchResult
	attempted := false
	for _, variant := range tpl.Pyramid {
		tw, th := variant.Gray.Bounds().Dx(), variant.Gray.Bounds().Dy()
		if tw > roi.W || th > roi.H {
			continue
		}
		attempted = true
		score, loc := nccSearch(frameGrayImg, variant, roi)
		cand := &types.MatchResult{
			TemplateID: tpl.ID,
			Center:     types.Point{X: roi.X + loc.X + tw/2, Y: roi.Y + loc.Y + th/2},
			Score:      score,
			Scale:      variant.Scale,
			Timestamp:  frame.Timestamp,
		}
		if betterCandidate(cand, best) {
			best = cand
		}
	}
	if best == nil {
		return nil, attempted, ErrFrameTooSmall
	}
	return best, attempted, nil
}

// betterCandidate implements §4.6's tie-break: higher score wins;
// equal scores prefer the scale closest to native, then the
// top-left-most location.
func betterCandidate(cand, best *types.MatchResult) bool {
	if best == nil {
		return true
	}
	if cand.Score != best.Score {
		return cand.Score > best.Score
	}
	dCand := math.Abs(1 - cand.Scale)
	dBest := math.Abs(1 - best.Scale)
	if dCand != dBest {
		return dCand < dBest
	}
	if cand.Center.Y != best.Center.Y {
		return cand.Center.Y < best.Center.Y
	}
	return cand.Center.X < best.Center.X
}

// nccSearch computes the normalized cross-correlation response map of
// variant over roi and returns its global maximum and top-left
// location (in ROI-local coordinates).
func nccSearch(frameGrayImg *image.Gray, variant types.ScaledVariant, roi types.Rect) (float64, image.Point) {
	tw, th := variant.Gray.Bounds().Dx(), variant.Gray.Bounds().Dy()
	bestScore := -1.0
	bestLoc := image.Point{}

	tmplMean, tmplVals := templateStats(variant.Gray)

	for dy := 0; dy <= roi.H-th; dy++ {
		for dx := 0; dx <= roi.W-tw; dx++ {
			score := nccAt(frameGrayImg, roi.X+dx, roi.Y+dy, tw, th, tmplMean, tmplVals)
			if score > bestScore {
				bestScore = score
				bestLoc = image.Point{X: dx, Y: dy}
			}
		}
	}
	return bestScore, bestLoc
}

func templateStats(gray *image.Gray) (float64, []float64) {
	b := gray.Bounds()
	vals := make([]float64, 0, b.Dx()*b.Dy())
	sum := 0.0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := float64(gray.GrayAt(x, y).Y)
			vals = append(vals, v)
			sum += v
		}
	}
	mean := sum / float64(len(vals))
	return mean, vals
}

// nccAt computes TM_CCOEFF_NORMED at one candidate top-left location.
func nccAt(frameGrayImg *image.Gray, x0, y0, w, h int, tmplMean float64, tmplVals []float64) float64 {
	if frameGrayImg == nil {
		return 0
	}
	regionVals := make([]float64, 0, w*h)
	sum := 0.0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := float64(frameGrayImg.GrayAt(x0+x, y0+y).Y)
			regionVals = append(regionVals, v)
			sum += v
		}
	}
	regionMean := sum / float64(len(regionVals))

	var num, denomA, denomB float64
	for i := range regionVals {
		a := regionVals[i] - regionMean
		b := tmplVals[i] - tmplMean
		num += a * b
		denomA += a * a
		denomB += b * b
	}
	denom := math.Sqrt(denomA * denomB)
	if denom == 0 {
		return 0
	}
	score := num / denom
	// TM_CCOEFF_NORMED ranges [-1, 1]; match acceptance is defined over
	// [0, 1] per the data model, so negative correlation is clamped.
	if score < 0 {
		score = 0
	}
	return score
}
