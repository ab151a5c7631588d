// Package pyramid builds the coarse-to-fine representations consumed by the
// registration optimizer.
//
// Image pyramids are least-squares cubic-spline pyramids: every level is the
// best cubic approximation of the level above at half the resolution,
// obtained by reducing the dual (degree 7) representation with a [6 4 1]/16
// filter. Mask pyramids accumulate absolute weights over 2x2 blocks.
package pyramid

import (
	"context"

	"turboreg/internal/models"
	"turboreg/pkg/spline"
)

// MinSize is the smallest dimension a pyramid level is allowed to have,
// up to a factor of two.
const MinSize = 12

// ProgressFunc receives one unit of completed work
type ProgressFunc func(units int)

// Level is one resolution of an image pyramid. Source levels carry samples and
// gradients; target levels carry samples and cubic B-spline coefficients.
type Level struct {
	Width  int
	Height int

	// Samples are the pixel values of the level
	Samples []float64

	// Coefficients are the cubic B-spline coefficients interpolating Samples
	Coefficients []float64

	// XGradient and YGradient are the analytic gradients at the pixel centres
	XGradient []float64
	YGradient []float64
}

// ImagePyramid stores the full-resolution Top level separately from the
// reduced levels; Levels[0] is the finest reduced level.
type ImagePyramid struct {
	Top    Level
	Levels []Level
}

// Depth returns the total number of resolutions including the full one
func (p *ImagePyramid) Depth() int {
	return len(p.Levels) + 1
}

// Coarsest returns the smallest level, or Top when there are no reduced levels
func (p *ImagePyramid) Coarsest() Level {
	if len(p.Levels) == 0 {
		return p.Top
	}
	return p.Levels[len(p.Levels)-1]
}

// Pop removes and returns the coarsest reduced level
func (p *ImagePyramid) Pop() (Level, bool) {
	n := len(p.Levels)
	if n == 0 {
		return Level{}, false
	}
	l := p.Levels[n-1]
	p.Levels = p.Levels[:n-1]
	return l, true
}

// Depth computes the pyramid depth shared by a source and a target image:
// one plus the number of halvings after which every dimension stays at
// least MinSize.
func Depth(sourceWidth, sourceHeight, targetWidth, targetHeight int) int {
	depth := 1
	for 2*MinSize <= sourceWidth && 2*MinSize <= sourceHeight &&
		2*MinSize <= targetWidth && 2*MinSize <= targetHeight {
		sourceWidth /= 2
		sourceHeight /= 2
		targetWidth /= 2
		targetHeight /= 2
		depth++
	}
	return depth
}

// LevelSize returns the dimensions of the given level, 0 being full resolution
func LevelSize(width, height, level int) (int, int) {
	for i := 0; i < level; i++ {
		width /= 2
		height /= 2
	}
	return width, height
}

// Workload returns the number of progress units reported while building one
// pyramid of the given depth for a width x height image.
func Workload(width, height, depth int) int {
	units := 0
	for d := 1; d < depth; d++ {
		_, h := LevelSize(width, height, d)
		units += h
	}
	return units
}

// BuildTarget computes the target-side pyramid: cubic coefficients and samples
// for every level.
func BuildTarget(ctx context.Context, img *models.Image, depth int, progress ProgressFunc) (*ImagePyramid, error) {
	w, h := img.Width, img.Height
	coeff := spline.CardinalToBasic2D(img.Pix, w, h, spline.Cubic)
	p := &ImagePyramid{
		Top: Level{Width: w, Height: h, Samples: img.Pix, Coefficients: coeff},
	}
	if depth <= 1 {
		return p, nil
	}

	dual := make([]float64, len(coeff))
	spline.BasicToCardinal2D(coeff, dual, w, h, spline.Septic)

	for d := 1; d < depth; d++ {
		halfDual, hw, hh, err := ReduceDual2D(ctx, dual, w, h, progress)
		if err != nil {
			return nil, err
		}
		halfCoeff := spline.CardinalToBasic2D(halfDual, hw, hh, spline.Septic)
		samples := make([]float64, len(halfCoeff))
		spline.BasicToCardinal2D(halfCoeff, samples, hw, hh, spline.Cubic)

		p.Levels = append(p.Levels, Level{
			Width:        hw,
			Height:       hh,
			Samples:      samples,
			Coefficients: halfCoeff,
		})
		dual, w, h = halfDual, hw, hh
	}
	return p, nil
}

// BuildSource computes the source-side pyramid: samples and analytic gradients
// for every level.
func BuildSource(ctx context.Context, img *models.Image, depth int, progress ProgressFunc) (*ImagePyramid, error) {
	w, h := img.Width, img.Height
	xg, yg := spline.ImageToXYGradient2D(img.Pix, w, h)
	p := &ImagePyramid{
		Top: Level{Width: w, Height: h, Samples: img.Pix, XGradient: xg, YGradient: yg},
	}
	if depth <= 1 {
		return p, nil
	}

	dual := spline.CardinalToDual2D(img.Pix, w, h, spline.Cubic)

	for d := 1; d < depth; d++ {
		halfDual, hw, hh, err := ReduceDual2D(ctx, dual, w, h, progress)
		if err != nil {
			return nil, err
		}
		halfCoeff := spline.CardinalToBasic2D(halfDual, hw, hh, spline.Septic)
		hxg, hyg := spline.CoefficientToXYGradient2D(halfCoeff, hw, hh)
		spline.BasicToCardinal2D(halfCoeff, halfCoeff, hw, hh, spline.Cubic)

		p.Levels = append(p.Levels, Level{
			Width:     hw,
			Height:    hh,
			Samples:   halfCoeff,
			XGradient: hxg,
			YGradient: hyg,
		})
		dual, w, h = halfDual, hw, hh
	}
	return p, nil
}

// reductionTaps is the half kernel of the dual reduction filter
var reductionTaps = [3]float64{6.0 / 16.0, 4.0 / 16.0, 1.0 / 16.0}

// ReduceDual1D reduces c into s, where len(s) == len(c)/2
func ReduceDual1D(c, s []float64) {
	n := len(c)
	for j := range s {
		i := 2 * j
		s[j] = reductionTaps[0]*c[i] +
			reductionTaps[1]*(c[spline.MirrorIndex(i-1, n)]+c[spline.MirrorIndex(i+1, n)]) +
			reductionTaps[2]*(c[spline.MirrorIndex(i-2, n)]+c[spline.MirrorIndex(i+2, n)])
	}
}

// ReduceDual2D halves a dual representation in both directions. The context
// is checked once per output row.
func ReduceDual2D(ctx context.Context, full []float64, width, height int, progress ProgressFunc) ([]float64, int, int, error) {
	hw, hh := width/2, height/2

	// Horizontal reduction
	rows := make([]float64, hw*height)
	hLine := make([]float64, width)
	hHalf := make([]float64, hw)
	for y := 0; y < height; y++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, 0, err
		}
		copy(hLine, full[y*width:(y+1)*width])
		ReduceDual1D(hLine, hHalf)
		copy(rows[y*hw:(y+1)*hw], hHalf)
	}

	// Vertical reduction
	half := make([]float64, hw*hh)
	vLine := make([]float64, height)
	vHalf := make([]float64, hh)
	for x := 0; x < hw; x++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, 0, err
		}
		for y := 0; y < height; y++ {
			vLine[y] = rows[y*hw+x]
		}
		ReduceDual1D(vLine, vHalf)
		for y := 0; y < hh; y++ {
			half[y*hw+x] = vHalf[y]
		}
	}

	if progress != nil {
		progress(hh)
	}
	return half, hw, hh, nil
}
