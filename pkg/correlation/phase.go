// Package correlation estimates integer translations between two images by
// phase correlation.
package correlation

import (
	"math"
	"math/cmplx"

	"github.com/pkg/errors"
)

// ErrTooSmall is returned when the common area cannot hold a correlation
var ErrTooSmall = errors.New("images too small for phase correlation")

// MinSize is the smallest common width and height accepted
const MinSize = 4

// Grid is a row-major sample grid with an optional weight per sample
type Grid struct {
	Width   int
	Height  int
	Samples []float64

	// Weights scale the samples before the transform; nil means 1
	Weights []float64
}

// Offset is the translation found by Shift: target(x, y) is best matched by
// source(x-X, y-Y). Peak is the normalised height of the correlation peak,
// 1 for a pure circular shift and close to 0 when nothing matches.
type Offset struct {
	X, Y int
	Peak float64
}

// Shift correlates the top-left area common to both grids
func Shift(source, target Grid) (Offset, error) {
	w, h := source.Width, source.Height
	if target.Width < w {
		w = target.Width
	}
	if target.Height < h {
		h = target.Height
	}
	if w < MinSize || h < MinSize {
		return Offset{}, errors.Wrapf(ErrTooSmall, "%dx%d", w, h)
	}

	f := newFFT2D(w, h)
	fs := f.forward(crop(source, w, h))
	ft := f.forward(crop(target, w, h))

	// normalised cross-power spectrum, bins at rounding-noise level dropped
	largest := 0.0
	for i := range ft {
		ft[i] *= cmplx.Conj(fs[i])
		largest = math.Max(largest, cmplx.Abs(ft[i]))
	}
	for i, c := range ft {
		if m := cmplx.Abs(c); m > 1e-9*largest && m > 0 {
			ft[i] = c / complex(m, 0)
		} else {
			ft[i] = 0
		}
	}
	corr := f.inverse(ft)

	best, peak, energy := 0, math.Inf(-1), 0.0
	for i, c := range corr {
		v := real(c)
		energy += v * v
		if v > peak {
			best, peak = i, v
		}
	}

	off := Offset{X: best % w, Y: best / w}
	if energy > 0 {
		off.Peak = peak / math.Sqrt(energy)
	}
	if off.X > w/2 {
		off.X -= w
	}
	if off.Y > h/2 {
		off.Y -= h
	}
	return off, nil
}

// crop copies the top-left w x h area with the weighted mean removed
func crop(g Grid, w, h int) []complex128 {
	out := make([]complex128, w*h)
	sum, total := 0.0, 0.0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			wt := 1.0
			if g.Weights != nil {
				wt = g.Weights[y*g.Width+x]
			}
			sum += wt * g.Samples[y*g.Width+x]
			total += wt
		}
	}
	mean := 0.0
	if total > 0 {
		mean = sum / total
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			wt := 1.0
			if g.Weights != nil {
				wt = g.Weights[y*g.Width+x]
			}
			out[y*w+x] = complex(wt*(g.Samples[y*g.Width+x]-mean), 0)
		}
	}
	return out
}
