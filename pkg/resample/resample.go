// Package resample warps a source image onto a target grid through a solved
// transformation, using cubic B-spline interpolation or, in accelerated mode,
// nearest-neighbour lookup.
package resample

import (
	"github.com/pkg/errors"

	"turboreg/internal/models"
	"turboreg/pkg/spline"
	"turboreg/pkg/transform"
)

// ErrInvalidImage is returned for empty images or buffers of the wrong size
var ErrInvalidImage = errors.New("invalid image")

// Resampler holds the source data needed to warp one image repeatedly
type Resampler struct {
	width       int
	height      int
	samples     []float64
	coeff       []float64
	mask        []float64
	accelerated bool
}

// New prepares src for resampling. A nil mask marks every pixel valid.
func New(src *models.Image, mask *models.Mask, accelerated bool) (*Resampler, error) {
	if !src.Valid() {
		return nil, errors.Wrap(ErrInvalidImage, "source")
	}
	if mask == nil {
		mask = models.FullMask(src.Width, src.Height)
	}
	if !mask.Valid() || mask.Width != src.Width || mask.Height != src.Height {
		return nil, errors.Wrapf(ErrInvalidImage, "mask does not match %dx%d source", src.Width, src.Height)
	}

	r := &Resampler{
		width:       src.Width,
		height:      src.Height,
		samples:     src.Pix,
		mask:        mask.Pix,
		accelerated: accelerated,
	}
	if !accelerated {
		r.coeff = spline.CardinalToBasic2D(src.Pix, src.Width, src.Height, spline.Cubic)
	}
	return r, nil
}

// Resample warps src onto a width x height grid; m maps output coordinates to
// source coordinates.
func Resample(src *models.Image, mask *models.Mask, m transform.Matrix, t transform.Type,
	width, height int, accelerated bool) (*models.Image, *models.Mask, error) {
	r, err := New(src, mask, accelerated)
	if err != nil {
		return nil, nil, err
	}
	out := models.NewImage(width, height)
	outMask := models.NewMask(width, height)
	if err := r.Transform(m, t, out.Pix, outMask.Pix, width, height); err != nil {
		return nil, nil, err
	}
	return out, outMask, nil
}

// ResampleInto is Resample writing into caller-owned buffers. dstMask may be nil.
func ResampleInto(dst, dstMask []float64, src *models.Image, mask *models.Mask, m transform.Matrix,
	t transform.Type, width, height int, accelerated bool) error {
	r, err := New(src, mask, accelerated)
	if err != nil {
		return err
	}
	return r.Transform(m, t, dst, dstMask, width, height)
}

// Transform fills dst (and dstMask when not nil) with the warped source.
// Output pixels mapping outside the source or onto an excluded source pixel
// are set to zero in both planes.
func (r *Resampler) Transform(m transform.Matrix, t transform.Type, dst, dstMask []float64, width, height int) error {
	if width <= 0 || height <= 0 || len(dst) != width*height {
		return errors.Wrapf(ErrInvalidImage, "output buffer of %d samples for %dx%d", len(dst), width, height)
	}
	if dstMask != nil && len(dstMask) != width*height {
		return errors.Wrapf(ErrInvalidImage, "output mask of %d samples for %dx%d", len(dstMask), width, height)
	}

	switch t {
	case transform.Translation:
		r.translate(m, dst, dstMask, width, height)
	case transform.RigidBody, transform.ScaledRotation, transform.Affine:
		r.affine(m, dst, dstMask, width, height)
	default:
		return errors.Wrapf(transform.ErrUnknownTransform, "%d", int(t))
	}
	return nil
}

// lookup returns the index of source pixel (xr, yr), or -1 outside the source
func (r *Resampler) lookup(xr, yr int) int {
	if xr < 0 || xr >= r.width || yr < 0 || yr >= r.height {
		return -1
	}
	return yr*r.width + xr
}

func (r *Resampler) translate(m transform.Matrix, dst, dstMask []float64, width, height int) {
	dx, dy := m[0][0], m[1][0]

	// Weights depend on the output column or row only
	xr := make([]int, width)
	kx := make([]spline.Kernel, width)
	for u := 0; u < width; u++ {
		x := float64(u) + dx
		xr[u] = spline.Round(x)
		if !r.accelerated {
			kx[u] = spline.NewKernel(x, r.width)
		}
	}

	k := 0
	for v := 0; v < height; v++ {
		y := float64(v) + dy
		yr := spline.Round(y)
		var ky spline.Kernel
		if !r.accelerated {
			ky = spline.NewKernel(y, r.height)
		}
		for u := 0; u < width; u++ {
			idx := r.lookup(xr[u], yr)
			if idx < 0 || r.mask[idx] == 0 {
				r.clear(dst, dstMask, k)
			} else if r.accelerated {
				r.store(dst, dstMask, k, r.samples[idx], idx)
			} else {
				r.store(dst, dstMask, k, spline.EvaluateKernels(r.coeff, r.width, kx[u], ky), idx)
			}
			k++
		}
	}
}

func (r *Resampler) affine(m transform.Matrix, dst, dstMask []float64, width, height int) {
	k := 0
	for v := 0; v < height; v++ {
		x0 := m[0][0] + float64(v)*m[0][2]
		y0 := m[1][0] + float64(v)*m[1][2]
		for u := 0; u < width; u++ {
			x := x0 + float64(u)*m[0][1]
			y := y0 + float64(u)*m[1][1]
			idx := r.lookup(spline.Round(x), spline.Round(y))
			if idx < 0 || r.mask[idx] == 0 {
				r.clear(dst, dstMask, k)
			} else if r.accelerated {
				r.store(dst, dstMask, k, r.samples[idx], idx)
			} else {
				value := spline.EvaluateKernels(r.coeff, r.width,
					spline.NewKernel(x, r.width), spline.NewKernel(y, r.height))
				r.store(dst, dstMask, k, value, idx)
			}
			k++
		}
	}
}

func (r *Resampler) clear(dst, dstMask []float64, k int) {
	dst[k] = 0
	if dstMask != nil {
		dstMask[k] = 0
	}
}

func (r *Resampler) store(dst, dstMask []float64, k int, value float64, idx int) {
	dst[k] = value
	if dstMask != nil {
		dstMask[k] = r.mask[idx]
	}
}
