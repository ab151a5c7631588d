// Package imageio converts between standard library images and the
// single-channel float grids used for registration, and reads and writes
// TIFF (integer and 32-bit float), PNG and JPEG files and numbered slice
// sequences.
package imageio

import (
	"image"
	"image/color"
	"math"

	"github.com/pkg/errors"

	"turboreg/internal/models"
)

// Errors
var (
	ErrUnsupportedImage  = errors.New("unsupported image: only single-channel images can be registered")
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// signedBias is subtracted from 16-bit samples stored with an offset
const signedBias = 32768.0

// FromImage converts a grayscale image to a float grid. 8-bit samples keep
// their 0-255 range and 16-bit samples their 0-65535 range, or -32768-32767
// when signed16 is set. Colour images are rejected unless every pixel is gray.
func FromImage(img image.Image, signed16 bool) (*models.Image, error) {
	if img == nil {
		return nil, errors.Wrap(ErrUnsupportedImage, "nil image")
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, errors.Wrap(ErrUnsupportedImage, "empty image")
	}
	out := models.NewImage(w, h)

	switch src := img.(type) {
	case *image.Gray:
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride : y*src.Stride+w]
			for x, v := range row {
				out.Pix[y*w+x] = float64(v)
			}
		}
	case *image.Gray16:
		bias := 0.0
		if signed16 {
			bias = signedBias
		}
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride : y*src.Stride+2*w]
			for x := 0; x < w; x++ {
				v := uint16(row[2*x])<<8 | uint16(row[2*x+1])
				out.Pix[y*w+x] = float64(v) - bias
			}
		}
	default:
		wide := is16Bit(img.ColorModel())
		bias := 0.0
		if wide && signed16 {
			bias = signedBias
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				if r != g || g != bl {
					return nil, errors.Wrapf(ErrUnsupportedImage, "colour pixel at (%d,%d)", x, y)
				}
				if wide {
					out.Pix[y*w+x] = float64(r) - bias
				} else {
					out.Pix[y*w+x] = float64(r >> 8)
				}
			}
		}
	}
	return out, nil
}

// is16Bit reports whether m stores 16 bits per channel
func is16Bit(m color.Model) bool {
	switch m {
	case color.Gray16Model, color.RGBA64Model, color.NRGBA64Model:
		return true
	}
	return false
}

// FromFloat32 wraps a row-major float32 grid
func FromFloat32(width, height int, data []float32) (*models.Image, error) {
	if width <= 0 || height <= 0 || len(data) != width*height {
		return nil, errors.Wrapf(ErrUnsupportedImage, "%d samples for %dx%d", len(data), width, height)
	}
	out := models.NewImage(width, height)
	for i, v := range data {
		out.Pix[i] = float64(v)
	}
	return out, nil
}

// ToGray16 converts a float grid to a 16-bit image. With rescale the
// sample range is stretched to 0-65535; otherwise samples are rounded and
// clamped, after removing the signed bias when signed16 is set.
func ToGray16(img *models.Image, rescale, signed16 bool) *image.Gray16 {
	out := image.NewGray16(image.Rect(0, 0, img.Width, img.Height))
	lo, hi := bounds(img.Pix)
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			v := img.At(x, y)
			switch {
			case rescale:
				v = stretch(v, lo, hi, 65535)
			case signed16:
				v += signedBias
			}
			out.SetGray16(x, y, color.Gray16{Y: uint16(clamp(v, 65535))})
		}
	}
	return out
}

// ToGray converts a float grid to an 8-bit image, stretching the sample range
// to 0-255 when rescale is set.
func ToGray(img *models.Image, rescale bool) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, img.Width, img.Height))
	lo, hi := bounds(img.Pix)
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			v := img.At(x, y)
			if rescale {
				v = stretch(v, lo, hi, 255)
			}
			out.SetGray(x, y, color.Gray{Y: uint8(clamp(v, 255))})
		}
	}
	return out
}

func bounds(data []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range data {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

func stretch(v, lo, hi, top float64) float64 {
	if hi <= lo {
		return 0
	}
	return (v - lo) / (hi - lo) * top
}

func clamp(v, top float64) float64 {
	return math.Max(0, math.Min(top, math.Round(v)))
}
