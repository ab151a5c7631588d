package correlation

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// fft2D performs separable 2D transforms on row-major complex grids of any
// size, rows first then columns.
type fft2D struct {
	width, height int
	rows, cols    *fourier.CmplxFFT
}

func newFFT2D(width, height int) *fft2D {
	return &fft2D{
		width:  width,
		height: height,
		rows:   fourier.NewCmplxFFT(width),
		cols:   fourier.NewCmplxFFT(height),
	}
}

func (f *fft2D) forward(data []complex128) []complex128 {
	return f.apply(data, false)
}

// inverse is unnormalised: a forward then inverse pass scales by width*height
func (f *fft2D) inverse(data []complex128) []complex128 {
	return f.apply(data, true)
}

func (f *fft2D) apply(data []complex128, inverse bool) []complex128 {
	result := make([]complex128, len(data))
	copy(result, data)

	row := make([]complex128, f.width)
	for y := 0; y < f.height; y++ {
		line := result[y*f.width : (y+1)*f.width]
		if inverse {
			f.rows.Sequence(row, line)
		} else {
			f.rows.Coefficients(row, line)
		}
		copy(line, row)
	}

	colIn := make([]complex128, f.height)
	colOut := make([]complex128, f.height)
	for x := 0; x < f.width; x++ {
		for y := 0; y < f.height; y++ {
			colIn[y] = result[y*f.width+x]
		}
		if inverse {
			f.cols.Sequence(colOut, colIn)
		} else {
			f.cols.Coefficients(colOut, colIn)
		}
		for y := 0; y < f.height; y++ {
			result[y*f.width+x] = colOut[y]
		}
	}
	return result
}
