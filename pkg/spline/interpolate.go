package spline

import "math"

// Kernel holds the four cubic B-spline taps covering one interpolation point
type Kernel struct {
	Index  [4]int
	Weight [4]float64
}

// Weights returns the cubic B-spline weights for the samples at offsets
// -1, 0, +1, +2 from the integer part of a coordinate with fractional part t.
func Weights(t float64) [4]float64 {
	s := 1.0 - t
	return [4]float64{
		s * s * s / 6.0,
		2.0/3.0 - t*t + 0.5*t*t*t,
		2.0/3.0 - s*s + 0.5*s*s*s,
		t * t * t / 6.0,
	}
}

// NewKernel computes the folded indices and weights for coordinate x on a
// line of length n.
func NewKernel(x float64, n int) Kernel {
	var k Kernel
	i := int(math.Floor(x))
	k.Weight = Weights(x - float64(i))
	for j := 0; j < 4; j++ {
		k.Index[j] = MirrorIndex(i-1+j, n)
	}
	return k
}

// Evaluate returns the value at (x, y) of the cubic spline with coefficients
// coeff laid out as a width x height grid.
func Evaluate(coeff []float64, width, height int, x, y float64) float64 {
	return EvaluateKernels(coeff, width, NewKernel(x, width), NewKernel(y, height))
}

// EvaluateKernels is Evaluate with precomputed horizontal and vertical kernels
func EvaluateKernels(coeff []float64, width int, kx, ky Kernel) float64 {
	value := 0.0
	for j := 0; j < 4; j++ {
		row := ky.Index[j] * width
		s := 0.0
		for i := 0; i < 4; i++ {
			s += kx.Weight[i] * coeff[row+kx.Index[i]]
		}
		value += ky.Weight[j] * s
	}
	return value
}

// Round rounds half away from zero, the rounding used to look up masks
func Round(x float64) int {
	if x >= 0.0 {
		return int(x + 0.5)
	}
	return int(x - 0.5)
}
