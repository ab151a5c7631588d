// Package spline converts sample grids to and from B-spline coefficients and
// evaluates the cubic B-spline interpolant and its analytic gradients.
//
// All boundaries use mirror-off-bounds (half-sample symmetric) extension, so a
// line of length n is treated as one period of a signal with period 2n.
package spline

import "math"

// Supported spline degrees
const (
	Cubic  = 3
	Septic = 7
)

// poles returns the recursive filter poles for the given degree
func poles(degree int) []float64 {
	switch degree {
	case Cubic:
		return []float64{math.Sqrt(3.0) - 2.0}
	case Septic:
		return []float64{
			-0.5352804307964381655424037816816460718339231523426924148812,
			-0.122554615192326690515272264359357343605486549427295558490763,
			-0.0091486948096082769285930216516478534156925639545994482648003,
		}
	default:
		panic("spline: unsupported degree")
	}
}

// cardinalTaps returns the half kernel of B-spline samples at the integers
func cardinalTaps(degree int) []float64 {
	switch degree {
	case Cubic:
		return []float64{2.0 / 3.0, 1.0 / 6.0}
	case Septic:
		return []float64{151.0 / 315.0, 397.0 / 1680.0, 1.0 / 42.0, 1.0 / 5040.0}
	default:
		panic("spline: unsupported degree")
	}
}

// gradientTaps is the antisymmetric half kernel of the cubic B-spline derivative
var gradientTaps = []float64{0.0, 1.0 / 2.0}

// MirrorIndex folds an arbitrary index into [0, n) using half-sample symmetric
// extension with period 2n.
func MirrorIndex(i, n int) int {
	if n <= 1 {
		return 0
	}
	period := 2 * n
	if i < 0 {
		i = -1 - i
	}
	if i >= period {
		i -= period * (i / period)
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

// SamplesToCoefficients1D replaces the samples in c by the B-spline
// coefficients of the given degree that interpolate them.
// Lines of length 1 are left unchanged.
func SamplesToCoefficients1D(c []float64, degree int) {
	n := len(c)
	if n <= 1 {
		return
	}
	z := poles(degree)

	// Overall gain
	lambda := 1.0
	for _, p := range z {
		lambda *= (1.0 - p) * (1.0 - 1.0/p)
	}
	for i := range c {
		c[i] *= lambda
	}

	for _, p := range z {
		// Causal recursion
		c[0] = initialCausalCoefficient(c, p)
		for i := 1; i < n; i++ {
			c[i] += p * c[i-1]
		}

		// Anti-causal recursion
		c[n-1] = initialAntiCausalCoefficient(c, p)
		for i := n - 2; i >= 0; i-- {
			c[i] = p * (c[i+1] - c[i])
		}
	}
}

func initialCausalCoefficient(c []float64, z float64) float64 {
	n := len(c)
	z1 := z
	zn := math.Pow(z, float64(n))
	sum := (1.0 + z) * (c[0] + zn*c[n-1])
	zn *= zn
	for i := 1; i < n-1; i++ {
		z1 *= z
		zn /= z
		sum += (z1 + zn) * c[i]
	}
	return sum / (1.0 - math.Pow(z, float64(2*n)))
}

func initialAntiCausalCoefficient(c []float64, z float64) float64 {
	return z * c[len(c)-1] / (z - 1.0)
}

// symmetricFIR computes s[i] = h[0]c[i] + sum_k h[k](c[i-k] + c[i+k])
func symmetricFIR(h, c, s []float64) {
	n := len(c)
	for i := 0; i < n; i++ {
		v := h[0] * c[i]
		for k := 1; k < len(h); k++ {
			v += h[k] * (c[MirrorIndex(i-k, n)] + c[MirrorIndex(i+k, n)])
		}
		s[i] = v
	}
}

// antiSymmetricFIR computes s[i] = h[0]c[i] + sum_k h[k](c[i+k] - c[i-k])
func antiSymmetricFIR(h, c, s []float64) {
	n := len(c)
	for i := 0; i < n; i++ {
		v := h[0] * c[i]
		for k := 1; k < len(h); k++ {
			v += h[k] * (c[MirrorIndex(i+k, n)] - c[MirrorIndex(i-k, n)])
		}
		s[i] = v
	}
}

// CoefficientsToSamples1D evaluates, in place, the spline of the given degree
// at the integers.
func CoefficientsToSamples1D(c []float64, degree int) {
	s := make([]float64, len(c))
	symmetricFIR(cardinalTaps(degree), c, s)
	copy(c, s)
}

// CoefficientsToGradient1D evaluates, in place, the derivative of the cubic
// spline at the integers.
func CoefficientsToGradient1D(c []float64) {
	s := make([]float64, len(c))
	antiSymmetricFIR(gradientTaps, c, s)
	copy(c, s)
}
