package transform

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Matrix is a 2x3 affine map whose first column holds the translation:
//
//	x' = m[0][0] + m[0][1]*x + m[0][2]*y
//	y' = m[1][0] + m[1][1]*x + m[1][2]*y
type Matrix [2][3]float64

// Identity returns the identity map
func Identity() Matrix {
	return Matrix{{0, 1, 0}, {0, 0, 1}}
}

// Apply maps (x, y)
func (m Matrix) Apply(x, y float64) (float64, float64) {
	return m[0][0] + m[0][1]*x + m[0][2]*y, m[1][0] + m[1][1]*x + m[1][2]*y
}

// ApplyPoint maps p
func (m Matrix) ApplyPoint(p Point) Point {
	x, y := m.Apply(p.X, p.Y)
	return Point{X: x, Y: y}
}

// Det returns the determinant of the linear part
func (m Matrix) Det() float64 {
	return m[0][1]*m[1][2] - m[0][2]*m[1][1]
}

// IsIdentity reports whether m is the identity within tol
func (m Matrix) IsIdentity(tol float64) bool {
	id := Identity()
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(m[i][j]-id[i][j]) > tol {
				return false
			}
		}
	}
	return true
}

// Homogeneous returns the 3x3 form acting on (1, x, y)
func (m Matrix) Homogeneous() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		1, 0, 0,
		m[0][0], m[0][1], m[0][2],
		m[1][0], m[1][1], m[1][2],
	})
}

// FromHomogeneous reads the last two rows of a 3x3 homogeneous matrix
func FromHomogeneous(h mat.Matrix) Matrix {
	var m Matrix
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			m[i][j] = h.At(i+1, j)
		}
	}
	return m
}

// Compose returns a∘b, the map applying b first and a second
func Compose(a, b Matrix) Matrix {
	var h mat.Dense
	h.Mul(a.Homogeneous(), b.Homogeneous())
	return FromHomogeneous(&h)
}

// Inverse returns the inverse map
func (m Matrix) Inverse() (Matrix, error) {
	h := [][]float64{
		{1, 0, 0},
		{m[0][0], m[0][1], m[0][2]},
		{m[1][0], m[1][1], m[1][2]},
	}
	if err := InvertGauss(h); err != nil {
		return Matrix{}, err
	}
	return Matrix{[3]float64(h[1]), [3]float64(h[2])}, nil
}
