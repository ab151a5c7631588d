package transform

import (
	"math"

	"github.com/pkg/errors"
)

var (
	// ErrSingular is returned by InvertGauss when a pivot vanishes
	ErrSingular = errors.New("matrix is singular")

	// ErrDegenerateTransform is returned when landmarks do not determine a map,
	// for instance coincident or collinear points
	ErrDegenerateTransform = errors.New("degenerate landmark configuration")
)

// singularTolerance is relative to the largest entry of the matrix
const singularTolerance = 1e-12

// Solve returns the matrix m of model t such that m(from[k]) = to[k]. For the
// rigid-body model the pivot from[0] maps exactly to to[0] and the rotation
// aligns the direction from[1]->from[2] with to[1]->to[2].
func Solve(t Type, from, to []Point) (Matrix, error) {
	n := t.Points()
	if n == 0 {
		return Matrix{}, errors.Wrapf(ErrUnknownTransform, "%d", int(t))
	}
	if len(from) != n || len(to) != n {
		return Matrix{}, errors.Wrapf(ErrLandmarkCount, "%s needs %d pairs, got %d and %d", t, n, len(from), len(to))
	}

	switch t {
	case Translation:
		return Matrix{
			{to[0].X - from[0].X, 1, 0},
			{to[0].Y - from[0].Y, 0, 1},
		}, nil

	case RigidBody:
		df, dt := from[2].Sub(from[1]), to[2].Sub(to[1])
		if (df.X == 0 && df.Y == 0) || (dt.X == 0 && dt.Y == 0) {
			return Matrix{}, errors.Wrap(ErrDegenerateTransform, "rigid-body orientation points coincide")
		}
		angle := math.Atan2(dt.Y, dt.X) - math.Atan2(df.Y, df.X)
		c, s := math.Cos(angle), math.Sin(angle)
		return Matrix{
			{to[0].X - c*from[0].X + s*from[0].Y, c, -s},
			{to[0].Y - s*from[0].X - c*from[0].Y, s, c},
		}, nil

	case ScaledRotation:
		return solveAffine(
			[]Point{from[0], from[1], quarterTurn(from[0], from[1])},
			[]Point{to[0], to[1], quarterTurn(to[0], to[1])},
		)

	case Affine:
		return solveAffine(from, to)
	}
	return Matrix{}, errors.Wrapf(ErrUnknownTransform, "%d", int(t))
}

// quarterTurn returns p0 + rot90(p1 - p0), the implicit third point that
// turns a similarity into an affine problem.
func quarterTurn(p0, p1 Point) Point {
	d := p1.Sub(p0)
	return Point{X: p0.X - d.Y, Y: p0.Y + d.X}
}

func solveAffine(from, to []Point) (Matrix, error) {
	a := [][]float64{
		{1, from[0].X, from[0].Y},
		{1, from[1].X, from[1].Y},
		{1, from[2].X, from[2].Y},
	}
	if err := InvertGauss(a); err != nil {
		return Matrix{}, errors.Wrap(ErrDegenerateTransform, err.Error())
	}

	var m Matrix
	for i := 0; i < 3; i++ {
		m[0][i] = a[i][0]*to[0].X + a[i][1]*to[1].X + a[i][2]*to[2].X
		m[1][i] = a[i][0]*to[0].Y + a[i][1]*to[1].Y + a[i][2]*to[2].Y
	}
	return m, nil
}

// InvertGauss inverts the square matrix a in place by Gauss-Jordan
// elimination with full pivoting. It returns ErrSingular, leaving a in an
// unspecified state, when a pivot is negligible relative to the largest entry.
func InvertGauss(a [][]float64) error {
	n := len(a)
	scale := 0.0
	for i := range a {
		if len(a[i]) != n {
			return errors.Errorf("matrix is not square: row %d has %d columns, want %d", i, len(a[i]), n)
		}
		for _, v := range a[i] {
			scale = math.Max(scale, math.Abs(v))
		}
	}
	if scale == 0 {
		return ErrSingular
	}
	tol := singularTolerance * scale

	pivoted := make([]bool, n)
	rowOf := make([]int, n)
	colOf := make([]int, n)

	for i := 0; i < n; i++ {
		// Search the largest remaining entry
		big, row, col := -1.0, 0, 0
		for j := 0; j < n; j++ {
			if pivoted[j] {
				continue
			}
			for k := 0; k < n; k++ {
				if !pivoted[k] && math.Abs(a[j][k]) > big {
					big, row, col = math.Abs(a[j][k]), j, k
				}
			}
		}
		pivoted[col] = true

		// Move the pivot onto the diagonal
		if row != col {
			a[row], a[col] = a[col], a[row]
		}
		rowOf[i], colOf[i] = row, col

		if math.Abs(a[col][col]) <= tol {
			return errors.Wrapf(ErrSingular, "pivot %d is %g", i, a[col][col])
		}
		inv := 1.0 / a[col][col]
		a[col][col] = 1.0
		for l := 0; l < n; l++ {
			a[col][l] *= inv
		}
		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			f := a[r][col]
			a[r][col] = 0.0
			for l := 0; l < n; l++ {
				a[r][l] -= a[col][l] * f
			}
		}
	}

	// Undo the column permutation
	for l := n - 1; l >= 0; l-- {
		if rowOf[l] != colOf[l] {
			for k := 0; k < n; k++ {
				a[k][rowOf[l]], a[k][colOf[l]] = a[k][colOf[l]], a[k][rowOf[l]]
			}
		}
	}
	return nil
}
