package transform

import (
	"math"
	"testing"

	"github.com/pkg/errors"
)

func mapPoints(m Matrix, pts []Point) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[i] = m.ApplyPoint(p)
	}
	return out
}

func matricesClose(a, b Matrix, tol float64) bool {
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(a[i][j]-b[i][j]) > tol {
				return false
			}
		}
	}
	return true
}

// TestSolveIdentity verifies that identical landmarks give the identity for every model
func TestSolveIdentity(t *testing.T) {
	for _, tt := range Types() {
		set, err := Canonical(tt, 120, 90, 120, 90)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt, err)
		}
		m, err := Solve(tt, set.Source, set.Target)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt, err)
		}
		if !m.IsIdentity(1e-9) {
			t.Errorf("%s: expected identity, got %v", tt, m)
		}
	}
}

// TestSolveTranslation verifies the direct formula
func TestSolveTranslation(t *testing.T) {
	m, err := Solve(Translation, []Point{{10, 20}}, []Point{{15, 23}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Matrix{{5, 1, 0}, {3, 0, 1}}
	if m != want {
		t.Errorf("expected %v, got %v", want, m)
	}
}

// TestSolveRigidBody recovers a known rotation and translation
func TestSolveRigidBody(t *testing.T) {
	angle := 30.0 * math.Pi / 180.0
	c, s := math.Cos(angle), math.Sin(angle)
	truth := Matrix{{4, c, -s}, {-7, s, c}}

	from := []Point{{50, 40}, {50, 20}, {50, 60}}
	to := mapPoints(truth, from)

	m, err := Solve(RigidBody, from, to)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !matricesClose(m, truth, 1e-9) {
		t.Errorf("expected %v, got %v", truth, m)
	}

	// The pivot maps exactly even when orientation points disagree in length
	to[2] = Point{X: to[1].X + 2*(to[2].X-to[1].X), Y: to[1].Y + 2*(to[2].Y-to[1].Y)}
	m, err = Solve(RigidBody, from, to)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p := m.ApplyPoint(from[0]); p.Dist(to[0]) > 1e-9 {
		t.Errorf("pivot maps to %v, want %v", p, to[0])
	}
	if math.Abs(m.Det()-1.0) > 1e-12 {
		t.Errorf("rigid-body matrix has determinant %f", m.Det())
	}
}

// TestSolveScaledRotation recovers a similarity from two points
func TestSolveScaledRotation(t *testing.T) {
	angle := -0.4
	scale := 1.3
	c, s := scale*math.Cos(angle), scale*math.Sin(angle)
	truth := Matrix{{12, c, -s}, {-3, s, c}}

	from := []Point{{20, 40}, {80, 45}}
	m, err := Solve(ScaledRotation, from, mapPoints(truth, from))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !matricesClose(m, truth, 1e-9) {
		t.Errorf("expected %v, got %v", truth, m)
	}
}

// TestSolveAffine recovers a general affine map
func TestSolveAffine(t *testing.T) {
	truth := Matrix{{3.5, 1.1, 0.2}, {-2.0, -0.15, 0.9}}
	from := []Point{{32, 16}, {16, 48}, {48, 48}}

	m, err := Solve(Affine, from, mapPoints(truth, from))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !matricesClose(m, truth, 1e-9) {
		t.Errorf("expected %v, got %v", truth, m)
	}
}

// TestSolveDegenerate verifies that collinear and coincident points are reported
func TestSolveDegenerate(t *testing.T) {
	collinear := []Point{{0, 0}, {10, 10}, {20, 20}}
	if _, err := Solve(Affine, collinear, collinear); !errors.Is(err, ErrDegenerateTransform) {
		t.Errorf("expected ErrDegenerateTransform for collinear points, got %v", err)
	}

	same := []Point{{5, 5}, {5, 5}}
	if _, err := Solve(ScaledRotation, same, same); !errors.Is(err, ErrDegenerateTransform) {
		t.Errorf("expected ErrDegenerateTransform for coincident points, got %v", err)
	}

	rigid := []Point{{5, 5}, {7, 7}, {7, 7}}
	if _, err := Solve(RigidBody, rigid, rigid); !errors.Is(err, ErrDegenerateTransform) {
		t.Errorf("expected ErrDegenerateTransform for rigid body, got %v", err)
	}
}

// TestSolveWrongCount verifies landmark count validation
func TestSolveWrongCount(t *testing.T) {
	if _, err := Solve(Affine, []Point{{0, 0}}, []Point{{0, 0}}); !errors.Is(err, ErrLandmarkCount) {
		t.Errorf("expected ErrLandmarkCount, got %v", err)
	}
	if _, err := Solve(Type(42), nil, nil); !errors.Is(err, ErrUnknownTransform) {
		t.Errorf("expected ErrUnknownTransform, got %v", err)
	}
}

// TestInvertGauss verifies inversion including a zero leading entry
func TestInvertGauss(t *testing.T) {
	original := [][]float64{
		{0, 2, 1},
		{1, 1, 0},
		{3, 0, 4},
	}
	a := [][]float64{
		append([]float64(nil), original[0]...),
		append([]float64(nil), original[1]...),
		append([]float64(nil), original[2]...),
	}
	if err := InvertGauss(a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			sum := 0.0
			for k := 0; k < 3; k++ {
				sum += original[i][k] * a[k][j]
			}
			want := 0.0
			if i == j {
				want = 1.0
			}
			if math.Abs(sum-want) > 1e-12 {
				t.Errorf("(A*inv(A))[%d][%d] = %f, want %f", i, j, sum, want)
			}
		}
	}
}

// TestInvertGaussSingular verifies that singular systems are detected
func TestInvertGaussSingular(t *testing.T) {
	a := [][]float64{
		{1, 2, 3},
		{2, 4, 6},
		{1, 0, 1},
	}
	if err := InvertGauss(a); !errors.Is(err, ErrSingular) {
		t.Errorf("expected ErrSingular, got %v", err)
	}

	zero := [][]float64{{0, 0}, {0, 0}}
	if err := InvertGauss(zero); !errors.Is(err, ErrSingular) {
		t.Errorf("expected ErrSingular for zero matrix, got %v", err)
	}
}

// TestComposeAndInverse checks homogeneous composition
func TestComposeAndInverse(t *testing.T) {
	a := Matrix{{3, 0.9, -0.2}, {1, 0.3, 1.1}}
	b := Matrix{{-5, 1, 0}, {2, 0, 1}}

	ab := Compose(a, b)
	x, y := b.Apply(7, 9)
	x, y = a.Apply(x, y)
	cx, cy := ab.Apply(7, 9)
	if math.Abs(x-cx) > 1e-12 || math.Abs(y-cy) > 1e-12 {
		t.Errorf("Compose mismatch: (%f,%f) vs (%f,%f)", x, y, cx, cy)
	}

	inv, err := a.Inverse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id := Compose(a, inv); !id.IsIdentity(1e-10) {
		t.Errorf("a*inv(a) is not the identity: %v", id)
	}

	if _, err := (Matrix{{0, 1, 2}, {0, 2, 4}}).Inverse(); !errors.Is(err, ErrSingular) {
		t.Errorf("expected ErrSingular, got %v", err)
	}
}

// TestParseType verifies names, aliases and text round trips
func TestParseType(t *testing.T) {
	for _, tt := range Types() {
		text, err := tt.MarshalText()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var parsed Type
		if err := parsed.UnmarshalText(text); err != nil || parsed != tt {
			t.Errorf("round trip of %s gave %s (%v)", tt, parsed, err)
		}
	}

	if got, err := ParseType("Rigid"); err != nil || got != RigidBody {
		t.Errorf("ParseType(Rigid) = %s, %v", got, err)
	}
	if _, err := ParseType("bilinear"); !errors.Is(err, ErrUnknownTransform) {
		t.Errorf("expected ErrUnknownTransform, got %v", err)
	}
}

// TestLandmarkSet verifies canonical seeding, validation and scaling
func TestLandmarkSet(t *testing.T) {
	for _, tt := range Types() {
		set, err := Canonical(tt, 64, 48, 80, 60)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := set.Validate(); err != nil {
			t.Errorf("%s: canonical set invalid: %v", tt, err)
		}
		if len(set.Source) != tt.Points() {
			t.Errorf("%s: %d source points, want %d", tt, len(set.Source), tt.Points())
		}
	}

	set, _ := Canonical(Translation, 64, 48, 64, 48)
	if set.Source[0] != (Point{32, 24}) {
		t.Errorf("unexpected translation seed %v", set.Source[0])
	}

	half := set.Scale(0.5)
	if half.Source[0] != (Point{16, 12}) || set.Source[0] != (Point{32, 24}) {
		t.Errorf("Scale must return a scaled copy, got %v (original %v)", half.Source[0], set.Source[0])
	}

	set.Target = append(set.Target, Point{1, 1})
	if err := set.Validate(); !errors.Is(err, ErrLandmarkCount) {
		t.Errorf("expected ErrLandmarkCount, got %v", err)
	}
}
