package transform

import (
	"math"

	"github.com/pkg/errors"
)

// ErrLandmarkCount is returned when a landmark set does not match its model
var ErrLandmarkCount = errors.New("wrong number of landmarks for transformation")

// Point is a 2D position in pixel coordinates
type Point struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// Sub returns p - q
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Dist returns the Euclidean distance between p and q
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// LandmarkSet pairs source and target control points. Source points are the
// ones refined during registration; target points stay fixed.
type LandmarkSet struct {
	Type   Type    `yaml:"type"`
	Source []Point `yaml:"source"`
	Target []Point `yaml:"target"`
}

// Canonical seeds a landmark set from the image dimensions
func Canonical(t Type, sourceWidth, sourceHeight, targetWidth, targetHeight int) (*LandmarkSet, error) {
	if !t.Valid() {
		return nil, errors.Wrapf(ErrUnknownTransform, "%d", int(t))
	}
	return &LandmarkSet{
		Type:   t,
		Source: canonicalPoints(t, sourceWidth, sourceHeight),
		Target: canonicalPoints(t, targetWidth, targetHeight),
	}, nil
}

func canonicalPoints(t Type, width, height int) []Point {
	switch t {
	case Translation:
		return []Point{
			{float64(width / 2), float64(height / 2)},
		}
	case RigidBody:
		return []Point{
			{float64(width / 2), float64(height / 2)},
			{float64(width / 2), float64(height / 4)},
			{float64(width / 2), float64((3 * height) / 4)},
		}
	case ScaledRotation:
		return []Point{
			{float64(width / 4), float64(height / 2)},
			{float64((3 * width) / 4), float64(height / 2)},
		}
	case Affine:
		return []Point{
			{float64(width / 2), float64(height / 4)},
			{float64(width / 4), float64((3 * height) / 4)},
			{float64((3 * width) / 4), float64((3 * height) / 4)},
		}
	}
	return nil
}

// Validate checks the point counts against the model
func (l *LandmarkSet) Validate() error {
	if !l.Type.Valid() {
		return errors.Wrapf(ErrUnknownTransform, "%d", int(l.Type))
	}
	n := l.Type.Points()
	if len(l.Source) != n || len(l.Target) != n {
		return errors.Wrapf(ErrLandmarkCount, "%s needs %d pairs, got %d source and %d target",
			l.Type, n, len(l.Source), len(l.Target))
	}
	return nil
}

// Clone returns a deep copy
func (l *LandmarkSet) Clone() *LandmarkSet {
	return &LandmarkSet{
		Type:   l.Type,
		Source: append([]Point(nil), l.Source...),
		Target: append([]Point(nil), l.Target...),
	}
}

// Scale returns a copy with every coordinate multiplied by f, used when
// moving between pyramid levels.
func (l *LandmarkSet) Scale(f float64) *LandmarkSet {
	out := l.Clone()
	for i := range out.Source {
		out.Source[i].X *= f
		out.Source[i].Y *= f
	}
	for i := range out.Target {
		out.Target[i].X *= f
		out.Target[i].Y *= f
	}
	return out
}

// SourceToTarget returns the matrix mapping source coordinates to target coordinates
func (l *LandmarkSet) SourceToTarget() (Matrix, error) {
	return Solve(l.Type, l.Source, l.Target)
}

// TargetToSource returns the matrix used to resample the source onto the target grid
func (l *LandmarkSet) TargetToSource() (Matrix, error) {
	return Solve(l.Type, l.Target, l.Source)
}

// Displacement returns the mean distance between the source points of two sets
func Displacement(a, b []Point) float64 {
	if len(a) == 0 {
		return 0
	}
	sum := 0.0
	for i := range a {
		sum += a[i].Dist(b[i])
	}
	return sum / float64(len(a))
}
