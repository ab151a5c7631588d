package registration

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"turboreg/pkg/pyramid"
	"turboreg/pkg/spline"
	"turboreg/pkg/transform"
)

// evaluation is the outcome of comparing the warped source with the target
// for one landmark configuration. Gradient and Hessian are taken with respect
// to the free landmark parameters and share the mean-squares normalisation.
type evaluation struct {
	ok          bool
	meanSquares float64
	gradient    []float64
	hessian     []float64
}

// optimizer refines the source landmarks of one pyramid level
type optimizer struct {
	kind        transform.Type
	accelerated bool
	params      int

	source     pyramid.Level
	sourceMask []float64
	target     pyramid.Level
	targetMask []float64

	targets []transform.Point
}

func newOptimizer(kind transform.Type, accelerated bool, source pyramid.Level, sourceMask pyramid.MaskLevel,
	target pyramid.Level, targetMask pyramid.MaskLevel, targets []transform.Point) *optimizer {
	return &optimizer{
		kind:        kind,
		accelerated: accelerated,
		params:      kind.Params(),
		source:      source,
		sourceMask:  sourceMask.Weights,
		target:      target,
		targetMask:  targetMask.Weights,
		targets:     targets,
	}
}

// levelOutcome summarises one optimisation run
type levelOutcome struct {
	points      []transform.Point
	meanSquares float64
	iterations  int
	accepted    []float64
}

// optimize runs the Marquardt-Levenberg loop from points for at most budget
// evaluations, stopping early once the landmark displacement of an attempt
// falls below precision. It never fails: the best configuration seen is
// returned.
func (o *optimizer) optimize(points []transform.Point, budget int, precision float64, step func()) levelOutcome {
	best := append([]transform.Point(nil), points...)
	current := o.evaluate(best, true, true)
	out := levelOutcome{points: best, meanSquares: current.meanSquares, iterations: 1}
	if step != nil {
		step()
	}
	if !current.ok {
		return out
	}

	gradient, hessian := current.gradient, current.hessian
	lambda := firstLambda
	for out.iterations < budget {
		attempt, ok := o.update(best, gradient, hessian, lambda)
		displacement := math.Inf(1)
		if ok {
			displacement = transform.Displacement(best, attempt)
			trial := o.evaluate(attempt, true, !o.accelerated)
			if trial.ok && trial.meanSquares < out.meanSquares {
				best = attempt
				out.meanSquares = trial.meanSquares
				out.accepted = append(out.accepted, trial.meanSquares)
				gradient = trial.gradient
				if !o.accelerated {
					hessian = trial.hessian
				}
				lambda /= lambdaMagstep
			} else {
				lambda *= lambdaMagstep
			}
		} else {
			lambda *= lambdaMagstep
		}
		out.iterations++
		if step != nil {
			step()
		}
		if displacement < precision {
			break
		}
	}

	// Undamped step from the best configuration
	if attempt, ok := o.update(best, gradient, hessian, 0); ok {
		trial := o.evaluate(attempt, false, false)
		if trial.ok && trial.meanSquares < out.meanSquares {
			best = attempt
			out.meanSquares = trial.meanSquares
			out.accepted = append(out.accepted, trial.meanSquares)
		}
	}
	out.points = best
	return out
}

// update solves (H + lambda*diag(H)) delta = -g and applies delta to points.
// It reports false when the damped system cannot be solved.
func (o *optimizer) update(points []transform.Point, gradient, hessian []float64, lambda float64) ([]transform.Point, bool) {
	n := o.params
	damped := mat.NewDense(n, n, append([]float64(nil), hessian...))
	for i := 0; i < n; i++ {
		damped.Set(i, i, hessian[i*n+i]*(1.0+lambda))
	}
	rhs := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		rhs.SetVec(i, -gradient[i])
	}

	var delta mat.VecDense
	if err := delta.SolveVec(damped, rhs); err != nil {
		return nil, false
	}
	for i := 0; i < n; i++ {
		if v := delta.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
	}

	out := append([]transform.Point(nil), points...)
	if o.kind == transform.RigidBody {
		// Source points move by the inverse of a rotation about the pivot
		// followed by a translation
		c, s := math.Cos(delta.AtVec(0)), math.Sin(delta.AtVec(0))
		pivot := points[0]
		tx, ty := delta.AtVec(1), delta.AtVec(2)
		for k, p := range points {
			dx := p.X - pivot.X - tx
			dy := p.Y - pivot.Y - ty
			out[k] = transform.Point{X: c*dx + s*dy + pivot.X, Y: -s*dx + c*dy + pivot.Y}
		}
		return out, true
	}
	for k := range out {
		out[k].X += delta.AtVec(2 * k)
		out[k].Y += delta.AtVec(2*k + 1)
	}
	return out, true
}

// evaluate computes the mean squares between the target and the source warped
// by the transformation defined by points, and optionally its derivatives.
func (o *optimizer) evaluate(points []transform.Point, withGradient, withHessian bool) evaluation {
	m, err := transform.Solve(o.kind, points, o.targets)
	if err != nil {
		return evaluation{meanSquares: math.Inf(1)}
	}
	scale := o.jacobianScale(points)
	if scale == 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return evaluation{meanSquares: math.Inf(1)}
	}

	n := o.params
	var gradient, hessian []float64
	if withGradient {
		gradient = make([]float64, n)
	}
	if withHessian {
		hessian = make([]float64, n*n)
	}
	jac := newJacobian(o.kind, points)
	row := make([]float64, n)

	sw, sh := o.source.Width, o.source.Height
	tw, th := o.target.Width, o.target.Height
	area := 0
	sum := 0.0
	for v := 0; v < sh; v++ {
		x0 := m[0][0] + float64(v)*m[0][2]
		y0 := m[1][0] + float64(v)*m[1][2]
		for u := 0; u < sw; u++ {
			k := v*sw + u
			if o.sourceMask[k] == 0 {
				continue
			}
			x := x0 + float64(u)*m[0][1]
			y := y0 + float64(u)*m[1][1]
			xr, yr := spline.Round(x), spline.Round(y)
			if xr < 0 || xr >= tw || yr < 0 || yr >= th {
				continue
			}
			idx := yr*tw + xr
			if o.targetMask[idx] == 0 {
				continue
			}

			value := spline.Evaluate(o.target.Coefficients, tw, th, x, y)
			residual := value - o.source.Samples[k]
			area++
			sum += residual * residual
			if !withGradient {
				continue
			}

			jac.row(row, float64(u), float64(v), o.source.XGradient[k], o.source.YGradient[k])
			for i := 0; i < n; i++ {
				gradient[i] += residual * row[i]
				if withHessian {
					for j := i; j < n; j++ {
						hessian[i*n+j] += row[i] * row[j]
					}
				}
			}
		}
	}
	if area == 0 {
		return evaluation{meanSquares: math.Inf(1)}
	}

	norm := float64(area) * math.Abs(scale)
	for i := range gradient {
		gradient[i] /= norm
	}
	for i := 0; i < n && withHessian; i++ {
		for j := i; j < n; j++ {
			hessian[i*n+j] /= norm
			hessian[j*n+i] = hessian[i*n+j]
		}
	}
	return evaluation{
		ok:          true,
		meanSquares: sum / norm,
		gradient:    gradient,
		hessian:     hessian,
	}
}

// jacobianScale is the area ratio between source and target induced by the
// transformation, used to keep mean squares comparable across configurations.
func (o *optimizer) jacobianScale(points []transform.Point) float64 {
	switch o.kind {
	case transform.ScaledRotation:
		s := points[1].Sub(points[0])
		t := o.targets[1].Sub(o.targets[0])
		return (s.X*s.X + s.Y*s.Y) / (t.X*t.X + t.Y*t.Y)
	case transform.Affine:
		return cross(points[1].Sub(points[0]), points[2].Sub(points[0])) /
			cross(o.targets[1].Sub(o.targets[0]), o.targets[2].Sub(o.targets[0]))
	default:
		return 1.0
	}
}

func cross(a, b transform.Point) float64 {
	return a.X*b.Y - a.Y*b.X
}

// jacobian gives the derivative of the residual at a source pixel with respect
// to the landmark parameters, in terms of the source gradient (sx, sy).
type jacobian struct {
	kind transform.Type

	// affine barycentric weights: lambda_j(u, v) = a[j] + b[j]*u + c[j]*v
	a, b, c [3]float64

	// scaled rotation: origin and inverse span of each complex weight
	origin [2]transform.Point
	span   [2]transform.Point

	pivot transform.Point
}

func newJacobian(kind transform.Type, points []transform.Point) *jacobian {
	j := &jacobian{kind: kind}
	switch kind {
	case transform.Affine:
		det := cross(points[1].Sub(points[0]), points[2].Sub(points[0]))
		for i := 0; i < 3; i++ {
			p, q := points[(i+1)%3], points[(i+2)%3]
			j.a[i] = cross(p, q) / det
			j.b[i] = (p.Y - q.Y) / det
			j.c[i] = (q.X - p.X) / det
		}
	case transform.ScaledRotation:
		for i := 0; i < 2; i++ {
			other := points[1-i]
			d := points[i].Sub(other)
			norm := d.X*d.X + d.Y*d.Y
			j.origin[i] = other
			j.span[i] = transform.Point{X: d.X / norm, Y: d.Y / norm}
		}
	case transform.RigidBody:
		j.pivot = points[0]
	}
	return j
}

func (j *jacobian) row(out []float64, u, v, sx, sy float64) {
	switch j.kind {
	case transform.Translation:
		out[0] = -sx
		out[1] = -sy
	case transform.RigidBody:
		out[0] = -sx*(v-j.pivot.Y) + sy*(u-j.pivot.X)
		out[1] = sx
		out[2] = sy
	case transform.ScaledRotation:
		for i := 0; i < 2; i++ {
			// w = (p - origin) / (point_i - origin) as a complex ratio
			zx, zy := u-j.origin[i].X, v-j.origin[i].Y
			wr := zx*j.span[i].X + zy*j.span[i].Y
			wi := zy*j.span[i].X - zx*j.span[i].Y
			out[2*i] = -(sx*wr + sy*wi)
			out[2*i+1] = sx*wi - sy*wr
		}
	case transform.Affine:
		for i := 0; i < 3; i++ {
			w := j.a[i] + j.b[i]*u + j.c[i]*v
			out[2*i] = -w * sx
			out[2*i+1] = -w * sy
		}
	}
}
