// Package registration estimates the geometric transformation that best maps
// a source image onto a target image. Landmarks are refined coarse to fine
// over cubic-spline pyramids by a Marquardt-Levenberg optimizer that
// minimises the mean squared intensity difference over the valid overlap.
package registration

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"turboreg/internal/models"
	"turboreg/pkg/pyramid"
	"turboreg/pkg/resample"
	"turboreg/pkg/transform"
)

// Validation errors
var (
	ErrInvalidImage      = errors.New("invalid image")
	ErrMissingLandmarks  = errors.New("manual registration requires landmarks")
	ErrIncompatibleDepth = errors.New("source and target pyramids have different depths")
)

// LevelTrace describes the optimisation of one pyramid level
type LevelTrace struct {
	// Level is 0 for full resolution and grows towards coarser levels
	Level       int
	Width       int
	Height      int
	Budget      int
	Iterations  int
	MeanSquares float64

	// Accepted lists the mean squares after each accepted step
	Accepted []float64
}

// Trace is the optimisation history, coarsest level first
type Trace struct {
	Levels []LevelTrace
}

// MeanSquares returns the final full-resolution mean squares, or NaN when no
// level was optimised.
func (t Trace) MeanSquares() float64 {
	if len(t.Levels) == 0 {
		return math.NaN()
	}
	return t.Levels[len(t.Levels)-1].MeanSquares
}

// Result of a registration
type Result struct {
	// Landmarks are the refined full-resolution landmarks
	Landmarks *transform.LandmarkSet

	// Matrix maps target coordinates to source coordinates
	Matrix transform.Matrix

	Trace    Trace
	Duration time.Duration
}

// Apply resamples src onto a width x height target grid with the result's
// transformation.
func (r *Result) Apply(src *models.Image, mask *models.Mask, width, height int, accelerated bool) (*models.Image, *models.Mask, error) {
	return resample.Resample(src, mask, r.Matrix, r.Landmarks.Type, width, height, accelerated)
}

// Register aligns source onto target
func Register(ctx context.Context, source, target *models.Image, opts Options) (*Result, error) {
	start := time.Now()
	if err := validateImages(source, target, &opts); err != nil {
		return nil, err
	}
	initial, err := initialLandmarks(source, target, &opts)
	if err != nil {
		return nil, err
	}

	log := opts.logger().WithFields(logrus.Fields{
		"transform":   opts.Type.String(),
		"accelerated": opts.Accelerated,
	})

	if opts.Manual {
		log.Info("Manual registration, landmarks used as supplied")
		return finish(initial, Trace{}, start)
	}

	depth := pyramid.Depth(source.Width, source.Height, target.Width, target.Height)
	progress := NewProgress(opts.Progress)
	progress.AddWorkload(PreparationWorkload(source.Width, source.Height, target.Width, target.Height, depth))
	progress.AddWorkload(OptimizationWorkload(depth, &opts))

	log.WithField("depth", depth).Info("Building pyramids")
	progress.Message("Building pyramids")
	src, tgt, err := prepareBoth(ctx, source, target, &opts, depth, progress)
	if err != nil {
		return nil, err
	}

	result, err := align(src, tgt, initial, &opts, progress, log)
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(start)
	log.WithFields(logrus.Fields{
		"mse":      result.Trace.MeanSquares(),
		"duration": result.Duration,
	}).Info("Registration complete")
	return result, nil
}

// RegisterPrepared aligns pyramids built by PrepareSource and PrepareTarget.
// Options masks are ignored since they are already part of the pyramids.
func RegisterPrepared(ctx context.Context, src, tgt *Pyramids, opts Options) (*Result, error) {
	start := time.Now()
	if src == nil || tgt == nil {
		return nil, errors.Wrap(ErrInvalidImage, "missing pyramids")
	}
	if src.Depth != tgt.Depth {
		return nil, errors.Wrapf(ErrIncompatibleDepth, "%d vs %d", src.Depth, tgt.Depth)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "registration")
	}
	if !opts.Type.Valid() {
		return nil, errors.Wrapf(transform.ErrUnknownTransform, "%d", int(opts.Type))
	}
	initial, err := landmarksFor(src.Width, src.Height, tgt.Width, tgt.Height, &opts)
	if err != nil {
		return nil, err
	}
	if opts.Manual {
		return finish(initial, Trace{}, start)
	}

	progress := NewProgress(opts.Progress)
	progress.AddWorkload(OptimizationWorkload(src.Depth, &opts))
	log := opts.logger().WithField("transform", opts.Type.String())

	result, err := align(src, tgt, initial, &opts, progress, log)
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(start)
	return result, nil
}

// OptimizationWorkload returns the progress units reported by the optimizer
// over a pyramid of the given depth.
func OptimizationWorkload(depth int, opts *Options) int {
	units := 0
	for power := 1 << (depth - 1); power >= 1; power /= 2 {
		units += levelBudget(opts.maxIterations(), power)
	}
	return units
}

func levelBudget(maxIterations, power int) int {
	budget := maxIterations*power - 1
	if budget < 1 {
		budget = 1
	}
	return budget
}

// align runs the optimizer from the coarsest level to full resolution
func align(src, tgt *Pyramids, initial *transform.LandmarkSet, opts *Options, progress *Progress,
	log logrus.FieldLogger) (*Result, error) {
	if opts.CoarseAlign && opts.Landmarks == nil {
		initial = coarseLandmarks(src, tgt, initial, log)
	}
	depth := src.Depth
	landmarks := initial.Scale(math.Pow(0.5, float64(depth-1)))
	trace := Trace{}

	power := 1 << (depth - 1)
	for level := depth - 1; level >= 0; level-- {
		if level != depth-1 {
			landmarks = landmarks.Scale(2.0)
		}
		budget := levelBudget(opts.maxIterations(), power)
		power /= 2

		sourceLevel, targetLevel := src.image(level), tgt.image(level)
		opt := newOptimizer(opts.Type, opts.Accelerated,
			sourceLevel, src.mask(level), targetLevel, tgt.mask(level), landmarks.Target)
		outcome := opt.optimize(landmarks.Source, budget, opts.precision(), func() { progress.Step(1) })
		if remaining := budget - outcome.iterations; remaining > 0 {
			progress.Step(remaining)
		}
		landmarks.Source = outcome.points

		entry := LevelTrace{
			Level:       level,
			Width:       sourceLevel.Width,
			Height:      sourceLevel.Height,
			Budget:      budget,
			Iterations:  outcome.iterations,
			MeanSquares: outcome.meanSquares,
			Accepted:    outcome.accepted,
		}
		trace.Levels = append(trace.Levels, entry)
		log.WithFields(logrus.Fields{
			"level":      level,
			"width":      entry.Width,
			"height":     entry.Height,
			"iterations": entry.Iterations,
			"mse":        entry.MeanSquares,
		}).Debug("Level optimised")
	}

	completed, workload := progress.Snapshot()
	log.WithFields(logrus.Fields{
		"completed": completed,
		"workload":  workload,
	}).Debug("Optimisation finished")
	return finish(landmarks, trace, time.Time{})
}

func finish(landmarks *transform.LandmarkSet, trace Trace, start time.Time) (*Result, error) {
	m, err := landmarks.TargetToSource()
	if err != nil {
		return nil, errors.Wrap(err, "final transformation")
	}
	result := &Result{Landmarks: landmarks, Matrix: m, Trace: trace}
	if !start.IsZero() {
		result.Duration = time.Since(start)
	}
	return result, nil
}

func validateImages(source, target *models.Image, opts *Options) error {
	if source == nil || !source.Valid() {
		return errors.Wrap(ErrInvalidImage, "source")
	}
	if target == nil || !target.Valid() {
		return errors.Wrap(ErrInvalidImage, "target")
	}
	if !opts.Type.Valid() {
		return errors.Wrapf(transform.ErrUnknownTransform, "%d", int(opts.Type))
	}
	if m := opts.SourceMask; m != nil && (!m.Valid() || m.Width != source.Width || m.Height != source.Height) {
		return errors.Wrap(ErrInvalidImage, "source mask does not match source")
	}
	if m := opts.TargetMask; m != nil && (!m.Valid() || m.Width != target.Width || m.Height != target.Height) {
		return errors.Wrap(ErrInvalidImage, "target mask does not match target")
	}
	for _, img := range []*models.Image{source, target} {
		for _, v := range img.Pix {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.Wrap(ErrInvalidImage, "non-finite sample")
			}
		}
	}
	return nil
}

func initialLandmarks(source, target *models.Image, opts *Options) (*transform.LandmarkSet, error) {
	return landmarksFor(source.Width, source.Height, target.Width, target.Height, opts)
}

// landmarksFor returns a private copy of the supplied landmarks, or the
// canonical ones, after checking that they define a transformation.
func landmarksFor(sourceWidth, sourceHeight, targetWidth, targetHeight int, opts *Options) (*transform.LandmarkSet, error) {
	var set *transform.LandmarkSet
	switch {
	case opts.Landmarks != nil:
		set = opts.Landmarks.Clone()
		if set.Type != opts.Type {
			return nil, errors.Wrapf(transform.ErrLandmarkCount, "landmarks are %s, registration is %s", set.Type, opts.Type)
		}
	case opts.Manual:
		return nil, ErrMissingLandmarks
	default:
		var err error
		set, err = transform.Canonical(opts.Type, sourceWidth, sourceHeight, targetWidth, targetHeight)
		if err != nil {
			return nil, err
		}
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	if _, err := set.SourceToTarget(); err != nil {
		return nil, errors.Wrap(err, "initial landmarks")
	}
	if _, err := set.TargetToSource(); err != nil {
		return nil, errors.Wrap(err, "initial landmarks")
	}
	return set, nil
}
