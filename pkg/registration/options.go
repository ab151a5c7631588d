package registration

import (
	"io"

	"github.com/sirupsen/logrus"

	"turboreg/internal/models"
	"turboreg/pkg/transform"
)

// Optimizer constants
const (
	// FewIterations is the per-level iteration base in accelerated mode
	FewIterations = 5

	// ManyIterations is the per-level iteration base otherwise
	ManyIterations = 10

	// LowPrecision is the landmark displacement, in pixels, below which the
	// accelerated optimizer stops
	LowPrecision = 0.1

	// HighPrecision is the stopping displacement otherwise
	HighPrecision = 0.001

	firstLambda   = 1.0
	lambdaMagstep = 4.0
)

// Options control a single registration
type Options struct {
	// Type is the geometric model to estimate
	Type transform.Type

	// Accelerated trades accuracy for speed: a fixed Hessian, fewer
	// iterations and a looser stopping criterion. The target is still read
	// through its cubic interpolant; only Result.Apply samples the nearest
	// source pixel.
	Accelerated bool

	// SourceMask and TargetMask exclude pixels from the comparison; nil
	// means every pixel is valid
	SourceMask *models.Mask
	TargetMask *models.Mask

	// Landmarks optionally replaces the canonical initial landmarks.
	// The set is copied, never modified.
	Landmarks *transform.LandmarkSet

	// Manual skips the refinement and uses Landmarks as given
	Manual bool

	// CoarseAlign moves the canonical source landmarks by the integer
	// translation found by phase correlation before refining. Ignored when
	// Landmarks is set.
	CoarseAlign bool

	// MaxIterations overrides the per-level iteration base when positive
	MaxIterations int

	// Precision overrides the stopping displacement when positive
	Precision float64

	// Progress receives progress updates; it may be called from several
	// goroutines but never concurrently
	Progress ProgressCallback

	// Logger receives per-level diagnostics; nil discards them
	Logger logrus.FieldLogger
}

func (o *Options) maxIterations() int {
	if o.MaxIterations > 0 {
		return o.MaxIterations
	}
	if o.Accelerated {
		return FewIterations
	}
	return ManyIterations
}

func (o *Options) precision() float64 {
	if o.Precision > 0 {
		return o.Precision
	}
	if o.Accelerated {
		return LowPrecision
	}
	return HighPrecision
}

func (o *Options) logger() logrus.FieldLogger {
	if o.Logger != nil {
		return o.Logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
