// Package stack aligns every slice of an image stack, either directly onto a
// reference slice or by chaining neighbour registrations outward from it.
package stack

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"turboreg/internal/models"
	"turboreg/pkg/pyramid"
	"turboreg/pkg/registration"
	"turboreg/pkg/resample"
	"turboreg/pkg/transform"
)

// Mode selects which slice each slice is registered to
type Mode int

const (
	// ModeReference registers every slice directly to the reference slice
	ModeReference Mode = iota

	// ModePropagate registers every slice to its neighbour towards the
	// reference and composes the transformations
	ModePropagate
)

// Errors
var (
	ErrEmptyStack       = errors.New("empty stack")
	ErrInvalidReference = errors.New("reference slice out of range")
	ErrUnknownMode      = errors.New("unknown stack mode")
)

func (m Mode) String() string {
	switch m {
	case ModeReference:
		return "reference"
	case ModePropagate:
		return "propagate"
	}
	return "unknown"
}

// ParseMode converts a mode name
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "reference", "ref", "":
		return ModeReference, nil
	case "propagate", "previous", "stackreg":
		return ModePropagate, nil
	}
	return 0, errors.Wrapf(ErrUnknownMode, "%q", s)
}

// ProgressCallback receives the number of slices processed so far
type ProgressCallback func(completed, total int)

// Options control the alignment of a stack
type Options struct {
	// Registration holds the per-slice settings. Masks, landmarks and
	// progress are ignored.
	Registration registration.Options

	Mode Mode

	// Reference is the index of the slice left untouched
	Reference int

	// Prefetch prepares the next slice's pyramids while the current one
	// is being registered
	Prefetch bool

	Progress ProgressCallback

	// Observer is called with every successful slice registration
	Observer func(slice int, result *registration.Result)
}

// Result of a stack alignment
type Result struct {
	// Aligned has the geometry of the input, every slice resampled onto the
	// reference grid
	Aligned *models.Stack

	// Masks flag the valid pixels of each aligned slice
	Masks []*models.Mask

	// Matrices map reference coordinates to the coordinates of each
	// original slice; the reference slice has the identity
	Matrices []transform.Matrix

	// Results holds the registration of each slice against its target,
	// nil for the reference slice
	Results []*registration.Result
}

// job registers slice Source onto slice Target
type job struct {
	Source int
	Target int
}

type prepared struct {
	job
	src *registration.Pyramids
	tgt *registration.Pyramids
	err error
}

// Align registers every slice of st and resamples it onto the reference grid
func Align(ctx context.Context, st *models.Stack, opts Options) (*Result, error) {
	if err := validate(st, &opts); err != nil {
		return nil, err
	}
	log := stackLogger(&opts)

	n := st.Depth()
	w, h := st.Width, st.Height
	result := &Result{
		Aligned:  models.NewStack(w, h, n),
		Masks:    make([]*models.Mask, n),
		Matrices: make([]transform.Matrix, n),
		Results:  make([]*registration.Result, n),
	}
	ref := opts.Reference
	copy(result.Aligned.Slices[ref].Pix, st.Slices[ref].Pix)
	result.Masks[ref] = models.FullMask(w, h)
	result.Matrices[ref] = transform.Identity()

	jobs := plan(n, ref, opts.Mode)
	log.WithFields(logrus.Fields{
		"slices":    n,
		"reference": ref,
		"mode":      opts.Mode.String(),
	}).Info("Aligning stack")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := &preparer{stack: st, depth: pyramid.Depth(w, h, w, h)}
	var next func() (prepared, bool)
	if opts.Prefetch {
		ch := p.prefetch(ctx, jobs)
		next = func() (prepared, bool) {
			item, ok := <-ch
			return item, ok
		}
	} else {
		i := 0
		next = func() (prepared, bool) {
			if i >= len(jobs) {
				return prepared{}, false
			}
			item := p.prepare(ctx, jobs[i])
			i++
			return item, true
		}
	}

	regOpts := opts.Registration
	regOpts.SourceMask, regOpts.TargetMask, regOpts.Landmarks, regOpts.Manual = nil, nil, nil, false
	regOpts.Progress = nil

	done := 1
	if opts.Progress != nil {
		opts.Progress(done, n)
	}
	for {
		item, ok := next()
		if !ok {
			break
		}
		if item.err != nil {
			return nil, errors.Wrapf(item.err, "slice %d", item.Source)
		}

		reg, err := registration.RegisterPrepared(ctx, item.src, item.tgt, regOpts)
		if err != nil {
			return nil, errors.Wrapf(err, "slice %d", item.Source)
		}
		result.Results[item.Source] = reg
		if opts.Observer != nil {
			opts.Observer(item.Source, reg)
		}

		// Reference grid to slice coordinates, through the target slice
		m := transform.Compose(reg.Matrix, result.Matrices[item.Target])
		result.Matrices[item.Source] = m

		mask := models.NewMask(w, h)
		err = resample.ResampleInto(result.Aligned.Slices[item.Source].Pix, mask.Pix,
			st.Slices[item.Source], nil, m, opts.Registration.Type, w, h, opts.Registration.Accelerated)
		if err != nil {
			return nil, errors.Wrapf(err, "slice %d", item.Source)
		}
		result.Masks[item.Source] = mask

		log.WithFields(logrus.Fields{
			"slice":  item.Source,
			"target": item.Target,
			"mse":    reg.Trace.MeanSquares(),
		}).Debug("Slice aligned")

		done++
		if opts.Progress != nil {
			opts.Progress(done, n)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "stack alignment")
	}
	return result, nil
}

// plan orders the registrations so that every target's own transformation
// is known before it is used.
func plan(n, ref int, mode Mode) []job {
	jobs := make([]job, 0, n-1)
	for i := ref + 1; i < n; i++ {
		target := ref
		if mode == ModePropagate {
			target = i - 1
		}
		jobs = append(jobs, job{Source: i, Target: target})
	}
	for i := ref - 1; i >= 0; i-- {
		target := ref
		if mode == ModePropagate {
			target = i + 1
		}
		jobs = append(jobs, job{Source: i, Target: target})
	}
	return jobs
}

func validate(st *models.Stack, opts *Options) error {
	if st == nil || st.Depth() == 0 {
		return ErrEmptyStack
	}
	for i, s := range st.Slices {
		if !s.Valid() || s.Width != st.Width || s.Height != st.Height {
			return errors.Wrapf(registration.ErrInvalidImage, "slice %d does not match %dx%d stack", i, st.Width, st.Height)
		}
	}
	if opts.Reference < 0 || opts.Reference >= st.Depth() {
		return errors.Wrapf(ErrInvalidReference, "%d of %d", opts.Reference, st.Depth())
	}
	if opts.Mode != ModeReference && opts.Mode != ModePropagate {
		return errors.Wrapf(ErrUnknownMode, "%d", int(opts.Mode))
	}
	if !opts.Registration.Type.Valid() {
		return errors.Wrapf(transform.ErrUnknownTransform, "%d", int(opts.Registration.Type))
	}
	return nil
}

func stackLogger(opts *Options) logrus.FieldLogger {
	if opts.Registration.Logger != nil {
		return opts.Registration.Logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
