package registration

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"turboreg/internal/models"
	"turboreg/pkg/pyramid"
)

// Pyramids holds one side of a registration: the image pyramid and its mask
// pyramid, built for a given depth. Levels are read, never consumed, so a
// target can be shared by several registrations.
type Pyramids struct {
	Width  int
	Height int
	Depth  int
	Image  *pyramid.ImagePyramid
	Mask   *pyramid.MaskPyramid
}

func (p *Pyramids) image(level int) pyramid.Level {
	if level == 0 {
		return p.Image.Top
	}
	return p.Image.Levels[level-1]
}

func (p *Pyramids) mask(level int) pyramid.MaskLevel {
	if level == 0 {
		return p.Mask.Top
	}
	return p.Mask.Levels[level-1]
}

// PreparationWorkload returns the progress units reported while preparing
// both sides of a registration.
func PreparationWorkload(sourceWidth, sourceHeight, targetWidth, targetHeight, depth int) int {
	return 2*pyramid.Workload(sourceWidth, sourceHeight, depth) +
		2*pyramid.Workload(targetWidth, targetHeight, depth)
}

// PrepareSource builds the source-side pyramids concurrently
func PrepareSource(ctx context.Context, img *models.Image, mask *models.Mask, depth int, progress *Progress) (*Pyramids, error) {
	p := &Pyramids{Width: img.Width, Height: img.Height, Depth: depth}
	err := runTasks(ctx,
		func(ctx context.Context) (err error) {
			p.Image, err = pyramid.BuildSource(ctx, img, depth, progress.Step)
			return errors.Wrap(err, "source image pyramid")
		},
		func(ctx context.Context) (err error) {
			p.Mask, err = pyramid.BuildMask(ctx, maskOrFull(mask, img), depth, progress.Step)
			return errors.Wrap(err, "source mask pyramid")
		},
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// PrepareTarget builds the target-side pyramids concurrently
func PrepareTarget(ctx context.Context, img *models.Image, mask *models.Mask, depth int, progress *Progress) (*Pyramids, error) {
	p := &Pyramids{Width: img.Width, Height: img.Height, Depth: depth}
	err := runTasks(ctx,
		func(ctx context.Context) (err error) {
			p.Image, err = pyramid.BuildTarget(ctx, img, depth, progress.Step)
			return errors.Wrap(err, "target image pyramid")
		},
		func(ctx context.Context) (err error) {
			p.Mask, err = pyramid.BuildMask(ctx, maskOrFull(mask, img), depth, progress.Step)
			return errors.Wrap(err, "target mask pyramid")
		},
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// prepareBoth builds the four pyramids of a registration at once
func prepareBoth(ctx context.Context, source, target *models.Image, opts *Options, depth int,
	progress *Progress) (src, tgt *Pyramids, err error) {
	err = runTasks(ctx,
		func(ctx context.Context) (err error) {
			src, err = PrepareSource(ctx, source, opts.SourceMask, depth, progress)
			return err
		},
		func(ctx context.Context) (err error) {
			tgt, err = PrepareTarget(ctx, target, opts.TargetMask, depth, progress)
			return err
		},
	)
	if err != nil {
		return nil, nil, err
	}
	return src, tgt, nil
}

// runTasks runs every task on its own goroutine and waits for all of them.
// The first failure cancels the others and is returned.
func runTasks(ctx context.Context, tasks ...func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var once sync.Once
	var first error

	for _, task := range tasks {
		wg.Add(1)
		go func(task func(context.Context) error) {
			defer wg.Done()
			if err := task(ctx); err != nil {
				once.Do(func() {
					first = err
					cancel()
				})
			}
		}(task)
	}
	wg.Wait()
	return first
}

func maskOrFull(mask *models.Mask, img *models.Image) *models.Mask {
	if mask == nil {
		return models.FullMask(img.Width, img.Height)
	}
	return mask
}
