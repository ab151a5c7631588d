package stack

import (
	"context"

	"turboreg/internal/models"
	"turboreg/pkg/registration"
)

// preparer builds the pyramids of each registration job. The last target is
// kept so that reference mode builds the reference pyramids only once.
type preparer struct {
	stack *models.Stack
	depth int

	lastTarget int
	target     *registration.Pyramids
}

func (p *preparer) prepare(ctx context.Context, j job) prepared {
	item := prepared{job: j}
	item.src, item.err = registration.PrepareSource(ctx, p.stack.Slices[j.Source], nil, p.depth, nil)
	if item.err != nil {
		return item
	}
	if p.target == nil || p.lastTarget != j.Target {
		tgt, err := registration.PrepareTarget(ctx, p.stack.Slices[j.Target], nil, p.depth, nil)
		if err != nil {
			item.err = err
			return item
		}
		p.target, p.lastTarget = tgt, j.Target
	}
	item.tgt = p.target
	return item
}

// prefetch prepares jobs on a separate goroutine, one job ahead of the
// consumer. The channel is closed after the last job, after the first
// failure or when ctx is cancelled.
func (p *preparer) prefetch(ctx context.Context, jobs []job) <-chan prepared {
	out := make(chan prepared)
	go func() {
		defer close(out)
		for _, j := range jobs {
			item := p.prepare(ctx, j)
			select {
			case out <- item:
			case <-ctx.Done():
				return
			}
			if item.err != nil {
				return
			}
		}
	}()
	return out
}
