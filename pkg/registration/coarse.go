package registration

import (
	"github.com/sirupsen/logrus"

	"turboreg/pkg/correlation"
	"turboreg/pkg/transform"
)

// coarseLandmarks places the source landmarks at the target ones minus the
// translation found by phase correlation of the full-resolution samples.
// The set is returned unchanged when no correlation peak is found.
func coarseLandmarks(src, tgt *Pyramids, set *transform.LandmarkSet, log logrus.FieldLogger) *transform.LandmarkSet {
	off, err := correlation.Shift(grid(src), grid(tgt))
	if err != nil {
		log.WithError(err).Warn("Coarse alignment skipped")
		return set
	}
	if off.Peak <= 0 {
		log.Debug("No correlation peak, keeping canonical landmarks")
		return set
	}

	shifted := set.Clone()
	for i, p := range shifted.Target {
		shifted.Source[i] = transform.Point{X: p.X - float64(off.X), Y: p.Y - float64(off.Y)}
	}
	log.WithFields(logrus.Fields{
		"dx":   off.X,
		"dy":   off.Y,
		"peak": off.Peak,
	}).Debug("Coarse translation")
	return shifted
}

func grid(p *Pyramids) correlation.Grid {
	top, mask := p.image(0), p.mask(0)
	return correlation.Grid{
		Width:   top.Width,
		Height:  top.Height,
		Samples: top.Samples,
		Weights: mask.Weights,
	}
}
