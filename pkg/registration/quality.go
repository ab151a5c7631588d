package registration

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"turboreg/internal/models"
)

// Quality compares a registered image with its target over the pixels valid
// in both.
type Quality struct {
	// Overlap is the number of pixels compared
	Overlap int `yaml:"overlap" json:"overlap"`

	// Coverage is Overlap as a fraction of the target
	Coverage float64 `yaml:"coverage" json:"coverage"`

	RMSE        float64 `yaml:"rmse" json:"rmse"`
	MeanAbsDiff float64 `yaml:"meanAbsDiff" json:"meanAbsDiff"`

	// Correlation is the Pearson correlation coefficient, NaN when either
	// side is constant over the overlap
	Correlation float64 `yaml:"correlation" json:"correlation"`
}

// Assess computes the quality report. Nil masks mark every pixel valid.
func Assess(registered *models.Image, registeredMask *models.Mask, target *models.Image, targetMask *models.Mask) (Quality, error) {
	if registered == nil || target == nil || !registered.Valid() || !target.Valid() {
		return Quality{}, errors.Wrap(ErrInvalidImage, "quality")
	}
	if registered.Width != target.Width || registered.Height != target.Height {
		return Quality{}, errors.Wrapf(ErrInvalidImage, "registered %dx%d vs target %dx%d",
			registered.Width, registered.Height, target.Width, target.Height)
	}
	for _, m := range []*models.Mask{registeredMask, targetMask} {
		if m != nil && (m.Width != target.Width || m.Height != target.Height || !m.Valid()) {
			return Quality{}, errors.Wrap(ErrInvalidImage, "quality mask size")
		}
	}

	x := make([]float64, 0, len(target.Pix))
	y := make([]float64, 0, len(target.Pix))
	for i := range target.Pix {
		if registeredMask != nil && registeredMask.Pix[i] == 0 {
			continue
		}
		if targetMask != nil && targetMask.Pix[i] == 0 {
			continue
		}
		x = append(x, registered.Pix[i])
		y = append(y, target.Pix[i])
	}

	q := Quality{
		Overlap:     len(x),
		Coverage:    float64(len(x)) / float64(len(target.Pix)),
		RMSE:        math.NaN(),
		MeanAbsDiff: math.NaN(),
		Correlation: math.NaN(),
	}
	if len(x) == 0 {
		return q, nil
	}

	n := float64(len(x))
	q.RMSE = floats.Distance(x, y, 2) / math.Sqrt(n)
	q.MeanAbsDiff = floats.Distance(x, y, 1) / n
	if len(x) > 1 && stat.StdDev(x, nil) > 0 && stat.StdDev(y, nil) > 0 {
		q.Correlation = stat.Correlation(x, y, nil)
	}
	return q, nil
}
