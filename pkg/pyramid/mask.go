package pyramid

import (
	"context"
	"math"

	"turboreg/internal/models"
)

// MaskLevel is one resolution of a mask pyramid
type MaskLevel struct {
	Width   int
	Height  int
	Weights []float64
}

// MaskPyramid mirrors ImagePyramid for validity masks
type MaskPyramid struct {
	Top    MaskLevel
	Levels []MaskLevel
}

// Pop removes and returns the coarsest reduced level
func (p *MaskPyramid) Pop() (MaskLevel, bool) {
	n := len(p.Levels)
	if n == 0 {
		return MaskLevel{}, false
	}
	l := p.Levels[n-1]
	p.Levels = p.Levels[:n-1]
	return l, true
}

// BuildMask reduces a mask depth-1 times by 2x2 absolute-value accumulation
func BuildMask(ctx context.Context, mask *models.Mask, depth int, progress ProgressFunc) (*MaskPyramid, error) {
	p := &MaskPyramid{
		Top: MaskLevel{Width: mask.Width, Height: mask.Height, Weights: mask.Pix},
	}
	full := p.Top
	for d := 1; d < depth; d++ {
		half, err := HalveMask(ctx, full)
		if err != nil {
			return nil, err
		}
		if progress != nil {
			progress(half.Height)
		}
		p.Levels = append(p.Levels, half)
		full = half
	}
	return p, nil
}

// HalveMask sums |weight| over each 2x2 block of full. When a dimension is
// odd, the remaining column or row is folded into the last half cell.
func HalveMask(ctx context.Context, full MaskLevel) (MaskLevel, error) {
	hw, hh := full.Width/2, full.Height/2
	half := MaskLevel{Width: hw, Height: hh, Weights: make([]float64, hw*hh)}
	if hw == 0 || hh == 0 {
		return half, nil
	}

	for y := 0; y < full.Height; y++ {
		if err := ctx.Err(); err != nil {
			return MaskLevel{}, err
		}
		hy := y / 2
		if hy >= hh {
			hy = hh - 1
		}
		row := full.Weights[y*full.Width : (y+1)*full.Width]
		out := half.Weights[hy*hw : (hy+1)*hw]
		for x, v := range row {
			hx := x / 2
			if hx >= hw {
				hx = hw - 1
			}
			out[hx] += math.Abs(v)
		}
	}
	return half, nil
}
