package correlation

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/pkg/errors"
)

func texture(x, y float64) float64 {
	return 50.0*math.Sin(x/3.0)*math.Cos(y/5.0) + 30.0*math.Cos((x+2*y)/7.0) + 10.0*math.Sin(x*y/40.0)
}

// shiftedGrid samples texture moved by (dx, dy), wrapping circularly
func shiftedGrid(w, h, dx, dy int) Grid {
	g := Grid{Width: w, Height: h, Samples: make([]float64, w*h)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx := ((x-dx)%w + w) % w
			sy := ((y-dy)%h + h) % h
			g.Samples[y*w+x] = texture(float64(sx), float64(sy))
		}
	}
	return g
}

// TestFFTRoundTrip verifies that an inverse pass undoes a forward pass up to
// the width*height scale, for sizes that are not powers of two
func TestFFTRoundTrip(t *testing.T) {
	for _, size := range [][2]int{{8, 8}, {12, 10}, {15, 7}} {
		w, h := size[0], size[1]
		data := make([]complex128, w*h)
		for i := range data {
			data[i] = complex(float64(i%7)-3, float64(i%3))
		}
		f := newFFT2D(w, h)
		back := f.inverse(f.forward(data))
		n := complex(float64(w*h), 0)
		for i := range data {
			if cmplx.Abs(back[i]/n-data[i]) > 1e-9 {
				t.Fatalf("%dx%d: sample %d expected %v, got %v", w, h, i, data[i], back[i]/n)
			}
		}
	}
}

// TestShiftCircular recovers exact circular shifts, including negative ones
func TestShiftCircular(t *testing.T) {
	tests := []struct {
		dx, dy int
	}{
		{0, 0},
		{5, 3},
		{-4, 7},
		{11, -9},
	}

	source := shiftedGrid(48, 40, 0, 0)
	for _, tt := range tests {
		target := shiftedGrid(48, 40, tt.dx, tt.dy)
		off, err := Shift(source, target)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if off.X != tt.dx || off.Y != tt.dy {
			t.Errorf("expected (%d,%d), got (%d,%d)", tt.dx, tt.dy, off.X, off.Y)
		}
		if off.Peak < 0.9 {
			t.Errorf("(%d,%d): expected a sharp peak, got %f", tt.dx, tt.dy, off.Peak)
		}
	}
}

// TestShiftDifferentSizes correlates the common top-left area
func TestShiftDifferentSizes(t *testing.T) {
	source := shiftedGrid(64, 64, 0, 0)
	target := shiftedGrid(64, 64, 3, -2)

	// a larger source whose top-left 64x64 area is the original source
	big := Grid{Width: 80, Height: 70, Samples: make([]float64, 80*70)}
	for y := 0; y < 64; y++ {
		copy(big.Samples[y*80:y*80+64], source.Samples[y*64:(y+1)*64])
	}

	off, err := Shift(big, target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if off.X != 3 || off.Y != -2 {
		t.Errorf("expected (3,-2), got (%d,%d)", off.X, off.Y)
	}
}

// TestShiftWeights ignores samples with zero weight
func TestShiftWeights(t *testing.T) {
	source := shiftedGrid(32, 32, 0, 0)
	target := shiftedGrid(32, 32, 2, 1)

	ones := make([]float64, 32*32)
	for i := range ones {
		ones[i] = 1
	}
	source.Weights = ones
	off, err := Shift(source, target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if off.X != 2 || off.Y != 1 {
		t.Errorf("expected (2,1), got (%d,%d)", off.X, off.Y)
	}

	zeros := make([]float64, 32*32)
	source.Weights = zeros
	off, err = Shift(source, target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if off.Peak != 0 {
		t.Errorf("expected no peak for an empty source, got %f", off.Peak)
	}
}

func TestShiftTooSmall(t *testing.T) {
	small := Grid{Width: 3, Height: 10, Samples: make([]float64, 30)}
	if _, err := Shift(small, shiftedGrid(16, 16, 0, 0)); !errors.Is(err, ErrTooSmall) {
		t.Errorf("expected ErrTooSmall, got %v", err)
	}
}
