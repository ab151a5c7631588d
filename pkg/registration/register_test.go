package registration

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"turboreg/internal/models"
	"turboreg/pkg/transform"
)

// createTestImage samples a continuous pattern on a width x height grid
func createTestImage(width, height int, pattern func(x, y float64) float64) *models.Image {
	img := models.NewImage(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, pattern(float64(x), float64(y)))
		}
	}
	return img
}

func smoothPattern(x, y float64) float64 {
	return 100.0 + 30.0*math.Sin(x/7.0)*math.Cos(y/9.0) + 20.0*math.Cos((x+y)/11.0)
}

// squareImage is the 64x64 scenario image with a bright 10x10 square at (x0, y0)
func squareImage(x0, y0 int) *models.Image {
	img := models.NewImage(64, 64)
	for y := y0; y < y0+10; y++ {
		for x := x0; x < x0+10; x++ {
			img.Set(x, y, 255)
		}
	}
	return img
}

// TestRegisterIdentity verifies that identical images give the identity for every model
func TestRegisterIdentity(t *testing.T) {
	img := createTestImage(80, 64, smoothPattern)

	for _, tt := range transform.Types() {
		for _, accelerated := range []bool{false, true} {
			result, err := Register(context.Background(), img, img, Options{Type: tt, Accelerated: accelerated})
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", tt, err)
			}
			if !result.Matrix.IsIdentity(1e-6) {
				t.Errorf("%s (accelerated=%v): expected identity, got %v", tt, accelerated, result.Matrix)
			}
			if mse := result.Trace.MeanSquares(); mse > 1e-12 {
				t.Errorf("%s: expected zero mean squares, got %g", tt, mse)
			}
		}
	}
}

// TestRegisterSquareScenario registers a bright square shifted by (+5,+3)
func TestRegisterSquareScenario(t *testing.T) {
	source := squareImage(20, 20)
	target := squareImage(25, 23)

	result, err := Register(context.Background(), source, target, Options{Type: transform.Translation})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	shift := result.Landmarks.Target[0].Sub(result.Landmarks.Source[0])
	if math.Abs(shift.X-5) > 0.01 || math.Abs(shift.Y-3) > 0.01 {
		t.Fatalf("expected landmark shift (5,3), got (%f,%f)", shift.X, shift.Y)
	}

	out, outMask, err := result.Apply(source, nil, 64, 64, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q, err := Assess(out, outMask, target, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Overlap == 0 || q.MeanAbsDiff > 1e-3 {
		t.Errorf("resampled output differs from target: overlap %d, mean abs diff %g", q.Overlap, q.MeanAbsDiff)
	}
}

// TestRegisterRecoversTranslation checks that every model recovers an integer shift
func TestRegisterRecoversTranslation(t *testing.T) {
	const dx, dy = 3.0, -2.0
	source := createTestImage(96, 96, smoothPattern)
	target := createTestImage(96, 96, func(x, y float64) float64 { return smoothPattern(x-dx, y-dy) })

	for _, tt := range transform.Types() {
		for _, accelerated := range []bool{false, true} {
			tol := 0.05
			if accelerated {
				tol = 0.1
			}
			result, err := Register(context.Background(), source, target, Options{Type: tt, Accelerated: accelerated})
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", tt, err)
			}
			// The target pixel (48,48) comes from source pixel (45,50)
			x, y := result.Matrix.Apply(48, 48)
			if math.Abs(x-(48-dx)) > tol || math.Abs(y-(48-dy)) > tol {
				t.Errorf("%s (accelerated=%v): (48,48) maps to (%f,%f), want (%f,%f)",
					tt, accelerated, x, y, 48-dx, 48-dy)
			}
		}
	}
}

// aboutCentre builds the map p -> A(p-c) + c + t for A = [[a, b], [c2, d]]
func aboutCentre(a, b, c2, d, tx, ty, cx, cy float64) transform.Matrix {
	return transform.Matrix{
		{cx + tx - a*cx - b*cy, a, b},
		{cy + ty - c2*cx - d*cy, c2, d},
	}
}

// TestRegisterRecoversWarp checks rotation, scaling and shear about the centre
func TestRegisterRecoversWarp(t *testing.T) {
	const theta, c = 0.08, 64.0
	cos, sin := math.Cos(theta), math.Sin(theta)
	source := createTestImage(128, 128, smoothPattern)

	tests := []struct {
		name string
		kind transform.Type
		warp transform.Matrix
	}{
		{"rotation", transform.RigidBody, aboutCentre(cos, -sin, sin, cos, 1.5, -1, c, c)},
		{"scaled rotation", transform.ScaledRotation, aboutCentre(cos/1.05, -sin/1.05, sin/1.05, cos/1.05, 0, 0, c, c)},
		{"shear", transform.Affine, aboutCentre(1.03, 0.04, -0.03, 0.97, 0.5, 0.75, c, c)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// target(p) shows the source content at warp(p)
			target := createTestImage(128, 128, func(x, y float64) float64 {
				return smoothPattern(tt.warp.Apply(x, y))
			})
			result, err := Register(context.Background(), source, target, Options{Type: tt.kind})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, p := range []transform.Point{{X: 32, Y: 32}, {X: 96, Y: 40}, {X: 64, Y: 100}} {
				gx, gy := result.Matrix.Apply(p.X, p.Y)
				wx, wy := tt.warp.Apply(p.X, p.Y)
				if math.Abs(gx-wx) > 0.01 || math.Abs(gy-wy) > 0.01 {
					t.Errorf("(%g,%g) maps to (%f,%f), want (%f,%f)", p.X, p.Y, gx, gy, wx, wy)
				}
			}
		})
	}
}

// TestAcceptedMeanSquaresNonIncreasing verifies the accept rule on every level
func TestAcceptedMeanSquaresNonIncreasing(t *testing.T) {
	source := createTestImage(96, 80, smoothPattern)
	target := createTestImage(96, 80, func(x, y float64) float64 {
		return smoothPattern(0.98*x+0.05*y-1.5, -0.04*x+1.01*y+2.0)
	})

	for _, accelerated := range []bool{false, true} {
		result, err := Register(context.Background(), source, target, Options{Type: transform.Affine, Accelerated: accelerated})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(result.Trace.Levels) == 0 {
			t.Fatal("expected a trace entry per level")
		}
		for _, level := range result.Trace.Levels {
			if level.Iterations > level.Budget {
				t.Errorf("level %d: %d iterations exceed budget %d", level.Level, level.Iterations, level.Budget)
			}
			for i := 1; i < len(level.Accepted); i++ {
				if level.Accepted[i] > level.Accepted[i-1] {
					t.Errorf("level %d: accepted mean squares increased from %g to %g",
						level.Level, level.Accepted[i-1], level.Accepted[i])
				}
			}
			if n := len(level.Accepted); n > 0 && level.Accepted[n-1] != level.MeanSquares {
				t.Errorf("level %d: best %g differs from last accepted %g", level.Level, level.MeanSquares, level.Accepted[n-1])
			}
		}
		if last := result.Trace.Levels[len(result.Trace.Levels)-1]; last.Level != 0 || last.Width != 96 {
			t.Errorf("last level should be full resolution, got %+v", last)
		}
	}
}

// TestRegisterManual verifies that manual mode uses the supplied landmarks
func TestRegisterManual(t *testing.T) {
	img := createTestImage(40, 40, smoothPattern)
	landmarks := &transform.LandmarkSet{
		Type:   transform.Translation,
		Source: []transform.Point{{X: 10, Y: 10}},
		Target: []transform.Point{{X: 13, Y: 12}},
	}

	result, err := Register(context.Background(), img, img, Options{
		Type:      transform.Translation,
		Landmarks: landmarks,
		Manual:    true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := transform.Matrix{{-3, 1, 0}, {-2, 0, 1}}
	if result.Matrix != want {
		t.Errorf("expected %v, got %v", want, result.Matrix)
	}
	if len(result.Trace.Levels) != 0 {
		t.Errorf("manual mode should not optimise, got %d levels", len(result.Trace.Levels))
	}

	// The caller's landmarks are never modified
	result.Landmarks.Source[0].X = 99
	if landmarks.Source[0].X != 10 {
		t.Error("result shares landmark storage with options")
	}
}

// TestRegisterValidation verifies the errors reported before any iteration
func TestRegisterValidation(t *testing.T) {
	img := createTestImage(32, 32, smoothPattern)
	ctx := context.Background()

	if _, err := Register(ctx, nil, img, Options{}); !errors.Is(err, ErrInvalidImage) {
		t.Errorf("expected ErrInvalidImage for nil source, got %v", err)
	}
	if _, err := Register(ctx, img, img, Options{Type: transform.Type(7)}); !errors.Is(err, transform.ErrUnknownTransform) {
		t.Errorf("expected ErrUnknownTransform, got %v", err)
	}
	if _, err := Register(ctx, img, img, Options{SourceMask: models.FullMask(8, 8)}); !errors.Is(err, ErrInvalidImage) {
		t.Errorf("expected ErrInvalidImage for mismatched mask, got %v", err)
	}
	if _, err := Register(ctx, img, img, Options{Manual: true}); !errors.Is(err, ErrMissingLandmarks) {
		t.Errorf("expected ErrMissingLandmarks, got %v", err)
	}

	collinear := &transform.LandmarkSet{
		Type:   transform.Affine,
		Source: []transform.Point{{X: 0, Y: 0}, {X: 5, Y: 5}, {X: 10, Y: 10}},
		Target: []transform.Point{{X: 0, Y: 0}, {X: 5, Y: 5}, {X: 10, Y: 10}},
	}
	if _, err := Register(ctx, img, img, Options{Type: transform.Affine, Landmarks: collinear}); !errors.Is(err, transform.ErrDegenerateTransform) {
		t.Errorf("expected ErrDegenerateTransform, got %v", err)
	}

	short := &transform.LandmarkSet{Type: transform.Affine, Source: []transform.Point{{X: 1, Y: 1}}}
	if _, err := Register(ctx, img, img, Options{Type: transform.Affine, Landmarks: short}); !errors.Is(err, transform.ErrLandmarkCount) {
		t.Errorf("expected ErrLandmarkCount, got %v", err)
	}

	nan := img.Clone()
	nan.Pix[3] = math.NaN()
	if _, err := Register(ctx, nan, img, Options{}); !errors.Is(err, ErrInvalidImage) {
		t.Errorf("expected ErrInvalidImage for NaN sample, got %v", err)
	}
}

// TestRegisterCancelled verifies that a cancelled context aborts pyramid construction
func TestRegisterCancelled(t *testing.T) {
	img := createTestImage(128, 128, smoothPattern)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Register(ctx, img, img, Options{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// TestRegisterProgress verifies that progress reaches the announced workload
func TestRegisterProgress(t *testing.T) {
	img := createTestImage(64, 48, smoothPattern)

	var mu sync.Mutex
	lastCompleted, lastTotal := 0, 0
	messages := 0
	callback := func(completed, total int, message string) {
		mu.Lock()
		defer mu.Unlock()
		if message != "" {
			messages++
			return
		}
		if completed < lastCompleted || completed > total {
			t.Errorf("inconsistent progress %d/%d after %d", completed, total, lastCompleted)
		}
		lastCompleted, lastTotal = completed, total
	}

	if _, err := Register(context.Background(), img, img, Options{Type: transform.RigidBody, Progress: callback}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lastTotal == 0 || lastCompleted != lastTotal {
		t.Errorf("expected progress to complete, got %d/%d", lastCompleted, lastTotal)
	}
	if messages == 0 {
		t.Error("expected at least one progress message")
	}
}

// TestRegisterPreparedSharedTarget verifies that a prepared target can be reused
func TestRegisterPreparedSharedTarget(t *testing.T) {
	ctx := context.Background()
	target := createTestImage(64, 64, smoothPattern)
	tgt, err := PrepareTarget(ctx, target, nil, 3, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, shift := range []float64{1, -2} {
		source := createTestImage(64, 64, func(x, y float64) float64 { return smoothPattern(x+shift, y) })
		src, err := PrepareSource(ctx, source, nil, 3, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		result, err := RegisterPrepared(ctx, src, tgt, Options{Type: transform.Translation})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if x, _ := result.Matrix.Apply(32, 32); math.Abs(x-(32-shift)) > 0.05 {
			t.Errorf("shift %f: (32,32) maps to x=%f", shift, x)
		}
	}

	src, _ := PrepareSource(ctx, target, nil, 2, nil)
	if _, err := RegisterPrepared(ctx, src, tgt, Options{}); !errors.Is(err, ErrIncompatibleDepth) {
		t.Errorf("expected ErrIncompatibleDepth, got %v", err)
	}
}

// TestAssess verifies the quality report
func TestAssess(t *testing.T) {
	target := createTestImage(20, 20, smoothPattern)
	registered := target.Clone()
	for i := range registered.Pix {
		registered.Pix[i] += 2
	}
	mask := models.FullMask(20, 20)
	for i := 0; i < 20; i++ {
		mask.Pix[i] = 0
	}

	q, err := Assess(registered, mask, target, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Overlap != 380 {
		t.Errorf("expected overlap 380, got %d", q.Overlap)
	}
	if math.Abs(q.RMSE-2) > 1e-9 || math.Abs(q.MeanAbsDiff-2) > 1e-9 {
		t.Errorf("expected RMSE and mean abs diff of 2, got %f and %f", q.RMSE, q.MeanAbsDiff)
	}
	if math.Abs(q.Correlation-1) > 1e-9 {
		t.Errorf("expected correlation 1, got %f", q.Correlation)
	}

	if _, err := Assess(registered, nil, createTestImage(10, 10, smoothPattern), nil); !errors.Is(err, ErrInvalidImage) {
		t.Errorf("expected ErrInvalidImage, got %v", err)
	}
}

// latticeNoise is a deterministic pseudo-random value in [0,1) per pixel
func latticeNoise(x, y float64) float64 {
	h := uint32(int(math.Round(x))*73856093 ^ int(math.Round(y))*19349663)
	h ^= h >> 13
	h *= 0x5bd1e995
	h ^= h >> 15
	return float64(h%1000) / 1000.0
}

func texturedPattern(x, y float64) float64 {
	blob := 80.0 * math.Exp(-((x-40)*(x-40)+(y-55)*(y-55))/200.0)
	return 100.0 + blob + 25.0*math.Sin(x/3.0)*math.Cos(y/4.0) + 20.0*latticeNoise(x, y)
}

// TestRegisterCoarseAlign recovers a shift larger than the optimizer reaches
// from the canonical landmarks alone
func TestRegisterCoarseAlign(t *testing.T) {
	const dx, dy = 13.0, -9.0
	source := createTestImage(96, 96, texturedPattern)
	target := createTestImage(96, 96, func(x, y float64) float64 { return texturedPattern(x-dx, y-dy) })

	for _, tt := range []transform.Type{transform.Translation, transform.RigidBody} {
		result, err := Register(context.Background(), source, target, Options{Type: tt, CoarseAlign: true})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt, err)
		}
		x, y := result.Matrix.Apply(48, 48)
		if math.Abs(x-(48-dx)) > 0.05 || math.Abs(y-(48-dy)) > 0.05 {
			t.Errorf("%s: (48,48) maps to (%f,%f), want (%f,%f)", tt, x, y, 48-dx, 48-dy)
		}
	}

	// supplied landmarks take precedence
	landmarks := &transform.LandmarkSet{
		Type:   transform.Translation,
		Source: []transform.Point{{X: 48, Y: 48}},
		Target: []transform.Point{{X: 48, Y: 48}},
	}
	result, err := Register(context.Background(), source, target,
		Options{Type: transform.Translation, CoarseAlign: true, Landmarks: landmarks, Manual: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Matrix.IsIdentity(1e-12) {
		t.Errorf("expected the supplied identity, got %v", result.Matrix)
	}
}
