package metrics

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"turboreg/pkg/registration"
	"turboreg/pkg/transform"
)

func sampleResult() *registration.Result {
	return &registration.Result{
		Duration: 250 * time.Millisecond,
		Trace: registration.Trace{Levels: []registration.LevelTrace{
			{Level: 1, Iterations: 12, MeanSquares: 4.5},
			{Level: 0, Iterations: 7, MeanSquares: 0.25},
		}},
	}
}

func TestObserveRegistration(t *testing.T) {
	r := NewRecorder()
	r.ObserveRegistration(transform.Affine, sampleResult())
	r.ObserveRegistration(transform.Affine, sampleResult())
	r.ObserveFailure(transform.Affine)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.registrations.WithLabelValues("affine", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.registrations.WithLabelValues("affine", "failure")))
	assert.Equal(t, 0.25, testutil.ToFloat64(r.meanSquares.WithLabelValues("affine")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.duration))
	assert.Equal(t, 1, testutil.CollectAndCount(r.iterations))
}

func TestObserveRegistrationWithoutTrace(t *testing.T) {
	r := NewRecorder()
	r.ObserveRegistration(transform.Translation, &registration.Result{})

	// Manual registrations have no mean squares to report
	assert.Equal(t, 0, testutil.CollectAndCount(r.meanSquares))
	assert.True(t, math.IsNaN(registration.Trace{}.MeanSquares()))
}

func TestObserveSlice(t *testing.T) {
	r := NewRecorder()
	for i := 0; i < 3; i++ {
		r.ObserveSlice()
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(r.slices))
}

func TestWriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.ObserveRegistration(transform.RigidBody, sampleResult())
	r.ObserveSlice()

	path := filepath.Join(t.TempDir(), "turboreg.prom")
	assert.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	assert.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, `turboreg_registrations_total{status="success",transform="rigid-body"} 1`), text)
	assert.True(t, strings.Contains(text, "turboreg_stack_slices_aligned_total 1"), text)

	assert.Error(t, r.WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "x.prom")))
}
