// Package metrics records registration outcomes as Prometheus collectors.
// Batch runs export them with WriteTextfile for the node exporter textfile
// collector.
package metrics

import (
	"math"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"turboreg/pkg/registration"
	"turboreg/pkg/transform"
)

// Recorder owns a private registry so several recorders can coexist
type Recorder struct {
	registry *prometheus.Registry

	registrations *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	iterations    *prometheus.HistogramVec
	meanSquares   *prometheus.GaugeVec
	slices        prometheus.Counter
}

// NewRecorder creates a recorder with its collectors registered
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "turboreg_registrations_total",
			Help: "Number of registrations by transformation and outcome.",
		}, []string{"transform", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "turboreg_registration_duration_seconds",
			Help:    "Duration of successful registrations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"transform"}),
		iterations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "turboreg_registration_iterations",
			Help:    "Optimizer iterations summed over pyramid levels.",
			Buckets: prometheus.LinearBuckets(10, 20, 10),
		}, []string{"transform"}),
		meanSquares: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "turboreg_mean_squares",
			Help: "Full-resolution mean squared difference of the last registration.",
		}, []string{"transform"}),
		slices: factory.NewCounter(prometheus.CounterOpts{
			Name: "turboreg_stack_slices_aligned_total",
			Help: "Number of stack slices resampled onto the reference grid.",
		}),
	}
}

// ObserveRegistration records a successful registration
func (r *Recorder) ObserveRegistration(t transform.Type, result *registration.Result) {
	label := t.String()
	r.registrations.WithLabelValues(label, "success").Inc()
	r.duration.WithLabelValues(label).Observe(result.Duration.Seconds())

	total := 0
	for _, level := range result.Trace.Levels {
		total += level.Iterations
	}
	r.iterations.WithLabelValues(label).Observe(float64(total))
	if mse := result.Trace.MeanSquares(); !math.IsNaN(mse) {
		r.meanSquares.WithLabelValues(label).Set(mse)
	}
}

// ObserveFailure records a registration that returned an error
func (r *Recorder) ObserveFailure(t transform.Type) {
	r.registrations.WithLabelValues(t.String(), "failure").Inc()
}

// ObserveSlice records one aligned stack slice
func (r *Recorder) ObserveSlice() {
	r.slices.Inc()
}

// WriteTextfile writes every collected metric in the text exposition format
func (r *Recorder) WriteTextfile(path string) error {
	return errors.Wrap(prometheus.WriteToTextfile(path, r.registry), "write metrics")
}
