package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeOk        = "ok"
	OutcomeInvalid   = "invalid"
	OutcomeExhausted = "exhausted"
	OutcomeError     = "error"
)

// Recorder reports generation metrics using Prometheus primitives.
type Recorder struct {
	generations *prometheus.CounterVec
	durations   prometheus.Histogram
	inFlight    prometheus.Gauge
}

func NewRecorder(registry *prometheus.Registry) (*Recorder, error) {
	if registry == nil {
		return nil, fmt.Errorf("prometheus registry is nil")
	}

	r := &Recorder{
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagegen_generations_total",
			Help: "Total number of image generation requests by outcome",
		}, []string{"outcome"}),
		durations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "imagegen_generation_duration_seconds",
			Help:    "Image generation latency in seconds, including time spent queued",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imagegen_generations_in_flight",
			Help: "Generations currently queued or running",
		}),
	}

	for _, collector := range []prometheus.Collector{r.generations, r.durations, r.inFlight} {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}

	return r, nil
}

// Start marks a generation in flight. The returned func records its outcome.
func (r *Recorder) Start() func(outcome string) {
	if r == nil {
		return func(string) {}
	}

	start := time.Now()
	r.inFlight.Inc()

	return func(outcome string) {
		r.inFlight.Dec()
		r.generations.WithLabelValues(outcome).Inc()
		if outcome == OutcomeOk {
			r.durations.Observe(time.Since(start).Seconds())
		}
	}
}

// Count records an outcome for a request that never reached the generator.
func (r *Recorder) Count(outcome string) {
	if r == nil {
		return
	}
	r.generations.WithLabelValues(outcome).Inc()
}
