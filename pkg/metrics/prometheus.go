package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	signalsIngested *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	connections     prometheus.Gauge
	errorsTotal     *prometheus.CounterVec
	latency         *prometheus.HistogramVec
}

// New creates a recorder registered on the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a recorder registered on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		signalsIngested: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalrelay_signals_ingested_total",
				Help: "Total number of signals persisted",
			},
			[]string{"type", "session"},
		),
		deliveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalrelay_broadcast_deliveries_total",
				Help: "Broadcast sends by result",
			},
			[]string{"result"},
		),
		connections: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "signalrelay_connected_clients",
				Help: "Live subscriber connections",
			},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalrelay_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalrelay_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordSignalIngested(signalType, session string) {
	r.signalsIngested.WithLabelValues(signalType, session).Inc()
}

// RecordBroadcast records one broadcast's successful and failed sends.
func (r *Recorder) RecordBroadcast(delivered, failed int) {
	r.deliveries.WithLabelValues("delivered").Add(float64(delivered))
	r.deliveries.WithLabelValues("failed").Add(float64(failed))
}

func (r *Recorder) RecordConnections(n int) {
	r.connections.Set(float64(n))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards every observation.
type Nop struct{}

func (Nop) RecordSignalIngested(string, string) {}
func (Nop) RecordBroadcast(int, int)            {}
func (Nop) RecordConnections(int)               {}
func (Nop) RecordError(string)                  {}
func (Nop) RecordLatency(string, float64)       {}
