package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recognition pipeline metrics.
var (
	EnrollmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrollments_total",
			Help:      "Enrollment attempts by outcome",
		},
		[]string{"outcome"},
	)

	RecognitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognitions_total",
			Help:      "Recognition attempts by outcome",
		},
		[]string{"outcome"},
	)

	InferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Face detection and embedding duration per image",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"result"}, // "face" / "no_face" / "error"
	)

	FramesExtractedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_extracted_total",
			Help:      "Video frames kept for enrollment",
		},
	)

	StoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Embedding store operation duration",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"backend", "op"},
	)
)

func init() {
	prometheus.MustRegister(EnrollmentsTotal)
	prometheus.MustRegister(RecognitionsTotal)
	prometheus.MustRegister(InferenceDuration)
	prometheus.MustRegister(FramesExtractedTotal)
	prometheus.MustRegister(StoreOperationDuration)
}

// ObserveStore records the time since start for a store operation.
// Use as: defer metrics.ObserveStore("postgres", "upsert", time.Now())
func ObserveStore(backend, op string, start time.Time) {
	StoreOperationDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}
