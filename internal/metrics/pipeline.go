package metrics

import "github.com/prometheus/client_golang/prometheus"

// Pipeline metrics.
var (
	BuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "albumforge",
			Name:      "builds_total",
			Help:      "Total album builds by outcome",
		},
		[]string{"outcome"}, // "completed" / "failed"
	)

	BuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "albumforge",
			Name:      "build_duration_seconds",
			Help:      "End-to-end album build duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	PhotosProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "albumforge",
			Name:      "photos_processed_total",
			Help:      "Photos run through the pipeline by kind and result",
		},
		[]string{"kind", "result"}, // kind: "reference" / "event", result: "ok" / "failed"
	)

	FacesDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "albumforge",
			Name:      "faces_detected_total",
			Help:      "Total faces detected across all photos",
		},
	)

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "albumforge",
			Name:      "sessions_active",
			Help:      "Sessions currently tracked by the store",
		},
	)
)

func init() {
	prometheus.MustRegister(
		BuildsTotal,
		BuildDuration,
		PhotosProcessedTotal,
		FacesDetectedTotal,
		SessionsActive,
	)
}
