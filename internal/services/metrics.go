package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the service. Each instance
// registers on its own registry so tests can build as many as they need.
type Metrics struct {
	Registry *prometheus.Registry

	TrainingDuration prometheus.Histogram
	TrainingRuns     *prometheus.CounterVec
	EvaluationScore  *prometheus.GaugeVec
	ModelSize        *prometheus.GaugeVec

	RecommendationRequests *prometheus.CounterVec
	RecommendationLatency  prometheus.Histogram
	RatingsRecorded        *prometheus.CounterVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	HealthCheckStatus *prometheus.GaugeVec
	LastHealthCheck   *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		Registry: registry,

		TrainingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hyprec_training_duration_seconds",
			Help:    "Duration of training jobs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),

		TrainingRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hyprec_training_runs_total",
			Help: "Training jobs by final status",
		}, []string{"status"}),

		EvaluationScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hyprec_evaluation_score",
			Help: "Latest evaluation score by metric",
		}, []string{"metric"}),

		ModelSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hyprec_model_size",
			Help: "Dimensions of the serving model",
		}, []string{"dimension"}),

		RecommendationRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hyprec_recommendation_requests_total",
			Help: "Recommendation requests by outcome",
		}, []string{"outcome"}),

		RecommendationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hyprec_recommendation_latency_seconds",
			Help:    "Recommendation latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),

		RatingsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hyprec_ratings_recorded_total",
			Help: "Ratings received by origin",
		}, []string{"origin"}),

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),

		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),

		HealthCheckStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "health_check_status",
			Help: "Health check status (1 = healthy, 0 = unhealthy)",
		}, []string{"service"}),

		LastHealthCheck: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "health_check_timestamp",
			Help: "Timestamp of last health check",
		}, []string{"service"}),
	}
}
