package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusExporter mirrors a Collector's counters and latencies into
// Prometheus metrics for /metrics scraping, alongside the Collector's own
// raw-sample Snapshot API, which no HTTP endpoint exposes.
type PrometheusExporter struct {
	RequestDuration *prometheus.HistogramVec
	RequestTotal    *prometheus.CounterVec
	RateLimitHits   *prometheus.CounterVec
	RerankCacheSize prometheus.Gauge
}

func NewPrometheusExporter() *PrometheusExporter {
	return &PrometheusExporter{
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_request_duration_seconds",
				Help:    "Latency of gateway API requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		RequestTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_requests_total",
				Help: "Total number of gateway API requests",
			},
			[]string{"route", "method", "status"},
		),
		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_rate_limit_rejections_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
			[]string{"key"},
		),
		RerankCacheSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_rerank_cache_entries",
				Help: "Current number of entries held in the rerank cache",
			},
		),
	}
}

func (p *PrometheusExporter) ObserveRequest(route, method, status string, d time.Duration) {
	p.RequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
	p.RequestTotal.WithLabelValues(route, method, status).Inc()
}

func (p *PrometheusExporter) ObserveRateLimitRejection(key string) {
	p.RateLimitHits.WithLabelValues(key).Inc()
}
