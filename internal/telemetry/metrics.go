// Package telemetry provides observability primitives for the proxy.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the proxy.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	ForwardDuration   *prometheus.HistogramVec
	ActiveRequests    prometheus.Gauge
	RequestBodyBytes  prometheus.Histogram
	ResponseBodyBytes prometheus.Histogram
	TruncationsTotal  *prometheus.CounterVec
	TokensRecorded    *prometheus.CounterVec
	RecorderFailures  prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayproxy",
			Name:      "requests_total",
			Help:      "Total number of proxied HTTP requests, by outcome.",
		}, []string{"method", "status"}),

		ForwardDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "relayproxy",
			Name:                            "forward_duration_seconds",
			Help:                            "Time from request arrival to response completion.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relayproxy",
			Name:      "active_requests",
			Help:      "Number of requests currently being forwarded.",
		}),

		RequestBodyBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "relayproxy",
			Name:      "request_body_bytes",
			Help:      "Size of buffered client request bodies.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		}),

		ResponseBodyBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "relayproxy",
			Name:      "response_body_bytes",
			Help:      "Size of accumulated upstream response bodies, decoded.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		}),

		TruncationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayproxy",
			Name:      "truncations_total",
			Help:      "Total recorded bodies that exceeded the stored-body cap.",
		}, []string{"side"}),

		TokensRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayproxy",
			Name:      "tokens_recorded_total",
			Help:      "Total tokens observed in recorded LLM call usage.",
		}, []string{"kind"}),

		RecorderFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relayproxy",
			Name:      "recorder_write_failures_total",
			Help:      "Total background storage writes that returned an error.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.ForwardDuration,
		m.ActiveRequests,
		m.RequestBodyBytes,
		m.ResponseBodyBytes,
		m.TruncationsTotal,
		m.TokensRecorded,
		m.RecorderFailures,
	)

	return m
}
