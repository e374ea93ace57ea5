package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	// HTTPRequestsTotal counts gateway requests by route, method, and status.
	HTTPRequestsTotal *prometheus.CounterVec
	// RequestLatency tracks gateway request latency.
	RequestLatency *prometheus.HistogramVec
	// TokenRefreshes counts lifecycle refresh attempts by outcome.
	TokenRefreshes *prometheus.CounterVec
	// ProxyRequests counts forwarded Podio calls by method and upstream status.
	ProxyRequests *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all gateway metrics on a dedicated registry.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests handled by the gateway",
			},
			[]string{"route", "method", "status"},
		),
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_latency_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"route", "method"},
		),
		TokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "Token lifecycle refresh attempts by outcome",
			},
			[]string{"outcome"},
		),
		ProxyRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "proxy_requests_total",
				Help:      "Requests forwarded to the Podio API by upstream status",
			},
			[]string{"method", "status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.RequestLatency,
		m.TokenRefreshes,
		m.ProxyRequests,
	)
	return m
}

// Handler returns a Prometheus handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
