package middleware

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wablast",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served, by route template and status class",
		},
		[]string{"method", "route", "code"},
	)

	// Webhook deliveries must answer within the provider's retry window, hence the short buckets
	requestSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wablast",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route template",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	requestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wablast",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "HTTP requests currently being served",
		},
	)
)

// statusClass folds a status code into 2xx, 4xx, 5xx...
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return string(rune('0'+code/100)) + "xx"
}

// Metrics records request counts and latency. Routes are labelled by their template so klien
// and campaign ids never end up as label values.
func Metrics() fiber.Handler {
	return func(c fiber.Ctx) error {
		requestsInFlight.Inc()
		defer requestsInFlight.Dec()
		start := time.Now()

		err := c.Next()

		route := "unmatched"
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path
		}
		method := c.Method()
		requestsTotal.WithLabelValues(method, route, statusClass(c.Response().StatusCode())).Inc()
		requestSeconds.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		return err
	}
}
