package server

import (
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "counsellor",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "path", "status"})

	requestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "counsellor",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"method", "path"})

	rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "counsellor",
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by a rate limit tier.",
	}, []string{"tier"})
)

// routeLabel replaces UUID path segments with {id} so label cardinality
// stays bounded.
func routeLabel(path string) string {
	segs := strings.Split(path, "/")
	for i, s := range segs {
		if len(s) == 36 && uuid.Validate(s) == nil {
			segs[i] = "{id}"
		}
	}
	return strings.Join(segs, "/")
}
