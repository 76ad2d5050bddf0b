package httpserver

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HandlerLabel is the label for HTTP metrics, representing the route name.
const HandlerLabel = "handler"

type metrics struct {
	duration *prometheus.HistogramVec
	requests *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (metrics, error) {
	m := metrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "The latency of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{HandlerLabel, "code", "method"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "The total number of HTTP requests.",
		}, []string{HandlerLabel, "code", "method"}),
	}

	if err := reg.Register(m.duration); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return metrics{}, err
		}
		m.duration = are.ExistingCollector.(*prometheus.HistogramVec)
	}
	if err := reg.Register(m.requests); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return metrics{}, err
		}
		m.requests = are.ExistingCollector.(*prometheus.CounterVec)
	}
	return m, nil
}

func (m metrics) instrument(name string, h http.Handler) http.Handler {
	labels := prometheus.Labels{HandlerLabel: name}
	return promhttp.InstrumentHandlerDuration(m.duration.MustCurryWith(labels),
		promhttp.InstrumentHandlerCounter(m.requests.MustCurryWith(labels), h))
}
