package cachestore

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// KeyPrefixLabel is the label for cache metrics, representing the key prefix.
	KeyPrefixLabel = "key_prefix"
	// OperationLabel is the label for cache errors, representing the failed command.
	OperationLabel = "operation"
)

// Metrics contains the Prometheus collectors for cache-related metrics.
type Metrics struct {
	Hits   *prometheus.CounterVec
	Misses *prometheus.CounterVec
	Errors *prometheus.CounterVec
}

// NewMetrics creates the cache collectors and registers them on reg.
// Collectors already registered on reg are reused.
func NewMetrics(reg prometheus.Registerer) (Metrics, error) {
	m := Metrics{
		Hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_hit_count",
			Help: "The number of cache hits",
		}, []string{KeyPrefixLabel}),
		Misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_miss_count",
			Help: "The number of cache misses",
		}, []string{KeyPrefixLabel}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_error_count",
			Help: "The number of failed cache commands",
		}, []string{KeyPrefixLabel, OperationLabel}),
	}

	for _, vec := range []**prometheus.CounterVec{&m.Hits, &m.Misses, &m.Errors} {
		if err := reg.Register(*vec); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return Metrics{}, err
			}
			existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				return Metrics{}, err
			}
			*vec = existing
		}
	}
	return m, nil
}
