package datastore

import (
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DBNameLabel = "db_name"
	// QueryNameLabel is the label for DB metrics, representing the query name (e.g., "InsertLink", "FindByCode").
	QueryNameLabel = "query_name"
	// StatusLabel is the label for DB metrics, representing the outcome (e.g., "success", "error").
	StatusLabel = "status"

	StatusSuccess = "success"
	StatusError   = "error"
	// StatusCollision is the label for a key collision during an insert.
	StatusCollision = "collision"
	// StatusNotFound is the label for a query that matched no rows.
	StatusNotFound = "not_found"
)

// Metrics contains the Prometheus collectors for link store queries.
// Pool-level stats are handled by the separate PoolStatsCollector.
type Metrics struct {
	QueryDuration *prometheus.HistogramVec
	QueryTotal    *prometheus.CounterVec
}

type StatsCollector interface {
	Stat() *pgxpool.Stat
}

// PoolStatsCollector collects pgxpool.Stat metrics for Prometheus.
type PoolStatsCollector struct {
	db StatsCollector

	MaxConns        *prometheus.Desc
	TotalConns      *prometheus.Desc
	AcquiredConns   *prometheus.Desc
	IdleConns       *prometheus.Desc
	AcquireCount    *prometheus.Desc
	AcquireDuration *prometheus.Desc
}

func NewPoolStatsCollector(db StatsCollector, dbName string) *PoolStatsCollector {
	labels := prometheus.Labels{DBNameLabel: dbName}
	return &PoolStatsCollector{
		db:              db,
		MaxConns:        prometheus.NewDesc("db_pool_max_conns", "Maximum number of connections in the pool.", nil, labels),
		TotalConns:      prometheus.NewDesc("db_pool_total_conns", "Total number of connections in the pool.", nil, labels),
		AcquiredConns:   prometheus.NewDesc("db_pool_acquired_conns", "Number of currently acquired connections in the pool.", nil, labels),
		IdleConns:       prometheus.NewDesc("db_pool_idle_conns", "Number of currently idle connections in the pool.", nil, labels),
		AcquireCount:    prometheus.NewDesc("db_pool_acquire_count_total", "Cumulative count of successful connection acquisitions.", nil, labels),
		AcquireDuration: prometheus.NewDesc("db_pool_acquire_duration_seconds_total", "Total time blocked waiting for a new connection, in seconds.", nil, labels),
	}
}

func (c *PoolStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.MaxConns
	ch <- c.TotalConns
	ch <- c.AcquiredConns
	ch <- c.IdleConns
	ch <- c.AcquireCount
	ch <- c.AcquireDuration
}

func (c *PoolStatsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.db.Stat()
	ch <- prometheus.MustNewConstMetric(c.MaxConns, prometheus.GaugeValue, float64(stats.MaxConns()))
	ch <- prometheus.MustNewConstMetric(c.TotalConns, prometheus.GaugeValue, float64(stats.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.AcquiredConns, prometheus.GaugeValue, float64(stats.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.IdleConns, prometheus.GaugeValue, float64(stats.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.AcquireCount, prometheus.CounterValue, float64(stats.AcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.AcquireDuration, prometheus.CounterValue, stats.AcquireDuration().Seconds())
}

// NewMetrics creates the query collectors and registers them, together with the
// pool collector, on reg. Collectors already registered on reg are reused.
func NewMetrics(reg prometheus.Registerer, db StatsCollector, dbName string) (Metrics, error) {
	m := Metrics{
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "The latency of database queries in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{QueryNameLabel}),
		QueryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "db_query_total",
			Help: "The total number of database queries.",
		}, []string{QueryNameLabel, StatusLabel}),
	}

	var err error
	if m.QueryDuration, err = register(reg, m.QueryDuration); err != nil {
		return Metrics{}, err
	}
	if m.QueryTotal, err = register(reg, m.QueryTotal); err != nil {
		return Metrics{}, err
	}
	if db != nil {
		if _, err := register(reg, NewPoolStatsCollector(db, dbName)); err != nil {
			return Metrics{}, err
		}
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}
