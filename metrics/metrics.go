// Package metrics exports pooldb activity as prometheus metrics. A
// Collector subscribes to the event bus of a Database; StatsCollector
// mirrors the cumulative Database.Stats counters.
package metrics

import (
	"context"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acronis/perfkit/pooldb"
)

const namespace = "pooldb"

// DefaultBuckets spans statement latencies from 0.5ms to 10s
var DefaultBuckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// NewRegistry creates a registry with the process and Go runtime collectors
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())
	return registry
}

// Handler serves the metrics of registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// Collector counts facade events. Register it with a prometheus registry
// and subscribe it to the Bus given to pooldb.WithEvents.
type Collector struct {
	events       *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	rows         *prometheus.CounterVec
	transactions *prometheus.CounterVec
}

// NewCollector labels every series with database
func NewCollector(database string, buckets []float64) *Collector {
	if len(buckets) == 0 {
		buckets = DefaultBuckets
	}

	constLabels := prometheus.Labels{"database": database}

	return &Collector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "events_total",
			Help:        "Events fired by the database facade.",
			ConstLabels: constLabels,
		}, []string{"event"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "statement_duration_seconds",
			Help:        "Time spent by the driver on successful statements.",
			Buckets:     buckets,
			ConstLabels: constLabels,
		}, []string{"operation"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "rows_total",
			Help:        "Rows read or affected by successful statements.",
			ConstLabels: constLabels,
		}, []string{"operation"}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "transactions_total",
			Help:        "Outermost transaction boundaries.",
			ConstLabels: constLabels,
		}, []string{"op"}),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.events.Describe(ch)
	c.duration.Describe(ch)
	c.rows.Describe(ch)
	c.transactions.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.events.Collect(ch)
	c.duration.Collect(ch)
	c.rows.Collect(ch)
	c.transactions.Collect(ch)
}

// Subscribe attaches the collector to every event kind of bus
func (c *Collector) Subscribe(bus *pooldb.Bus) {
	bus.SubscribeAll(c.Observe)
}

// operation turns "db:afterUpdate" into "update"
func operation(kind pooldb.EventKind) string {
	name := strings.TrimPrefix(kind.String(), "db:")
	name = strings.TrimPrefix(name, "after")
	name = strings.TrimPrefix(name, "before")
	return strings.ToLower(name)
}

// Observe is a pooldb.Listener
func (c *Collector) Observe(_ context.Context, ev pooldb.Event) {
	kind := ev.Kind()
	c.events.WithLabelValues(kind.String()).Inc()

	switch e := ev.(type) {
	case pooldb.AfterQueryEvent:
		c.duration.WithLabelValues(operation(kind)).Observe(e.Elapsed.Seconds())
		c.rows.WithLabelValues(operation(kind)).Add(float64(e.Count))
	case pooldb.AfterInsertEvent:
		c.duration.WithLabelValues(operation(kind)).Observe(e.Elapsed.Seconds())
		c.rows.WithLabelValues(operation(kind)).Inc()
	case pooldb.AfterExecEvent:
		c.duration.WithLabelValues(operation(kind)).Observe(e.Elapsed.Seconds())
		if e.Count > 0 {
			c.rows.WithLabelValues(operation(kind)).Add(float64(e.Count))
		}
	case pooldb.TransactionEvent:
		op := strings.TrimSuffix(operation(kind), "transaction")
		c.transactions.WithLabelValues(op).Inc()
	}
}

// StatsCollector exposes Database.Stats at scrape time
type StatsCollector struct {
	stats *pooldb.Stats

	operations *prometheus.Desc
	failures   *prometheus.Desc
	timeouts   *prometheus.Desc
	seconds    *prometheus.Desc
}

func NewStatsCollector(database string, stats *pooldb.Stats) *StatsCollector {
	constLabels := prometheus.Labels{"database": database}

	return &StatsCollector{
		stats: stats,
		operations: prometheus.NewDesc(prometheus.BuildFQName(namespace, "stats", "operations_total"),
			"Operations submitted to the pool, including failed ones.", []string{"operation"}, constLabels),
		failures: prometheus.NewDesc(prometheus.BuildFQName(namespace, "stats", "failures_total"),
			"Failed statements and connection acquisitions.", nil, constLabels),
		timeouts: prometheus.NewDesc(prometheus.BuildFQName(namespace, "stats", "pool_timeouts_total"),
			"Connection acquisitions that timed out.", nil, constLabels),
		seconds: prometheus.NewDesc(prometheus.BuildFQName(namespace, "stats", "seconds_total"),
			"Cumulative time by phase.", []string{"phase"}, constLabels),
	}
}

func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.operations
	ch <- c.failures
	ch <- c.timeouts
	ch <- c.seconds
}

func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats

	for op, v := range map[string]int64{
		"query":    s.Queries.Load(),
		"insert":   s.Inserts.Load(),
		"update":   s.Updates.Load(),
		"delete":   s.Deletes.Load(),
		"execute":  s.Executes.Load(),
		"begin":    s.Begins.Load(),
		"commit":   s.Commits.Load(),
		"rollback": s.Rollbacks.Load(),
	} {
		ch <- prometheus.MustNewConstMetric(c.operations, prometheus.CounterValue, float64(v), op)
	}

	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(s.Failures.Load()))
	ch <- prometheus.MustNewConstMetric(c.timeouts, prometheus.CounterValue, float64(s.PoolTimeouts.Load()))

	for phase, ns := range map[string]int64{
		"query": s.QueryTime.Load(),
		"exec":  s.ExecTime.Load(),
		"wait":  s.WaitTime.Load(),
	} {
		ch <- prometheus.MustNewConstMetric(c.seconds, prometheus.CounterValue, float64(ns)/1e9, phase)
	}
}
