// Package metrics exposes crawl-engine counters and gauges via Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

// prometheusMetrics holds the registered collectors.
type prometheusMetrics struct {
	poolSize       prometheus.Gauge
	poolAvailable  prometheus.Gauge
	poolRestarts   prometheus.Counter
	tasksTotal     *prometheus.CounterVec
	taskDuration   prometheus.Histogram
	errorsTotal    *prometheus.CounterVec
	preflightFails *prometheus.CounterVec
	batchesTotal   *prometheus.CounterVec

	logger      *zap.Logger
	httpHandler func(*fasthttp.RequestCtx)
}

func newPrometheusMetrics(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *prometheusMetrics {
	pm := &prometheusMetrics{logger: logger}

	pm.poolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "chrome",
		Name:      "pool_size",
		Help:      "Total number of browser instances in the pool",
	})

	pm.poolAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "chrome",
		Name:      "pool_available",
		Help:      "Number of idle browser instances",
	})

	pm.poolRestarts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chrome",
		Name:      "pool_restarts_total",
		Help:      "Total browser instance restarts",
	})

	pm.tasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "tasks_total",
		Help:      "Total page tasks by outcome",
	}, []string{"outcome"}) // outcome: success, no_data, error, skipped

	pm.taskDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "task_duration_seconds",
		Help:      "Time spent per page task",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 9), // 0.5s to ~128s
	})

	pm.errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scan",
		Name:      "errors_total",
		Help:      "Total task errors by category",
	}, []string{"category"})

	pm.preflightFails = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "preflight",
		Name:      "failures_total",
		Help:      "Total preflight failures by check",
	}, []string{"check"}) // check: dns, ssl

	pm.batchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "batch",
		Name:      "batches_total",
		Help:      "Total batches by final state",
	}, []string{"state"}) // state: succeeded, recovered, failed

	registerer.MustRegister(
		pm.poolSize,
		pm.poolAvailable,
		pm.poolRestarts,
		pm.tasksTotal,
		pm.taskDuration,
		pm.errorsTotal,
		pm.preflightFails,
		pm.batchesTotal,
	)

	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	pm.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return pm
}
