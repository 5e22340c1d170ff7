package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Collector centralizes metrics recording. A nil *Collector is valid and
// records nothing, so components can take it as an optional dependency.
type Collector struct {
	prom *prometheusMetrics
}

// NewCollector registers collectors on the default Prometheus registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return &Collector{prom: newPrometheusMetrics(namespace, prometheus.DefaultRegisterer, logger)}
}

// NewCollectorWithRegistry registers collectors on a custom registry
// (used by tests to avoid duplicate registration).
func NewCollectorWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *Collector {
	return &Collector{prom: newPrometheusMetrics(namespace, registerer, logger)}
}

func (c *Collector) UpdatePoolSize(size int) {
	if c == nil {
		return
	}
	c.prom.poolSize.Set(float64(size))
}

func (c *Collector) UpdatePoolAvailable(available int) {
	if c == nil {
		return
	}
	c.prom.poolAvailable.Set(float64(available))
}

func (c *Collector) RecordRestart() {
	if c == nil {
		return
	}
	c.prom.poolRestarts.Inc()
}

func (c *Collector) RecordTask(outcome string) {
	if c == nil {
		return
	}
	c.prom.tasksTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordTaskDuration(seconds float64) {
	if c == nil {
		return
	}
	c.prom.taskDuration.Observe(seconds)
}

func (c *Collector) RecordTaskError(category string) {
	if c == nil {
		return
	}
	c.prom.errorsTotal.WithLabelValues(category).Inc()
}

func (c *Collector) RecordPreflightFailure(check string) {
	if c == nil {
		return
	}
	c.prom.preflightFails.WithLabelValues(check).Inc()
}

func (c *Collector) RecordBatch(state string) {
	if c == nil {
		return
	}
	c.prom.batchesTotal.WithLabelValues(state).Inc()
}

// ServeHTTP serves the metrics endpoint.
func (c *Collector) ServeHTTP(ctx *fasthttp.RequestCtx) {
	c.prom.httpHandler(ctx)
}
