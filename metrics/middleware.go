// Package metrics exposes Prometheus metrics for core.Context operations.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/uon-team/db/core"
)

// Collector holds the operation metrics.
type Collector struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
}

// NewCollector registers the metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uondb_operations_total",
				Help: "Total number of db operations",
			},
			[]string{"op", "collection", "status"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "uondb_operation_duration_seconds",
				Help:    "Db operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op", "collection", "status"},
		),
	}
}

// Middleware records operation metrics.
func (c *Collector) Middleware() core.Middleware {
	return func(next core.Handler) core.Handler {
		return func(ctx context.Context, op core.Operation, def *core.Definition) error {
			start := time.Now()
			err := next(ctx, op, def)
			duration := time.Since(start).Seconds()

			status := "ok"
			if err != nil {
				status = "error"
			}
			c.operationsTotal.WithLabelValues(string(op), def.Collection, status).Inc()
			c.operationDuration.WithLabelValues(string(op), def.Collection, status).Observe(duration)
			return err
		}
	}
}

// Middleware registers a Collector on reg and returns its middleware.
func Middleware(reg prometheus.Registerer) core.Middleware {
	return NewCollector(reg).Middleware()
}
