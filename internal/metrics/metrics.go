// Package metrics wraps the Prometheus collectors exported by the core and the
// gateway. A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	tokenOpsTotal   *prometheus.CounterVec
	hashDuration    *prometheus.HistogramVec
	hashQueueDepth  prometheus.Gauge
	httpTotal       *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "coinledger"
	}
	c := &Collector{registry: prometheus.NewRegistry()}

	c.commandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "commands_total",
		Help:      "Ledger commands handled, by command and outcome.",
	}, []string{"command", "outcome"})
	c.commandDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "command_duration_seconds",
		Help:      "Time spent executing a ledger command.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"command"})
	c.tokenOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "token_operations_total",
		Help:      "Token issue and validation attempts, by operation and outcome.",
	}, []string{"operation", "outcome"})
	c.hashDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "hash_duration_seconds",
		Help:      "Time spent in the slow hash, including queueing.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"operation"})
	c.hashQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "hash_queue_depth",
		Help:      "Hash jobs waiting for a worker.",
	})
	c.httpTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests, by method, route and status.",
	}, []string{"method", "route", "status"})
	c.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	c.registry.MustRegister(
		c.commandsTotal,
		c.commandDuration,
		c.tokenOpsTotal,
		c.hashDuration,
		c.hashQueueDepth,
		c.httpTotal,
		c.httpDuration,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) RecordCommand(command, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.commandsTotal.WithLabelValues(command, outcome).Inc()
	c.commandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

func (c *Collector) RecordTokenOperation(operation, outcome string) {
	if c == nil {
		return
	}
	c.tokenOpsTotal.WithLabelValues(operation, outcome).Inc()
}

func (c *Collector) ObserveHash(operation string, duration time.Duration) {
	if c == nil {
		return
	}
	c.hashDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (c *Collector) SetHashQueueDepth(depth int) {
	if c == nil {
		return
	}
	c.hashQueueDepth.Set(float64(depth))
}

// Middleware records request counts and latency keyed by the chi route
// pattern rather than the raw path.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.httpTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
