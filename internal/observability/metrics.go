package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go-inventory-ledger/internal/model"
)

// Metrics collects the service's Prometheus metrics on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	mutations       *prometheus.CounterVec
	inconsistencies prometheus.Counter
	jobs            *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_http_requests_total",
		Help: "HTTP requests by route, method and status code.",
	}, []string{"route", "method", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inventory_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_ledger_mutations_total",
		Help: "Ledger stock mutations by transaction type and outcome.",
	}, []string{"type", "outcome"})
	inconsistencies := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inventory_ledger_inconsistencies_total",
		Help: "Stock updates whose transaction record could not be appended.",
	})
	jobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_jobs_total",
		Help: "Background job runs by task type and result.",
	}, []string{"task", "result"})
	registry.MustRegister(requests, duration, mutations, inconsistencies, jobs)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		mutations:       mutations,
		inconsistencies: inconsistencies,
		jobs:            jobs,
	}
}

// Handler serves the registry for /metrics.
func (m *Metrics) Handler() fiber.Handler {
	if m == nil {
		return func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusServiceUnavailable)
		}
	}
	return adaptor.HTTPHandler(m.handler)
}

// Middleware records a count and latency for every request, labelled by the
// matched route pattern so ids do not explode cardinality.
func (m *Metrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m == nil {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		route := "unknown"
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path
		}
		method := c.Method()
		m.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
		return err
	}
}

func (m *Metrics) ObserveMutation(typ model.TransactionType, outcome string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(string(typ), outcome).Inc()
}

func (m *Metrics) LedgerInconsistency() {
	if m == nil {
		return
	}
	m.inconsistencies.Inc()
}

// ObserveJob counts one run of a background task.
func (m *Metrics) ObserveJob(task string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jobs.WithLabelValues(task, result).Inc()
}

// Registerer exposes the registry for extra collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}
