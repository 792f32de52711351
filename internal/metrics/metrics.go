// Package metrics exposes Prometheus counters for the session gateway.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/hhottdogg/community/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	RefreshSucceeded   = "succeeded"
	RefreshRejected    = "rejected"
	RefreshUnavailable = "unavailable"
)

// MetricsCollector is what the services record into.
type MetricsCollector interface {
	RecordRequest(service string, status int)
	RecordRetry(service string)
	RecordRefresh(outcome string)
	RecordHealth(service string, status models.HealthStatus)
}

type Collector struct {
	requests *prometheus.CounterVec
	retries  *prometheus.CounterVec
	refresh  *prometheus.CounterVec
	health   *prometheus.GaugeVec
}

// NewCollector registers the gateway metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "community_upstream_requests_total",
			Help: "Requests sent to backend services by service and status code (0 = unreachable)",
		}, []string{"service", "status_code"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "community_upstream_retries_total",
			Help: "Backoff retries issued per backend service",
		}, []string{"service"}),
		refresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "community_token_refresh_total",
			Help: "Token refresh attempts by outcome",
		}, []string{"outcome"}),
		health: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "community_service_healthy",
			Help: "1 when the last probe of the service reported healthy",
		}, []string{"service"}),
	}

	reg.MustRegister(c.requests, c.retries, c.refresh, c.health)

	return c
}

func (c *Collector) RecordRequest(service string, status int) {
	c.requests.WithLabelValues(service, strconv.Itoa(status)).Inc()
}

func (c *Collector) RecordRetry(service string) {
	c.retries.WithLabelValues(service).Inc()
}

func (c *Collector) RecordRefresh(outcome string) {
	c.refresh.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordHealth(service string, status models.HealthStatus) {
	v := 0.0
	if status == models.HealthHealthy {
		v = 1
	}
	c.health.WithLabelValues(service).Set(v)
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordRequest(string, int) {}
func (Nop) RecordRetry(string) {}
func (Nop) RecordRefresh(string) {}
func (Nop) RecordHealth(string, models.HealthStatus) {}
