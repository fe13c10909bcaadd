// Package metrics exposes trade telemetry in the Prometheus format.
package metrics

import (
	"net/http"

	"bufficorns/internal/game"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	reg       *prometheus.Registry
	trades    *prometheus.CounterVec
	resources *prometheus.HistogramVec
	requests  *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bufficorns_trades_total",
			Help: "Trade requests by outcome.",
		}, []string{"outcome"}),
		resources: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bufficorns_resource_amount",
			Help:    "Amount of resource fed per persisted trade.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60},
		}, []string{"trait"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bufficorns_http_requests_total",
			Help: "HTTP requests by route and status class.",
		}, []string{"route", "code"}),
	}
	reg.MustRegister(
		m.trades,
		m.resources,
		m.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) TradeOutcome(outcome string) {
	m.trades.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ResourceGenerated(r game.Resource) {
	m.resources.WithLabelValues(string(r.Trait)).Observe(float64(r.Amount))
}

func (m *Metrics) Request(route, code string) {
	m.requests.WithLabelValues(route, code).Inc()
}

// WatchGuard publishes the number of busy marks of one guard role.
func (m *Metrics) WatchGuard(role string, marks func() int) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "bufficorns_guard_marks",
		Help:        "Busy slot marks held by the process-local guard.",
		ConstLabels: prometheus.Labels{"role": role},
	}, func() float64 { return float64(marks()) }))
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
