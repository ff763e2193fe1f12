package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "hfauth"

// Metrics holds the auth counters. It implements facade.Metrics, and its
// WSClients gauge feeds the events hub.
type Metrics struct {
	reg *prometheus.Registry

	logins      *prometheus.CounterVec
	validations *prometheus.CounterVec
	refreshes   *prometheus.CounterVec
	logouts     prometheus.Counter
	swept       *prometheus.CounterVec
	wsClients   prometheus.Gauge
}

// NewMetrics registers the auth metrics on a fresh registry, alongside the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "logins_total",
			Help:      "Login attempts by method and result.",
		}, []string{"method", "result"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "validations_total",
			Help:      "Token and session validations by kind and result.",
		}, []string{"kind", "result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "refresh_total",
			Help:      "Token refreshes by result.",
		}, []string{"result"}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "logouts_total",
			Help:      "Completed logouts.",
		}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "swept_total",
			Help:      "Records changed by the sweeper, by kind.",
		}, []string{"kind"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "ws_clients",
			Help:      "Connected session event subscribers.",
		}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.logins, m.validations, m.refreshes, m.logouts, m.swept, m.wsClients,
	)
	return m
}

func (m *Metrics) Login(method, result string) {
	m.logins.WithLabelValues(method, result).Inc()
}

func (m *Metrics) Validation(kind, result string) {
	m.validations.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) Refresh(result string) {
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) Logout() { m.logouts.Inc() }

func (m *Metrics) Swept(kind string, n int) {
	if n <= 0 {
		return
	}
	m.swept.WithLabelValues(kind).Add(float64(n))
}

// WSClients is the gauge the events hub moves on subscribe/unsubscribe.
func (m *Metrics) WSClients() prometheus.Gauge { return m.wsClients }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
