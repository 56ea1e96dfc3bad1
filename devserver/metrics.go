// ABOUTME: Prometheus collectors for the development backend, kept on a private registry.
// ABOUTME: Tracks HTTP traffic, open event streams and simulated job outcomes.
package devserver

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry    *prometheus.Registry
	requests    *prometheus.CounterVec
	openStreams prometheus.Gauge
	jobsRunning prometheus.Gauge
	generations *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kiwi_devserver",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"method", "route", "status"},
		),
		openStreams: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "kiwi_devserver",
				Subsystem: "sse",
				Name:      "open_streams",
				Help:      "Current number of open generation streams.",
			},
		),
		jobsRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "kiwi_devserver",
				Subsystem: "jobs",
				Name:      "running",
				Help:      "Current number of simulated generation jobs.",
			},
		),
		generations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kiwi_devserver",
				Subsystem: "jobs",
				Name:      "finished_total",
				Help:      "Simulated generation jobs by terminal status.",
			},
			[]string{"status"},
		),
	}
	m.registry.MustRegister(m.requests, m.openStreams, m.jobsRunning, m.generations)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
