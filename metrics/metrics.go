// Package metrics exports Prometheus metrics for the account pool and the
// channel scans. All methods are nil-safe so that callers can run without
// metrics entirely.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pool collects account-pool scheduler metrics.
type Pool struct {
	registry *prometheus.Registry

	checkouts    *prometheus.CounterVec
	checkoutWait prometheus.Histogram
	floodWaits   prometheus.Counter
	floodSeconds prometheus.Counter
	parked       prometheus.Gauge
	started      prometheus.Gauge
}

// NewPool registers the pool metrics on registry; a nil registry gets a fresh
// one.
func NewPool(registry *prometheus.Registry) *Pool {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	p := &Pool{registry: registry}

	p.checkouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tgscan",
			Subsystem: "pool",
			Name:      "checkouts_total",
			Help:      "Account check-outs by outcome",
		},
		[]string{"outcome"},
	)
	p.checkoutWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tgscan",
			Subsystem: "pool",
			Name:      "checkout_wait_seconds",
			Help:      "Time spent waiting for an available account",
			Buckets:   []float64{0.001, 0.01, 0.1, 1, 5, 15, 60, 300},
		},
	)
	p.floodWaits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tgscan",
			Subsystem: "pool",
			Name:      "flood_waits_total",
			Help:      "Flood-wait penalties received from the server",
		},
	)
	p.floodSeconds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tgscan",
			Subsystem: "pool",
			Name:      "flood_wait_seconds_total",
			Help:      "Total seconds of server-imposed flood-wait penalties",
		},
	)
	p.parked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tgscan",
			Subsystem: "pool",
			Name:      "parked_accounts",
			Help:      "Accounts currently parked under a flood-wait timer",
		},
	)
	p.started = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tgscan",
			Subsystem: "pool",
			Name:      "started_accounts",
			Help:      "Accounts with a live session",
		},
	)

	registry.MustRegister(p.checkouts, p.checkoutWait, p.floodWaits, p.floodSeconds, p.parked, p.started)
	return p
}

// Handler returns an HTTP handler exposing the registry.
func (p *Pool) Handler() http.Handler {
	if p == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Pool) ObserveCheckout(outcome string, wait time.Duration) {
	if p == nil {
		return
	}
	p.checkouts.WithLabelValues(outcome).Inc()
	p.checkoutWait.Observe(wait.Seconds())
}

func (p *Pool) ObserveFloodWait(d time.Duration) {
	if p == nil {
		return
	}
	p.floodWaits.Inc()
	p.floodSeconds.Add(d.Seconds())
}

func (p *Pool) SetParked(n int) {
	if p == nil {
		return
	}
	p.parked.Set(float64(n))
}

func (p *Pool) AddParked(delta int) {
	if p == nil {
		return
	}
	p.parked.Add(float64(delta))
}

func (p *Pool) SetStarted(n int) {
	if p == nil {
		return
	}
	p.started.Set(float64(n))
}
