// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for the admission core.
type Collector struct {
	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Auth metrics
	AuthFailures *prometheus.CounterVec

	// Gate metrics
	GateWaitDuration   prometheus.Histogram
	GateAcquireTotal   prometheus.Counter
	GateCancelledTotal prometheus.Counter

	// Ledger metrics
	QuotaRejections  *prometheus.CounterVec
	ReservationsOpen prometheus.Gauge
	CommitsTotal     *prometheus.CounterVec
	ReleasesTotal    prometheus.Counter
	SoftOverages     prometheus.Counter

	// Sandbox metrics
	SandboxRequests   prometheus.Counter
	SandboxRejections prometheus.Counter

	// Processing metrics
	ProcessDuration prometheus.Histogram
	ProcessErrors   *prometheus.CounterVec
	BytesSaved      prometheus.Counter

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
}

// New creates a new metrics collector with all metrics registered.
func New() *Collector {
	return &Collector{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pixelpress",
				Name:      "requests_total",
				Help:      "Total number of admission requests processed",
			},
			[]string{"outcome", "plan", "sandbox"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pixelpress",
				Name:      "request_duration_seconds",
				Help:      "End-to-end request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"outcome"},
		),

		AuthFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pixelpress",
				Name:      "auth_failures_total",
				Help:      "Total number of authentication failures",
			},
			[]string{"reason"},
		),

		GateWaitDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "pixelpress",
				Name:      "gate_wait_duration_seconds",
				Help:      "Time spent waiting for a processing slot",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
			},
		),
		GateAcquireTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pixelpress",
				Name:      "gate_acquires_total",
				Help:      "Total number of processing slots acquired",
			},
		),
		GateCancelledTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pixelpress",
				Name:      "gate_cancelled_waits_total",
				Help:      "Waiters removed from the gate queue by cancellation",
			},
		),

		QuotaRejections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pixelpress",
				Name:      "quota_rejections_total",
				Help:      "Requests rejected because all pools were exhausted",
			},
			[]string{"plan"},
		),
		ReservationsOpen: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pixelpress",
				Name:      "reservations_open",
				Help:      "Quota reservations currently unresolved",
			},
		),
		CommitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pixelpress",
				Name:      "quota_commits_total",
				Help:      "Reservations committed, by pool charged",
			},
			[]string{"pool"},
		),
		ReleasesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pixelpress",
				Name:      "quota_releases_total",
				Help:      "Reservations released without billing",
			},
		),
		SoftOverages: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pixelpress",
				Name:      "quota_soft_overages_total",
				Help:      "Soft-mode requests admitted while over limit",
			},
		),

		SandboxRequests: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pixelpress",
				Name:      "sandbox_requests_total",
				Help:      "Sandbox-classified requests",
			},
		),
		SandboxRejections: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pixelpress",
				Name:      "sandbox_rejections_total",
				Help:      "Sandbox requests rejected by the daily cap",
			},
		),

		ProcessDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "pixelpress",
				Name:      "process_duration_seconds",
				Help:      "Image processing duration in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		ProcessErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pixelpress",
				Name:      "process_errors_total",
				Help:      "Image processing failures",
			},
			[]string{"kind"},
		),
		BytesSaved: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pixelpress",
				Name:      "bytes_saved_total",
				Help:      "Total bytes removed from processed images",
			},
		),

		ConfigReloads: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pixelpress",
				Name:      "config_reloads_total",
				Help:      "Successful configuration reloads",
			},
		),
		ConfigReloadErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pixelpress",
				Name:      "config_reload_errors_total",
				Help:      "Failed configuration reloads",
			},
		),
	}
}

// GateStats is the read side of the concurrency gate, exported as gauges.
type GateStats interface {
	Capacity() int64
	InUse() int64
	Waiting() int64
}

// RegisterGate exposes live gate occupancy as gauge functions.
func (c *Collector) RegisterGate(g GateStats) {
	promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "pixelpress",
			Name:      "gate_capacity",
			Help:      "Configured processing slot capacity",
		},
		func() float64 { return float64(g.Capacity()) },
	)
	promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "pixelpress",
			Name:      "gate_slots_in_use",
			Help:      "Processing slots currently held",
		},
		func() float64 { return float64(g.InUse()) },
	)
	promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "pixelpress",
			Name:      "gate_waiters",
			Help:      "Callers queued for a processing slot",
		},
		func() float64 { return float64(g.Waiting()) },
	)
}
