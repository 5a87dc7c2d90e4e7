package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	sessionsOpened *prometheus.CounterVec
	sessionsClosed *prometheus.CounterVec
	rounds         *prometheus.CounterVec
	payout         *prometheus.HistogramVec
	roundDuration  prometheus.Histogram

	channelsOpened *prometheus.CounterVec
	channelsClosed *prometheus.CounterVec
	anchorOps      *prometheus.CounterVec

	poolUtilization prometheus.Gauge
	activeSessions  prometheus.Gauge

	workerPoolIdle    prometheus.Gauge
	workerPoolBusy    prometheus.Gauge
	workerPoolStopped prometheus.Gauge
}

// NewCollector creates a new Prometheus metrics collector
func NewCollector() *Collector {
	return &Collector{
		sessionsOpened: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clearstake_sessions_opened_total",
				Help: "Total number of session open attempts",
			},
			[]string{"status"},
		),
		sessionsClosed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clearstake_sessions_closed_total",
				Help: "Total number of sessions closed",
			},
			[]string{"status"},
		),
		rounds: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clearstake_rounds_total",
				Help: "Total number of rounds played",
			},
			[]string{"game", "result"},
		),
		payout: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clearstake_round_payout",
				Help:    "Round payouts in base units",
				Buckets: prometheus.ExponentialBuckets(1, 4, 12),
			},
			[]string{"game"},
		),
		roundDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "clearstake_round_duration_seconds",
				Help:    "Round duration from commit to outcome in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
		),
		channelsOpened: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clearstake_channels_opened_total",
				Help: "Total number of clearing channel open attempts",
			},
			[]string{"status"},
		),
		channelsClosed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clearstake_channels_closed_total",
				Help: "Total number of clearing channel close attempts",
			},
			[]string{"status"},
		),
		anchorOps: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clearstake_anchor_operations_total",
				Help: "Total number of on-chain anchor operations",
			},
			[]string{"op", "status"},
		),
		poolUtilization: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "clearstake_pool_utilization_ratio",
				Help: "Fraction of pool assets currently allocated to channels",
			},
		),
		activeSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "clearstake_active_sessions",
				Help: "Number of currently active sessions",
			},
		),
		workerPoolIdle: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "clearstake_worker_pool_idle",
				Help: "Number of idle anchor workers",
			},
		),
		workerPoolBusy: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "clearstake_worker_pool_busy",
				Help: "Number of busy anchor workers",
			},
		),
		workerPoolStopped: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "clearstake_worker_pool_stopped",
				Help: "Number of stopped anchor workers",
			},
		),
	}
}

// RecordSessionOpened records a session open attempt (ports.MetricsCollector interface)
func (c *Collector) RecordSessionOpened(status string) {
	c.sessionsOpened.WithLabelValues(status).Inc()
}

// RecordSessionClosed records a session close (ports.MetricsCollector interface)
func (c *Collector) RecordSessionClosed(status string) {
	c.sessionsClosed.WithLabelValues(status).Inc()
}

// RecordRound records a completed round (ports.MetricsCollector interface)
func (c *Collector) RecordRound(game string, win bool) {
	result := "loss"
	if win {
		result = "win"
	}
	c.rounds.WithLabelValues(game, result).Inc()
}

// ObservePayout records the payout of a round (ports.MetricsCollector interface)
func (c *Collector) ObservePayout(game string, payout float64) {
	if payout < 0 {
		payout = -payout
	}
	c.payout.WithLabelValues(game).Observe(payout)
}

// ObserveRoundDuration records round processing time (ports.MetricsCollector interface)
func (c *Collector) ObserveRoundDuration(d time.Duration) {
	c.roundDuration.Observe(d.Seconds())
}

// RecordChannelOpen records a channel open attempt (ports.MetricsCollector interface)
func (c *Collector) RecordChannelOpen(status string) {
	c.channelsOpened.WithLabelValues(status).Inc()
}

// RecordChannelClose records a channel close attempt (ports.MetricsCollector interface)
func (c *Collector) RecordChannelClose(status string) {
	c.channelsClosed.WithLabelValues(status).Inc()
}

// RecordAnchor records an anchor commit or reveal (ports.MetricsCollector interface)
func (c *Collector) RecordAnchor(op, status string) {
	c.anchorOps.WithLabelValues(op, status).Inc()
}

// SetPoolUtilization sets the allocated fraction of pool assets (ports.MetricsCollector interface)
func (c *Collector) SetPoolUtilization(ratio float64) {
	c.poolUtilization.Set(ratio)
}

// SetActiveSessions sets the active session gauge (ports.MetricsCollector interface)
func (c *Collector) SetActiveSessions(n int) {
	c.activeSessions.Set(float64(n))
}

// RecordWorkerPoolStatus updates worker pool gauges (ports.MetricsCollector interface)
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}
