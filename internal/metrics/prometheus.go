// Package metrics exposes seat broker activity as Prometheus metrics.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "seatbroker"

// PrometheusMetrics records seat engine events. It implements seats.Recorder.
type PrometheusMetrics struct {
	AllocationCounter  *prometheus.CounterVec
	AllocationAttempts prometheus.Histogram
	FailoverCounter    *prometheus.CounterVec
	RemovalCounter     *prometheus.CounterVec
	SweepCounter       *prometheus.CounterVec
	SweepRuns          prometheus.Counter
	OccupancyGauge     *prometheus.GaugeVec
	CapacityGauge      *prometheus.GaugeVec
	FindingsGauge      *prometheus.GaugeVec
}

// NewPrometheusMetrics creates the metrics and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		AllocationCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocations_total",
			Help:      "Voucher redemptions by outcome.",
		}, []string{"outcome"}),
		AllocationAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "allocation_attempts",
			Help:      "Accounts tried per redemption.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8, 10},
		}),
		FailoverCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failover_attempts_total",
			Help:      "Failed invitation attempts that moved on to another account, by reason.",
		}, []string{"reason"}),
		RemovalCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seats_ended_total",
			Help:      "Seats ended by action (removed, revoked, processed).",
		}, []string{"action"}),
		SweepCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_records_total",
			Help:      "Expired records handled by the sweep, by result.",
		}, []string{"result"}),
		SweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Completed expiry sweeps.",
		}),
		OccupancyGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "account_occupancy",
			Help:      "Seats counted against each account.",
		}, []string{"account"}),
		CapacityGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "account_capacity",
			Help:      "Seat capacity of each account.",
		}, []string{"account"}),
		FindingsGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consistency_findings",
			Help:      "Findings of the last consistency check, by type.",
		}, []string{"type"}),
	}

	collectors := []prometheus.Collector{
		m.AllocationCounter, m.AllocationAttempts, m.FailoverCounter, m.RemovalCounter,
		m.SweepCounter, m.SweepRuns, m.OccupancyGauge, m.CapacityGauge, m.FindingsGauge,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return m, nil
}

// AllocationFinished records a finished redemption.
func (m *PrometheusMetrics) AllocationFinished(outcome string, attempts int) {
	m.AllocationCounter.WithLabelValues(outcome).Inc()
	if attempts > 0 {
		m.AllocationAttempts.Observe(float64(attempts))
	}
}

// FailoverAttempt records an account skipped during failover.
func (m *PrometheusMetrics) FailoverAttempt(reason string) {
	m.FailoverCounter.WithLabelValues(reason).Inc()
}

// SeatRemoved records an ended seat.
func (m *PrometheusMetrics) SeatRemoved(action string) {
	m.RemovalCounter.WithLabelValues(action).Inc()
}

// SweepFinished records the totals of one sweep.
func (m *PrometheusMetrics) SweepFinished(found, removed, revoked, processed, errored int) {
	m.SweepRuns.Inc()
	m.SweepCounter.WithLabelValues("found").Add(float64(found))
	m.SweepCounter.WithLabelValues("removed").Add(float64(removed))
	m.SweepCounter.WithLabelValues("revoked").Add(float64(revoked))
	m.SweepCounter.WithLabelValues("processed").Add(float64(processed))
	m.SweepCounter.WithLabelValues("errored").Add(float64(errored))
}

// OccupancySynced updates the per-account gauges.
func (m *PrometheusMetrics) OccupancySynced(account string, occupancy, capacity int) {
	m.OccupancyGauge.WithLabelValues(account).Set(float64(occupancy))
	m.CapacityGauge.WithLabelValues(account).Set(float64(capacity))
}

// FindingsObserved replaces the findings gauge with the latest counts.
func (m *PrometheusMetrics) FindingsObserved(counts map[string]int) {
	m.FindingsGauge.Reset()
	for typ, n := range counts {
		m.FindingsGauge.WithLabelValues(typ).Set(float64(n))
	}
}
