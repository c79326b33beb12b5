package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/MacJediWizard/seatbroker/internal/seats"
)

var _ seats.Recorder = (*PrometheusMetrics)(nil)

func newTestMetrics(t *testing.T) *PrometheusMetrics {
	t.Helper()
	m, err := NewPrometheusMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return m
}

func TestPrometheus_AllocationCounter(t *testing.T) {
	m := newTestMetrics(t)

	t.Run("counts outcomes separately", func(t *testing.T) {
		m.AllocationFinished("allocated", 1)
		m.AllocationFinished("allocated", 3)
		m.AllocationFinished("no_capacity", 0)

		if val := getCounterValue(t, m.AllocationCounter, "allocated"); val != 2 {
			t.Errorf("expected 2, got %f", val)
		}
		if val := getCounterValue(t, m.AllocationCounter, "no_capacity"); val != 1 {
			t.Errorf("expected 1, got %f", val)
		}
	})

	t.Run("observes attempts only when accounts were tried", func(t *testing.T) {
		count, sum := getHistogramValues(t, m.AllocationAttempts)
		if count != 2 {
			t.Errorf("expected count 2, got %d", count)
		}
		if sum != 4 {
			t.Errorf("expected sum 4, got %f", sum)
		}
	})
}

func TestPrometheus_FailoverAndRemoval(t *testing.T) {
	m := newTestMetrics(t)

	m.FailoverAttempt("group_full")
	m.FailoverAttempt("group_full")
	m.FailoverAttempt("transient")
	m.SeatRemoved("revoked")

	if val := getCounterValue(t, m.FailoverCounter, "group_full"); val != 2 {
		t.Errorf("expected 2, got %f", val)
	}
	if val := getCounterValue(t, m.FailoverCounter, "transient"); val != 1 {
		t.Errorf("expected 1, got %f", val)
	}
	if val := getCounterValue(t, m.RemovalCounter, "revoked"); val != 1 {
		t.Errorf("expected 1, got %f", val)
	}
}

func TestPrometheus_SweepFinished(t *testing.T) {
	m := newTestMetrics(t)

	m.SweepFinished(5, 2, 1, 1, 1)
	m.SweepFinished(3, 3, 0, 0, 0)

	if val := getCounterValue(t, m.SweepCounter, "found"); val != 8 {
		t.Errorf("expected 8 found, got %f", val)
	}
	if val := getCounterValue(t, m.SweepCounter, "removed"); val != 5 {
		t.Errorf("expected 5 removed, got %f", val)
	}
	var metric dto.Metric
	if err := m.SweepRuns.Write(&metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	if metric.GetCounter().GetValue() != 2 {
		t.Errorf("expected 2 runs, got %f", metric.GetCounter().GetValue())
	}
}

func TestPrometheus_Gauges(t *testing.T) {
	m := newTestMetrics(t)

	m.OccupancySynced("a@example.com", 7, 10)
	m.OccupancySynced("a@example.com", 6, 10)

	if val := getGaugeValue(t, m.OccupancyGauge, "a@example.com"); val != 6 {
		t.Errorf("expected 6, got %f", val)
	}
	if val := getGaugeValue(t, m.CapacityGauge, "a@example.com"); val != 10 {
		t.Errorf("expected 10, got %f", val)
	}

	m.FindingsObserved(map[string]int{"count_mismatch": 2, "duplicate_subject": 1})
	m.FindingsObserved(map[string]int{"count_mismatch": 1})

	if val := getGaugeValue(t, m.FindingsGauge, "count_mismatch"); val != 1 {
		t.Errorf("expected 1, got %f", val)
	}
	if n := testCollectCount(t, m.FindingsGauge); n != 1 {
		t.Errorf("expected stale finding types to be cleared, got %d series", n)
	}
}

func TestPrometheus_Registration(t *testing.T) {
	t.Run("creates metrics successfully", func(t *testing.T) {
		m := newTestMetrics(t)
		if m.AllocationCounter == nil || m.OccupancyGauge == nil || m.SweepCounter == nil {
			t.Error("expected all metrics to be created")
		}
	})

	t.Run("fails on duplicate registration", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		if _, err := NewPrometheusMetrics(reg); err != nil {
			t.Fatalf("first registration failed: %v", err)
		}
		if _, err := NewPrometheusMetrics(reg); err == nil {
			t.Fatal("expected error on duplicate registration")
		}
	})
}

// Helper functions for extracting Prometheus metric values.

func getCounterValue(t *testing.T, counter *prometheus.CounterVec, label string) float64 {
	t.Helper()
	var m dto.Metric
	if err := counter.WithLabelValues(label).(prometheus.Metric).Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func getGaugeValue(t *testing.T, gauge *prometheus.GaugeVec, label string) float64 {
	t.Helper()
	var m dto.Metric
	if err := gauge.WithLabelValues(label).(prometheus.Metric).Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func getHistogramValues(t *testing.T, hist prometheus.Histogram) (uint64, float64) {
	t.Helper()
	var m dto.Metric
	if err := hist.Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return m.GetHistogram().GetSampleCount(), m.GetHistogram().GetSampleSum()
}

func testCollectCount(t *testing.T, c prometheus.Collector) int {
	t.Helper()
	ch := make(chan prometheus.Metric, 16)
	c.Collect(ch)
	close(ch)
	n := 0
	for range ch {
		n++
	}
	return n
}
