package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/MacJediWizard/seatbroker/internal/seats"
)

// Reporter yields the per-account usage snapshot.
type Reporter interface {
	Report(ctx context.Context) ([]seats.AccountSummary, error)
}

// Collector keeps the account gauges current. The engine updates them as
// it works; the collector fills them at startup and drops accounts that
// no longer exist.
type Collector struct {
	reporter Reporter
	metrics  *PrometheusMetrics
	interval time.Duration
	logger   zerolog.Logger
	stop     chan struct{}
	done     chan struct{}
}

// NewCollector creates a new Collector refreshing every interval.
func NewCollector(reporter Reporter, metrics *PrometheusMetrics, interval time.Duration, logger zerolog.Logger) *Collector {
	return &Collector{
		reporter: reporter,
		metrics:  metrics,
		interval: interval,
		logger:   logger.With().Str("component", "metrics_collector").Logger(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Collect replaces the occupancy and capacity gauges with a fresh report.
func (c *Collector) Collect(ctx context.Context) error {
	summaries, err := c.reporter.Report(ctx)
	if err != nil {
		return fmt.Errorf("build account report: %w", err)
	}

	c.metrics.OccupancyGauge.Reset()
	c.metrics.CapacityGauge.Reset()
	for _, s := range summaries {
		c.metrics.OccupancySynced(s.Account, s.Cached, s.Capacity)
	}

	c.logger.Debug().Int("accounts", len(summaries)).Msg("account gauges refreshed")
	return nil
}

// Start collects once and then every interval until Stop or ctx is done.
// A non-positive interval collects once only.
func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	defer close(c.done)

	if err := c.Collect(ctx); err != nil {
		c.logger.Error().Err(err).Msg("initial metrics collection failed")
	}
	if c.interval <= 0 {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			if err := c.Collect(ctx); err != nil {
				c.logger.Error().Err(err).Msg("metrics collection failed")
			}
		}
	}
}

// Stop signals the collector to stop and waits for it to finish.
// It must be called at most once, after Start.
func (c *Collector) Stop() {
	close(c.stop)
	<-c.done
}
