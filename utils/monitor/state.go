package monitor

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/pricelab/utils/metrics"
)

// Sample is one reading of the state that drifts with the clock rather
// than with commits.
type Sample struct {
	Height uint64    `json:"height"`
	Time   time.Time `json:"time"`
	// TWAP is nil while the window holds too little history
	TWAP    *big.Int      `json:"twap,omitempty"`
	TWAPAge time.Duration `json:"twapAge"`
	// Aggregated is nil when aggregation fails
	Aggregated      *big.Int `json:"aggregated,omitempty"`
	AggregatedError string   `json:"aggregatedError,omitempty"`
}

type Prober interface {
	Probe(ctx context.Context) (Sample, error)
}

// StateMonitor periodically probes the testbed and exports the readings
type StateMonitor struct {
	prober   Prober
	interval time.Duration
	logger   *zap.Logger

	mu     sync.RWMutex
	latest Sample
	probes int

	metrics struct {
		twap            prometheus.Gauge
		twapAge         prometheus.Gauge
		aggregated      prometheus.Gauge
		aggregatedValid prometheus.Gauge
		errors          prometheus.Counter
	}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStateMonitor creates a monitor; nothing is probed until Start or Collect.
func NewStateMonitor(p Prober, reg prometheus.Registerer, namespace string, interval time.Duration, logger *zap.Logger) *StateMonitor {
	if interval <= 0 {
		interval = time.Second
	}
	m := &StateMonitor{
		prober:   p,
		interval: interval,
		logger:   logger,
	}

	f := promauto.With(reg)
	m.metrics.twap = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "twap_price",
		Help:      "Time-weighted average price over the current window",
	})
	m.metrics.twapAge = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "twap_age_seconds",
		Help:      "Seconds since the newest TWAP sample",
	})
	m.metrics.aggregated = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "aggregated_price",
		Help:      "Current aggregated oracle price",
	})
	m.metrics.aggregatedValid = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "aggregated_price_valid",
		Help:      "1 when the aggregator currently yields a price",
	})
	m.metrics.errors = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "probe_errors_total",
		Help:      "Failed probes",
	})
	return m
}

// Start probes every interval until ctx is done or Stop is called.
func (m *StateMonitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.monitor(ctx)
	}()
}

func (m *StateMonitor) monitor(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Collect(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("Failed to probe testbed", zap.Error(err))
			}
		}
	}
}

// Collect takes one probe and updates the gauges.
func (m *StateMonitor) Collect(ctx context.Context) error {
	s, err := m.prober.Probe(ctx)
	if err != nil {
		m.metrics.errors.Inc()
		return err
	}

	if s.TWAP != nil {
		m.metrics.twap.Set(metrics.Units(s.TWAP))
	}
	m.metrics.twapAge.Set(s.TWAPAge.Seconds())
	if s.Aggregated != nil {
		m.metrics.aggregated.Set(metrics.Units(s.Aggregated))
		m.metrics.aggregatedValid.Set(1)
	} else {
		m.metrics.aggregatedValid.Set(0)
	}

	m.mu.Lock()
	m.latest = s
	m.probes++
	m.mu.Unlock()
	return nil
}

// Latest returns the last successful probe and how many have succeeded.
func (m *StateMonitor) Latest() (Sample, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.probes
}

// Stop halts the probe loop and waits for it to exit.
func (m *StateMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
