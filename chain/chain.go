package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/michaelpento.lv/pricelab/utils/metrics"
)

// Unit is one atomic execution unit.
type Unit func(ctx Context) error

// Chain is a single sequential state machine. Units run one at a time
// against a scratch copy of committed state and are committed only when
// they return nil.
type Chain struct {
	mu      sync.Mutex
	state   *MultiStore
	height  uint64
	clock   Clock
	logger  *zap.Logger
	metrics *metrics.ChainMetrics
}

func New(clock Clock, logger *zap.Logger, m *metrics.ChainMetrics) *Chain {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{
		state:   NewMultiStore(),
		clock:   clock,
		logger:  logger,
		metrics: m,
	}
}

// Mount adds a keeper store. Only allowed before the first commit.
func (c *Chain) Mount(key StoreKey, s Store) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.height > 0 {
		return fmt.Errorf("cannot mount %q at height %d", key, c.height)
	}
	return c.state.Mount(key, s)
}

// Execute runs fn as one atomic unit. A non-nil error or a panic discards
// every mutation fn made.
func (c *Chain) Execute(ctx context.Context, label string, fn Unit) error {
	return c.run(ctx, label, fn, true)
}

// Simulate runs fn exactly like Execute and then discards the result.
func (c *Chain) Simulate(ctx context.Context, label string, fn Unit) error {
	return c.run(ctx, label, fn, false)
}

// Query runs read-only code against a copy of committed state.
func (c *Chain) Query(ctx context.Context, fn Unit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	ms := c.state.Clone()
	header := Header{Height: c.height, Time: c.clock.Now()}
	c.mu.Unlock()

	qctx := NewContext(ms, header, c.logger)
	qctx.simulated = true
	return safeCall(qctx, fn)
}

func (c *Chain) run(ctx context.Context, label string, fn Unit, commit bool) error {
	c.mu.Lock()

	// cancellation is only honoured before the unit starts
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return err
	}

	start := time.Now()
	header := Header{Height: c.height + 1, Time: c.clock.Now()}
	uctx := NewContext(c.state.Clone(), header, c.logger.With(
		zap.String("unit", label),
		zap.Uint64("height", header.Height),
	))
	uctx.simulated = !commit

	err := safeCall(uctx, fn)
	if err != nil || !commit {
		c.mu.Unlock()
		if err != nil {
			c.logger.Debug("Unit discarded",
				zap.String("unit", label),
				zap.Bool("simulated", !commit),
				zap.Error(err))
			if c.metrics != nil && commit {
				c.metrics.UnitsReverted.WithLabelValues(label).Inc()
			}
		}
		return err
	}

	c.state = uctx.ms
	c.height = header.Height
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.UnitsCommitted.WithLabelValues(label).Inc()
		c.metrics.UnitDuration.Observe(time.Since(start).Seconds())
		c.metrics.Height.Set(float64(header.Height))
	}
	c.logger.Debug("Unit committed", zap.String("unit", label), zap.Uint64("height", header.Height))

	uctx.runHooks()
	return nil
}

func safeCall(ctx Context, fn Unit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// Height returns the number of committed units.
func (c *Chain) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

// Now is the timestamp the next unit would be stamped with.
func (c *Chain) Now() time.Time {
	return c.clock.Now()
}

func (c *Chain) Clock() Clock {
	return c.clock
}

// Fingerprint hashes the committed state.
func (c *Chain) Fingerprint() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Fingerprint()
}
