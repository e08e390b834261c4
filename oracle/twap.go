package oracle

import (
	"encoding/binary"
	"math/big"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/pricelab/chain"
	"github.com/michaelpento.lv/pricelab/types"
	"github.com/michaelpento.lv/pricelab/utils/metrics"
)

var (
	// DefaultTWAPWindow is the horizon averaged over.
	DefaultTWAPWindow = 5 * time.Minute

	// DefaultMinInterval is the minimum spacing of rate-limited updates.
	DefaultMinInterval = 60 * time.Second

	// DefaultMaxSamples bounds the stored history.
	DefaultMaxSamples = 100
)

// Sample is a single price observation.
type Sample struct {
	Price     *big.Int `json:"price"`
	Timestamp uint64   `json:"timestamp"`
	BlockRef  uint64   `json:"blockRef"`
}

// PriceStats summarises the sample window. TWAP is nil while there is not
// enough history.
type PriceStats struct {
	Latest          *big.Int `json:"latest"`
	TWAP            *big.Int `json:"twap"`
	Count           int      `json:"count"`
	OldestTimestamp uint64   `json:"oldestTimestamp"`
	NewestTimestamp uint64   `json:"newestTimestamp"`
}

type TWAPParams struct {
	Name        string
	Window      time.Duration
	MinInterval time.Duration
	MaxSamples  int
	// Updater alone may bypass the rate limit
	Updater common.Address
}

type twapStore struct {
	samples []Sample
}

func NewTWAPStore() chain.Store {
	return &twapStore{}
}

func (s *twapStore) Clone() chain.Store {
	c := &twapStore{samples: make([]Sample, len(s.samples))}
	for i, smp := range s.samples {
		c.samples[i] = Sample{Price: new(big.Int).Set(smp.Price), Timestamp: smp.Timestamp, BlockRef: smp.BlockRef}
	}
	return c
}

func (s *twapStore) Fingerprint(h *xxhash.Digest) {
	var buf [32]byte
	for _, smp := range s.samples {
		_, _ = h.Write(smp.Price.FillBytes(buf[:]))
		binary.BigEndian.PutUint64(buf[:8], smp.Timestamp)
		binary.BigEndian.PutUint64(buf[8:16], smp.BlockRef)
		_, _ = h.Write(buf[:16])
	}
}

// TWAP keeps a rate-limited window of spot samples of one pool and reports
// their time-weighted average.
type TWAP struct {
	key     chain.StoreKey
	params  TWAPParams
	source  PriceSource
	metrics *metrics.OracleMetrics
}

var _ PriceSource = (*TWAP)(nil)

func NewTWAP(key chain.StoreKey, params TWAPParams, source PriceSource, m *metrics.OracleMetrics) *TWAP {
	if params.Name == "" {
		params.Name = "twap"
	}
	if params.Window <= 0 {
		params.Window = DefaultTWAPWindow
	}
	if params.MinInterval <= 0 {
		params.MinInterval = DefaultMinInterval
	}
	if params.MaxSamples < 2 {
		params.MaxSamples = DefaultMaxSamples
	}
	return &TWAP{key: key, params: params, source: source, metrics: m}
}

func (t *TWAP) Name() string       { return t.params.Name }
func (t *TWAP) Params() TWAPParams { return t.params }

func (t *TWAP) store(ctx chain.Context) *twapStore {
	return ctx.Store(t.key).(*twapStore)
}

func unixSeconds(ctx chain.Context) uint64 {
	if ts := ctx.BlockTime().Unix(); ts > 0 {
		return uint64(ts)
	}
	return 0
}

// UpdatePrice appends the current spot price. Within MinInterval of the last
// sample it fails with ErrRateLimited and records nothing.
func (t *TWAP) UpdatePrice(ctx chain.Context) error {
	s := t.store(ctx)
	now := unixSeconds(ctx)
	if n := len(s.samples); n > 0 {
		last := s.samples[n-1].Timestamp
		if now < last || time.Duration(now-last)*time.Second < t.params.MinInterval {
			if t.metrics != nil {
				t.metrics.RateLimited.Inc()
			}
			return errorsmod.Wrapf(types.ErrRateLimited,
				"last sample at %d, next allowed at %d", last, last+uint64(t.params.MinInterval/time.Second))
		}
	}
	return t.record(ctx, "scheduled")
}

// EmergencyUpdatePrice appends a sample regardless of the rate limit. It is
// reserved for the updater and meant for bootstrapping: every extra sample
// shortens the time an injected price must persist to move the average.
func (t *TWAP) EmergencyUpdatePrice(ctx chain.Context, caller common.Address) error {
	if caller != t.params.Updater {
		return errorsmod.Wrapf(types.ErrUnauthorized, "%s is not the %s updater", caller.Hex(), t.params.Name)
	}
	ctx.Logger().Warn("Emergency TWAP update bypasses rate limit",
		zap.String("oracle", t.params.Name),
		zap.String("caller", caller.Hex()))
	return t.record(ctx, "emergency")
}

func (t *TWAP) record(ctx chain.Context, kind string) error {
	price, err := t.source.GetPrice(ctx)
	if err != nil {
		return err
	}
	now := unixSeconds(ctx)
	s := t.store(ctx)
	s.samples = append(s.samples, Sample{Price: price, Timestamp: now, BlockRef: ctx.BlockHeight()})
	t.prune(s, now)

	ctx.OnCommit(func() {
		if t.metrics != nil {
			t.metrics.TWAPUpdates.WithLabelValues(kind).Inc()
			t.metrics.TWAPPrice.Set(metrics.Units(price))
		}
		ctx.Logger().Debug("TWAP sample recorded",
			zap.String("oracle", t.params.Name),
			zap.String("kind", kind),
			zap.String("price", price.String()),
			zap.Uint64("timestamp", now))
	})
	return nil
}

// prune drops samples that can no longer contribute to the window and caps
// the history at MaxSamples. The last two samples are always kept.
func (t *TWAP) prune(s *twapStore, now uint64) {
	window := uint64(t.params.Window / time.Second)
	drop := 0
	if now > window {
		cutoff := now - window
		// samples[i] contributes while its successor lies after cutoff
		for drop < len(s.samples)-2 && s.samples[drop+1].Timestamp <= cutoff {
			drop++
		}
	}
	if excess := len(s.samples) - drop - t.params.MaxSamples; excess > 0 {
		drop += excess
	}
	if drop > 0 {
		s.samples = append([]Sample(nil), s.samples[drop:]...)
	}
}

// GetTWAP averages adjacent sample pairs inside the window, each pair
// weighted by the seconds between them and priced at its earlier sample.
// Pairs straddling the window start count only their in-window part.
func (t *TWAP) GetTWAP(ctx chain.Context) (*big.Int, error) {
	samples := t.store(ctx).samples
	if len(samples) < 2 {
		return nil, errorsmod.Wrapf(types.ErrInsufficientHistory, "%d samples recorded", len(samples))
	}

	now := unixSeconds(ctx)
	window := uint64(t.params.Window / time.Second)
	var cutoff uint64
	if now > window {
		cutoff = now - window
	}

	sum := new(big.Int)
	var total uint64
	for i := 0; i+1 < len(samples); i++ {
		end := samples[i+1].Timestamp
		if end <= cutoff {
			continue
		}
		start := samples[i].Timestamp
		if start < cutoff {
			start = cutoff
		}
		if end <= start {
			continue
		}
		w := end - start
		sum.Add(sum, new(big.Int).Mul(samples[i].Price, new(big.Int).SetUint64(w)))
		total += w
	}

	if total == 0 {
		return nil, errorsmod.Wrap(types.ErrInsufficientHistory, "no elapsed time between samples inside the window")
	}
	return sum.Quo(sum, new(big.Int).SetUint64(total)), nil
}

// GetPrice is GetTWAP.
func (t *TWAP) GetPrice(ctx chain.Context) (*big.Int, error) {
	return t.GetTWAP(ctx)
}

func (t *TWAP) GetPriceHistoryLength(ctx chain.Context) int {
	return len(t.store(ctx).samples)
}

func (t *TWAP) GetSample(ctx chain.Context, i int) (Sample, error) {
	samples := t.store(ctx).samples
	if i < 0 || i >= len(samples) {
		return Sample{}, errorsmod.Wrapf(types.ErrInsufficientHistory, "sample %d of %d", i, len(samples))
	}
	smp := samples[i]
	return Sample{Price: new(big.Int).Set(smp.Price), Timestamp: smp.Timestamp, BlockRef: smp.BlockRef}, nil
}

// Samples returns a copy of the stored window, oldest first.
func (t *TWAP) Samples(ctx chain.Context) []Sample {
	return t.store(ctx).Clone().(*twapStore).samples
}

func (t *TWAP) GetPriceStats(ctx chain.Context) PriceStats {
	samples := t.store(ctx).samples
	stats := PriceStats{Count: len(samples)}
	if len(samples) == 0 {
		return stats
	}
	stats.Latest = new(big.Int).Set(samples[len(samples)-1].Price)
	stats.OldestTimestamp = samples[0].Timestamp
	stats.NewestTimestamp = samples[len(samples)-1].Timestamp
	if twap, err := t.GetTWAP(ctx); err == nil {
		stats.TWAP = twap
	}
	return stats
}
