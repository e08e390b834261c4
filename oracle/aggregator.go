package oracle

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	errorsmod "cosmossdk.io/errors"
	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/pricelab/chain"
	"github.com/michaelpento.lv/pricelab/types"
	mathutil "github.com/michaelpento.lv/pricelab/utils/math"
	"github.com/michaelpento.lv/pricelab/utils/metrics"
)

// OracleInfo is one registered source.
type OracleInfo struct {
	SourceRef       string `json:"sourceRef"`
	Label           string `json:"label"`
	WeightBps       uint64 `json:"weightBps"`
	IsTWAP          bool   `json:"isTWAP"`
	MaxDeviationBps uint64 `json:"maxDeviationBps"`
	Active          bool   `json:"active"`
}

// SourceReport is the outcome of one source in one aggregation.
type SourceReport struct {
	OracleInfo
	Price        *big.Int `json:"price,omitempty"`
	Available    bool     `json:"available"`
	Error        string   `json:"error,omitempty"`
	DeviationBps *big.Int `json:"deviationBps,omitempty"`
	Rejected     bool     `json:"rejected"`
}

// AggregationReport explains how a consensus price was reached or why it
// was refused.
type AggregationReport struct {
	Sources   []SourceReport `json:"sources"`
	Available int            `json:"available"`
	Rejected  int            `json:"rejected"`
	Median    *big.Int       `json:"median,omitempty"`
	Price     *big.Int       `json:"price,omitempty"`
	Error     string         `json:"error,omitempty"`
}

type AggregatorParams struct {
	Name string
	// Owner alone may change the registry
	Owner common.Address
	// MinValidSources is the fewest surviving sources that still yield a price
	MinValidSources int
}

type aggregatorStore struct {
	oracles []OracleInfo
}

func NewAggregatorStore() chain.Store {
	return &aggregatorStore{}
}

func (s *aggregatorStore) Clone() chain.Store {
	return &aggregatorStore{oracles: append([]OracleInfo(nil), s.oracles...)}
}

func (s *aggregatorStore) Fingerprint(h *xxhash.Digest) {
	var buf bytes.Buffer
	for _, o := range s.oracles {
		buf.WriteString(o.SourceRef)
		buf.WriteByte(0)
		buf.WriteString(o.Label)
		buf.WriteByte(0)
		_ = binary.Write(&buf, binary.BigEndian, o.WeightBps)
		_ = binary.Write(&buf, binary.BigEndian, o.MaxDeviationBps)
		_ = binary.Write(&buf, binary.BigEndian, o.IsTWAP)
		_ = binary.Write(&buf, binary.BigEndian, o.Active)
	}
	_, _ = h.Write(buf.Bytes())
}

// Aggregator combines weighted price sources, rejects outliers against the
// median and refuses to price when too few sources agree.
type Aggregator struct {
	key     chain.StoreKey
	params  AggregatorParams
	metrics *metrics.OracleMetrics

	mu      sync.RWMutex
	sources map[string]PriceSource
}

var _ PriceSource = (*Aggregator)(nil)

func NewAggregator(key chain.StoreKey, params AggregatorParams, m *metrics.OracleMetrics) *Aggregator {
	if params.Name == "" {
		params.Name = "aggregator"
	}
	if params.MinValidSources < 1 {
		params.MinValidSources = 2
	}
	return &Aggregator{
		key:     key,
		params:  params,
		metrics: m,
		sources: make(map[string]PriceSource),
	}
}

func (a *Aggregator) Name() string             { return a.params.Name }
func (a *Aggregator) Params() AggregatorParams { return a.params }

// RegisterSource makes src addressable by its Name in AddOracle.
func (a *Aggregator) RegisterSource(src PriceSource) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.sources[src.Name()]; ok {
		return fmt.Errorf("price source %q already registered", src.Name())
	}
	a.sources[src.Name()] = src
	return nil
}

func (a *Aggregator) resolve(ref string) (PriceSource, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	src, ok := a.sources[ref]
	return src, ok
}

func (a *Aggregator) store(ctx chain.Context) *aggregatorStore {
	return ctx.Store(a.key).(*aggregatorStore)
}

// AddOracle registers an active source and returns its index.
func (a *Aggregator) AddOracle(ctx chain.Context, caller common.Address, sourceRef string, weightBps uint64, isTWAP bool, maxDeviationBps uint64, label string) (int, error) {
	if caller != a.params.Owner {
		return 0, errorsmod.Wrapf(types.ErrUnauthorized, "%s does not own %s", caller.Hex(), a.params.Name)
	}
	if _, ok := a.resolve(sourceRef); !ok {
		return 0, errorsmod.Wrapf(types.ErrUnknownSource, "%q", sourceRef)
	}
	if weightBps == 0 || weightBps > types.BpsDenominator {
		return 0, errorsmod.Wrapf(types.ErrInvalidAmount, "weight %d bps", weightBps)
	}
	if label == "" {
		label = sourceRef
	}

	s := a.store(ctx)
	s.oracles = append(s.oracles, OracleInfo{
		SourceRef:       sourceRef,
		Label:           label,
		WeightBps:       weightBps,
		IsTWAP:          isTWAP,
		MaxDeviationBps: maxDeviationBps,
		Active:          true,
	})
	idx := len(s.oracles) - 1

	ctx.OnCommit(func() {
		ctx.Logger().Info("Oracle source added",
			zap.String("aggregator", a.params.Name),
			zap.String("source", sourceRef),
			zap.String("label", label),
			zap.Uint64("weightBps", weightBps),
			zap.Uint64("maxDeviationBps", maxDeviationBps))
	})
	return idx, nil
}

func (a *Aggregator) SetOracleActive(ctx chain.Context, caller common.Address, i int, active bool) error {
	if caller != a.params.Owner {
		return errorsmod.Wrapf(types.ErrUnauthorized, "%s does not own %s", caller.Hex(), a.params.Name)
	}
	s := a.store(ctx)
	if i < 0 || i >= len(s.oracles) {
		return errorsmod.Wrapf(types.ErrUnknownSource, "oracle index %d", i)
	}
	s.oracles[i].Active = active
	return nil
}

func (a *Aggregator) GetOracleCount(ctx chain.Context) int {
	return len(a.store(ctx).oracles)
}

func (a *Aggregator) GetActiveOracleCount(ctx chain.Context) int {
	n := 0
	for _, o := range a.store(ctx).oracles {
		if o.Active {
			n++
		}
	}
	return n
}

func (a *Aggregator) GetOracleInfo(ctx chain.Context, i int) (OracleInfo, error) {
	oracles := a.store(ctx).oracles
	if i < 0 || i >= len(oracles) {
		return OracleInfo{}, errorsmod.Wrapf(types.ErrUnknownSource, "oracle index %d", i)
	}
	return oracles[i], nil
}

// GetAggregatedPrice returns the weighted average of the sources that lie
// within their deviation bound of the median.
func (a *Aggregator) GetAggregatedPrice(ctx chain.Context) (*big.Int, error) {
	report, err := a.Aggregate(ctx)
	if err != nil {
		return nil, err
	}
	return report.Price, nil
}

// GetPrice is GetAggregatedPrice.
func (a *Aggregator) GetPrice(ctx chain.Context) (*big.Int, error) {
	return a.GetAggregatedPrice(ctx)
}

// Aggregate runs one aggregation. The report is returned even on failure.
func (a *Aggregator) Aggregate(ctx chain.Context) (*AggregationReport, error) {
	report := &AggregationReport{}
	var prices []*big.Int

	for _, o := range a.store(ctx).oracles {
		if !o.Active {
			continue
		}
		sr := SourceReport{OracleInfo: o}
		src, ok := a.resolve(o.SourceRef)
		if !ok {
			sr.Error = types.ErrUnknownSource.Error()
		} else if price, err := src.GetPrice(ctx); err != nil {
			sr.Error = err.Error()
		} else {
			sr.Price = price
			sr.Available = true
			prices = append(prices, price)
		}
		report.Sources = append(report.Sources, sr)
	}
	report.Available = len(prices)

	if report.Available < 2 {
		err := errorsmod.Wrapf(types.ErrInsufficientOracleSources,
			"%s: %d of %d active sources answered", a.params.Name, report.Available, len(report.Sources))
		return a.finish(ctx, report, "insufficient_sources", err)
	}

	med := median(prices)
	report.Median = med
	if med.Sign() == 0 {
		return a.finish(ctx, report, "zero_median",
			errorsmod.Wrapf(types.ErrUninitialized, "%s: median price is zero", a.params.Name))
	}

	weighted := new(big.Int)
	weights := new(big.Int)
	for i := range report.Sources {
		sr := &report.Sources[i]
		if !sr.Available {
			continue
		}
		sr.DeviationBps = mathutil.DeviationBps(sr.Price, med)
		if sr.DeviationBps.Cmp(new(big.Int).SetUint64(sr.MaxDeviationBps)) > 0 {
			sr.Rejected = true
			report.Rejected++
			if a.metrics != nil {
				a.metrics.Rejections.WithLabelValues(sr.Label).Inc()
			}
			continue
		}
		w := new(big.Int).SetUint64(sr.WeightBps)
		weighted.Add(weighted, new(big.Int).Mul(sr.Price, w))
		weights.Add(weights, w)
	}

	if survivors := report.Available - report.Rejected; survivors < a.params.MinValidSources {
		err := errorsmod.Wrapf(types.ErrOutlierThresholdExceeded,
			"%s: %d of %d sources deviate from median %s, %d needed", a.params.Name,
			report.Rejected, report.Available, med, a.params.MinValidSources)
		return a.finish(ctx, report, "circuit_breaker", err)
	}

	report.Price = weighted.Quo(weighted, weights)
	return a.finish(ctx, report, "ok", nil)
}

func (a *Aggregator) finish(ctx chain.Context, report *AggregationReport, outcome string, err error) (*AggregationReport, error) {
	if a.metrics != nil {
		a.metrics.Aggregations.WithLabelValues(outcome).Inc()
	}
	if err != nil {
		report.Error = err.Error()
		if outcome == "circuit_breaker" {
			ctx.Logger().Warn("Oracle circuit breaker tripped",
				zap.String("aggregator", a.params.Name),
				zap.Int("rejected", report.Rejected),
				zap.Int("available", report.Available),
				zap.Error(err))
		}
	}
	return report, err
}
