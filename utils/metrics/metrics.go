package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/michaelpento.lv/pricelab/types"
)

// Set bundles the metric groups of every subsystem under one namespace.
type Set struct {
	Chain    *ChainMetrics
	AMM      *AMMMetrics
	Lending  *LendingMetrics
	Flash    *FlashLoanMetrics
	Attack   *AttackMetrics
	Oracle   *OracleMetrics
	Registry prometheus.Registerer
}

// NewSet registers all metric groups on reg. A nil reg gets a private
// registry so independent testbeds never collide.
func NewSet(reg prometheus.Registerer, namespace string) *Set {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Set{
		Chain:    NewChainMetrics(reg, namespace),
		AMM:      NewAMMMetrics(reg, namespace),
		Lending:  NewLendingMetrics(reg, namespace),
		Flash:    NewFlashLoanMetrics(reg, namespace),
		Attack:   NewAttackMetrics(reg, namespace),
		Oracle:   NewOracleMetrics(reg, namespace),
		Registry: reg,
	}
}

// Discard returns a Set bound to a throwaway registry.
func Discard() *Set {
	return NewSet(nil, "discard")
}

// Units converts a Scale-denominated amount to a float for gauges only.
func Units(x *big.Int) float64 {
	if x == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(x), new(big.Float).SetInt(types.Scale)).Float64()
	return f
}

type ChainMetrics struct {
	UnitsCommitted *prometheus.CounterVec
	UnitsReverted  *prometheus.CounterVec
	UnitDuration   prometheus.Histogram
	Height         prometheus.Gauge
}

func NewChainMetrics(reg prometheus.Registerer, namespace string) *ChainMetrics {
	f := promauto.With(reg)
	return &ChainMetrics{
		UnitsCommitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "units_committed_total",
			Help:      "Atomic units committed, by label",
		}, []string{"unit"}),
		UnitsReverted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "units_reverted_total",
			Help:      "Atomic units discarded, by label",
		}, []string{"unit"}),
		UnitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "unit_duration_seconds",
			Help:      "Wall time spent executing an atomic unit",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		Height: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "height",
			Help:      "Number of committed units",
		}),
	}
}

type AMMMetrics struct {
	Swaps     *prometheus.CounterVec
	Reserves  *prometheus.GaugeVec
	SpotPrice *prometheus.GaugeVec
}

func NewAMMMetrics(reg prometheus.Registerer, namespace string) *AMMMetrics {
	f := promauto.With(reg)
	return &AMMMetrics{
		Swaps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "amm",
			Name:      "swaps_total",
			Help:      "Committed swaps by pool and direction",
		}, []string{"pool", "direction"}),
		Reserves: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "amm",
			Name:      "reserve_units",
			Help:      "Pool reserves in whole-token units",
		}, []string{"pool", "asset"}),
		SpotPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "amm",
			Name:      "spot_price",
			Help:      "Spot price of B denominated in A",
		}, []string{"pool"}),
	}
}

type LendingMetrics struct {
	Borrows          *prometheus.CounterVec
	BorrowRejections *prometheus.CounterVec
	Deposits         *prometheus.CounterVec
	Repayments       *prometheus.CounterVec
}

func NewLendingMetrics(reg prometheus.Registerer, namespace string) *LendingMetrics {
	f := promauto.With(reg)
	return &LendingMetrics{
		Borrows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lending",
			Name:      "borrows_total",
			Help:      "Committed borrows by market",
		}, []string{"market"}),
		BorrowRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lending",
			Name:      "borrow_rejections_total",
			Help:      "Borrows rejected for exceeding the limit, by market",
		}, []string{"market"}),
		Deposits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lending",
			Name:      "deposits_total",
			Help:      "Committed collateral deposits by market",
		}, []string{"market"}),
		Repayments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lending",
			Name:      "repayments_total",
			Help:      "Committed repayments by market",
		}, []string{"market"}),
	}
}

type FlashLoanMetrics struct {
	Loans    prometheus.Counter
	Failures *prometheus.CounterVec
	Volume   prometheus.Counter
	Fees     prometheus.Counter
}

func NewFlashLoanMetrics(reg prometheus.Registerer, namespace string) *FlashLoanMetrics {
	f := promauto.With(reg)
	return &FlashLoanMetrics{
		Loans: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flashloan",
			Name:      "loans_total",
			Help:      "Flash loans repaid and committed",
		}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flashloan",
			Name:      "failures_total",
			Help:      "Flash loans rolled back, by reason",
		}, []string{"reason"}),
		Volume: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flashloan",
			Name:      "volume_units_total",
			Help:      "Principal lent in whole-token units",
		}),
		Fees: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flashloan",
			Name:      "fees_units_total",
			Help:      "Fees collected in whole-token units",
		}),
	}
}

type AttackMetrics struct {
	Attempts      *prometheus.CounterVec
	Successes     *prometheus.CounterVec
	Failures      *prometheus.CounterVec
	LastProfit    prometheus.Gauge
	ExecutionTime prometheus.Histogram
}

func NewAttackMetrics(reg prometheus.Registerer, namespace string) *AttackMetrics {
	f := promauto.With(reg)
	return &AttackMetrics{
		Attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "attack",
			Name:      "attempts_total",
			Help:      "Attack runs submitted, by target market",
		}, []string{"target"}),
		Successes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "attack",
			Name:      "successes_total",
			Help:      "Attack runs committed, by target market",
		}, []string{"target"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "attack",
			Name:      "failures_total",
			Help:      "Attack runs reverted, by target market and error kind",
		}, []string{"target", "reason"}),
		LastProfit: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "attack",
			Name:      "last_profit_units",
			Help:      "Profit of the latest committed run in whole-token units",
		}),
		ExecutionTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "attack",
			Name:      "execution_seconds",
			Help:      "Wall time of attack runs",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

type OracleMetrics struct {
	TWAPUpdates  *prometheus.CounterVec
	RateLimited  prometheus.Counter
	TWAPPrice    prometheus.Gauge
	Aggregations *prometheus.CounterVec
	Rejections   *prometheus.CounterVec
}

func NewOracleMetrics(reg prometheus.Registerer, namespace string) *OracleMetrics {
	f := promauto.With(reg)
	return &OracleMetrics{
		TWAPUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "twap_updates_total",
			Help:      "Committed TWAP samples, by kind",
		}, []string{"kind"}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "twap_rate_limited_total",
			Help:      "TWAP updates refused by the minimum interval",
		}),
		TWAPPrice: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "twap_latest_sample",
			Help:      "Latest committed TWAP sample price",
		}),
		Aggregations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "aggregations_total",
			Help:      "Aggregated price queries, by outcome",
		}, []string{"outcome"}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "source_rejections_total",
			Help:      "Sources rejected as outliers, by label",
		}, []string{"source"}),
	}
}
