package simulator

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/pricelab/chain"
	"github.com/michaelpento.lv/pricelab/dex"
	"github.com/michaelpento.lv/pricelab/dex/amm"
	"github.com/michaelpento.lv/pricelab/flashloan"
	"github.com/michaelpento.lv/pricelab/lending"
	"github.com/michaelpento.lv/pricelab/oracle"
	"github.com/michaelpento.lv/pricelab/strategies/manipulation"
	"github.com/michaelpento.lv/pricelab/types"
	"github.com/michaelpento.lv/pricelab/utils/monitor"
)

type PoolView struct {
	Name      string         `json:"name"`
	Address   common.Address `json:"address"`
	FeeBps    uint64         `json:"feeBps"`
	Reserves  dex.Reserves   `json:"reserves"`
	SpotPrice *big.Int       `json:"spotPrice,omitempty"`
	Error     string         `json:"error,omitempty"`
}

type MarketView struct {
	Market      string         `json:"market"`
	Address     common.Address `json:"address"`
	LTVBps      uint64         `json:"ltvBps"`
	PriceSource string         `json:"priceSource"`
	Price       *big.Int       `json:"price,omitempty"`
	PriceError  string         `json:"priceError,omitempty"`
	PoolBalance *big.Int       `json:"poolBalance"`
}

type FlashLoanView struct {
	Address   common.Address  `json:"address"`
	FeeBps    uint64          `json:"feeBps"`
	Liquidity *big.Int        `json:"liquidity"`
	Stats     flashloan.Stats `json:"stats"`
}

type TWAPView struct {
	oracle.PriceStats
	Window      time.Duration `json:"window"`
	MinInterval time.Duration `json:"minInterval"`
	Error       string        `json:"error,omitempty"`
}

type AggregatorView struct {
	Oracles     []oracle.OracleInfo       `json:"oracles"`
	ActiveCount int                       `json:"activeCount"`
	Report      *oracle.AggregationReport `json:"report"`
}

// Snapshot is a read model of the whole testbed at one height.
type Snapshot struct {
	Height      uint64                        `json:"height"`
	Time        time.Time                     `json:"time"`
	Fingerprint string                        `json:"fingerprint"`
	Pools       []PoolView                    `json:"pools"`
	Markets     []MarketView                  `json:"markets"`
	FlashLoan   FlashLoanView                 `json:"flashLoan"`
	TWAP        TWAPView                      `json:"twap"`
	Aggregator  AggregatorView                `json:"aggregator"`
	Attackers   map[Target]manipulation.State `json:"attackers"`
}

func (s *Simulator) poolView(ctx chain.Context, p *amm.Pool) PoolView {
	v := PoolView{
		Name:     p.Name(),
		Address:  p.Address(),
		FeeBps:   p.FeeBps(),
		Reserves: p.GetReserves(ctx),
	}
	price, err := p.GetSpotPrice(ctx)
	if err != nil {
		v.Error = err.Error()
	} else {
		v.SpotPrice = price
	}
	return v
}

func (s *Simulator) marketView(ctx chain.Context, m *lending.Keeper) MarketView {
	v := MarketView{
		Market:      m.Market(),
		Address:     m.Address(),
		LTVBps:      m.LTVBps(),
		PriceSource: m.PriceSource().Name(),
		PoolBalance: m.PoolBalance(ctx),
	}
	price, err := m.PriceSource().GetPrice(ctx)
	if err != nil {
		v.PriceError = err.Error()
	} else {
		v.Price = price
	}
	return v
}

// PoolView returns the current view of one pool.
func (s *Simulator) PoolView(ctx context.Context, name string) (PoolView, error) {
	p, err := s.Pool(name)
	if err != nil {
		return PoolView{}, err
	}
	var v PoolView
	err = s.chain.Query(ctx, func(ctx chain.Context) error {
		v = s.poolView(ctx, p)
		return nil
	})
	return v, err
}

// TWAPView returns the TWAP statistics and its current average.
func (s *Simulator) TWAPView(ctx context.Context) (TWAPView, error) {
	var v TWAPView
	err := s.chain.Query(ctx, func(ctx chain.Context) error {
		v = s.twapView(ctx)
		return nil
	})
	return v, err
}

func (s *Simulator) twapView(ctx chain.Context) TWAPView {
	v := TWAPView{
		PriceStats:  s.TWAP.GetPriceStats(ctx),
		Window:      s.TWAP.Params().Window,
		MinInterval: s.TWAP.Params().MinInterval,
	}
	if _, err := s.TWAP.GetTWAP(ctx); err != nil {
		v.Error = err.Error()
	}
	return v
}

// AggregatorView returns the registry and a fresh aggregation report.
func (s *Simulator) AggregatorView(ctx context.Context) (AggregatorView, error) {
	var v AggregatorView
	err := s.chain.Query(ctx, func(ctx chain.Context) error {
		v = s.aggregatorView(ctx)
		return nil
	})
	return v, err
}

func (s *Simulator) aggregatorView(ctx chain.Context) AggregatorView {
	v := AggregatorView{ActiveCount: s.Aggregator.GetActiveOracleCount(ctx)}
	for i := 0; i < s.Aggregator.GetOracleCount(ctx); i++ {
		info, err := s.Aggregator.GetOracleInfo(ctx, i)
		if err == nil {
			v.Oracles = append(v.Oracles, info)
		}
	}
	// the report carries its own error
	v.Report, _ = s.Aggregator.Aggregate(ctx)
	return v
}

// Snapshot reads every component at the current height.
func (s *Simulator) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Attackers: make(map[Target]manipulation.State)}
	err := s.chain.Query(ctx, func(ctx chain.Context) error {
		snap.Height = ctx.BlockHeight()
		snap.Time = ctx.BlockTime()
		snap.Pools = []PoolView{s.poolView(ctx, s.Primary), s.poolView(ctx, s.Secondary)}
		snap.Markets = []MarketView{s.marketView(ctx, s.Vulnerable), s.marketView(ctx, s.Protected)}
		snap.FlashLoan = FlashLoanView{
			Address:   s.Facility.Address(),
			FeeBps:    s.Facility.FeeBps(),
			Liquidity: s.Facility.PoolBalance(ctx),
			Stats:     s.Facility.Stats(ctx),
		}
		snap.TWAP = s.twapView(ctx)
		snap.Aggregator = s.aggregatorView(ctx)
		for target, o := range s.attackers {
			snap.Attackers[target] = o.GetState(ctx)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	snap.Fingerprint = fmt.Sprintf("%016x", s.chain.Fingerprint())
	return snap, nil
}

// Position is one account's standing in one market.
type Position struct {
	Collateral *big.Int `json:"collateral"`
	Debt       *big.Int `json:"debt"`
}

// AccountView is an account's balances and lending positions.
type AccountView struct {
	Address   common.Address      `json:"address"`
	BalanceA  *big.Int            `json:"balanceA"`
	BalanceB  *big.Int            `json:"balanceB"`
	Positions map[Target]Position `json:"positions"`
}

func (s *Simulator) Account(ctx context.Context, account common.Address) (AccountView, error) {
	v := AccountView{Address: account, Positions: make(map[Target]Position)}
	err := s.chain.Query(ctx, func(ctx chain.Context) error {
		v.BalanceA = s.Ledger.BalanceOf(ctx, account, types.AssetA)
		v.BalanceB = s.Ledger.BalanceOf(ctx, account, types.AssetB)
		for target, m := range map[Target]*lending.Keeper{
			TargetVulnerable: s.Vulnerable,
			TargetProtected:  s.Protected,
		} {
			v.Positions[target] = Position{
				Collateral: m.CollateralOf(ctx, account),
				Debt:       m.DebtOf(ctx, account),
			}
		}
		return nil
	})
	return v, err
}

// Probe reads the clock-dependent oracle state for the state monitor.
func (s *Simulator) Probe(ctx context.Context) (monitor.Sample, error) {
	var sample monitor.Sample
	err := s.chain.Query(ctx, func(ctx chain.Context) error {
		sample.Height = ctx.BlockHeight()
		sample.Time = ctx.BlockTime()
		stats := s.TWAP.GetPriceStats(ctx)
		sample.TWAP = stats.TWAP
		if stats.Count > 0 {
			sample.TWAPAge = ctx.BlockTime().Sub(time.Unix(int64(stats.NewestTimestamp), 0))
		}
		report, err := s.Aggregator.Aggregate(ctx)
		if err != nil {
			sample.AggregatedError = err.Error()
		} else {
			sample.Aggregated = report.Price
		}
		return nil
	})
	return sample, err
}
