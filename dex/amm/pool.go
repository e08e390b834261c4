package amm

import (
	"encoding/binary"
	"math/big"

	errorsmod "cosmossdk.io/errors"
	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/pricelab/chain"
	"github.com/michaelpento.lv/pricelab/dex"
	"github.com/michaelpento.lv/pricelab/types"
	"github.com/michaelpento.lv/pricelab/utils/metrics"
)

type poolStore struct {
	reserveA *big.Int
	reserveB *big.Int
	height   uint64
}

// NewStore returns an empty pool store.
func NewStore() chain.Store {
	return &poolStore{reserveA: new(big.Int), reserveB: new(big.Int)}
}

func (s *poolStore) Clone() chain.Store {
	return &poolStore{
		reserveA: new(big.Int).Set(s.reserveA),
		reserveB: new(big.Int).Set(s.reserveB),
		height:   s.height,
	}
}

func (s *poolStore) Fingerprint(h *xxhash.Digest) {
	var buf [32]byte
	_, _ = h.Write(s.reserveA.FillBytes(buf[:]))
	_, _ = h.Write(s.reserveB.FillBytes(buf[:]))
	binary.BigEndian.PutUint64(buf[:8], s.height)
	_, _ = h.Write(buf[:8])
}

// Pool is a constant-product market over assets A and B. Prices are always
// quoted as B denominated in A.
type Pool struct {
	name    string
	key     chain.StoreKey
	addr    common.Address
	feeBps  uint64
	ledger  dex.Ledger
	metrics *metrics.AMMMetrics
}

var _ dex.Pool = (*Pool)(nil)

// NewPool creates a pool keeper. feeBps is zero for the fee-free variant.
func NewPool(name string, key chain.StoreKey, feeBps uint64, ledger dex.Ledger, m *metrics.AMMMetrics) *Pool {
	return &Pool{
		name:    name,
		key:     key,
		addr:    types.ModuleAddress("amm/" + name),
		feeBps:  feeBps,
		ledger:  ledger,
		metrics: m,
	}
}

func (p *Pool) Name() string            { return p.name }
func (p *Pool) Address() common.Address { return p.addr }
func (p *Pool) FeeBps() uint64          { return p.feeBps }

func (p *Pool) store(ctx chain.Context) *poolStore {
	return ctx.Store(p.key).(*poolStore)
}

func (p *Pool) GetReserves(ctx chain.Context) dex.Reserves {
	s := p.store(ctx)
	return dex.Reserves{
		ReserveA:    new(big.Int).Set(s.reserveA),
		ReserveB:    new(big.Int).Set(s.reserveB),
		BlockNumber: s.height,
	}
}

func (p *Pool) GetSpotPrice(ctx chain.Context) (*big.Int, error) {
	s := p.store(ctx)
	if s.reserveA.Sign() == 0 || s.reserveB.Sign() == 0 {
		return nil, errorsmod.Wrapf(types.ErrUninitialized, "pool %s has no liquidity", p.name)
	}
	return SpotPrice(s.reserveA, s.reserveB), nil
}

// AddLiquidity pulls both assets from provider and credits the reserves with
// exactly the pulled amounts.
func (p *Pool) AddLiquidity(ctx chain.Context, provider common.Address, amountA, amountB *big.Int) error {
	if amountA == nil || amountB == nil || amountA.Sign() <= 0 || amountB.Sign() <= 0 {
		return errorsmod.Wrap(types.ErrInvalidAmount, "both liquidity amounts must be positive")
	}
	if err := p.ledger.Pull(ctx, provider, p.addr, types.AssetA, amountA); err != nil {
		return err
	}
	if err := p.ledger.Pull(ctx, provider, p.addr, types.AssetB, amountB); err != nil {
		return err
	}

	s := p.store(ctx)
	s.reserveA.Add(s.reserveA, amountA)
	s.reserveB.Add(s.reserveB, amountB)
	s.height = ctx.BlockHeight()

	reserves := p.GetReserves(ctx)
	ctx.OnCommit(func() {
		p.observe(reserves)
		ctx.Logger().Info("Liquidity added",
			zap.String("pool", p.name),
			zap.String("provider", provider.Hex()),
			zap.String("amountA", amountA.String()),
			zap.String("amountB", amountB.String()))
	})
	return nil
}

func (p *Pool) GetAmountOut(ctx chain.Context, assetIn types.Asset, amountIn *big.Int) (*big.Int, error) {
	if !assetIn.Valid() || amountIn == nil || amountIn.Sign() <= 0 {
		return nil, errorsmod.Wrap(types.ErrInvalidAmount, "swap input must be positive")
	}
	r := p.GetReserves(ctx)
	reserveIn, reserveOut := r.Reserve(assetIn), r.Reserve(assetIn.Other())
	out := GetAmountOut(amountIn, reserveIn, reserveOut, p.feeBps)
	if out.Sign() == 0 || out.Cmp(reserveOut) >= 0 {
		return nil, errorsmod.Wrapf(types.ErrInsufficientLiquidity,
			"pool %s: %s %s in yields %s %s out of reserve %s",
			p.name, amountIn, assetIn, out, assetIn.Other(), reserveOut)
	}
	return out, nil
}

func (p *Pool) GetAmountIn(ctx chain.Context, assetOut types.Asset, amountOut *big.Int) (*big.Int, error) {
	if !assetOut.Valid() || amountOut == nil || amountOut.Sign() <= 0 {
		return nil, errorsmod.Wrap(types.ErrInvalidAmount, "swap output must be positive")
	}
	r := p.GetReserves(ctx)
	in := GetAmountIn(amountOut, r.Reserve(assetOut.Other()), r.Reserve(assetOut), p.feeBps)
	if in == nil {
		return nil, errorsmod.Wrapf(types.ErrInsufficientLiquidity,
			"pool %s cannot pay out %s %s", p.name, amountOut, assetOut)
	}
	return in, nil
}

func (p *Pool) SwapAForB(ctx chain.Context, trader common.Address, amountIn *big.Int) (*big.Int, error) {
	return p.swap(ctx, trader, types.AssetA, amountIn)
}

func (p *Pool) SwapBForA(ctx chain.Context, trader common.Address, amountIn *big.Int) (*big.Int, error) {
	return p.swap(ctx, trader, types.AssetB, amountIn)
}

func (p *Pool) swap(ctx chain.Context, trader common.Address, assetIn types.Asset, amountIn *big.Int) (*big.Int, error) {
	before := p.GetReserves(ctx)
	amountOut, err := p.GetAmountOut(ctx, assetIn, amountIn)
	if err != nil {
		return nil, err
	}

	if err := p.ledger.Pull(ctx, trader, p.addr, assetIn, amountIn); err != nil {
		return nil, err
	}
	if err := p.ledger.Transfer(ctx, p.addr, trader, assetIn.Other(), amountOut); err != nil {
		return nil, err
	}

	s := p.store(ctx)
	if assetIn == types.AssetA {
		s.reserveA.Add(s.reserveA, amountIn)
		s.reserveB.Sub(s.reserveB, amountOut)
	} else {
		s.reserveB.Add(s.reserveB, amountIn)
		s.reserveA.Sub(s.reserveA, amountOut)
	}
	s.height = ctx.BlockHeight()

	after := p.GetReserves(ctx)
	if after.K().Cmp(before.K()) < 0 {
		return nil, errorsmod.Wrapf(types.ErrInsufficientLiquidity, "pool %s: invariant decreased", p.name)
	}

	direction := "a_to_b"
	if assetIn == types.AssetB {
		direction = "b_to_a"
	}
	ctx.OnCommit(func() {
		if p.metrics != nil {
			p.metrics.Swaps.WithLabelValues(p.name, direction).Inc()
		}
		p.observe(after)
	})
	ctx.Logger().Debug("Swap",
		zap.String("pool", p.name),
		zap.String("direction", direction),
		zap.String("amountIn", amountIn.String()),
		zap.String("amountOut", amountOut.String()))

	return amountOut, nil
}

func (p *Pool) observe(r dex.Reserves) {
	if p.metrics == nil {
		return
	}
	p.metrics.Reserves.WithLabelValues(p.name, "A").Set(metrics.Units(r.ReserveA))
	p.metrics.Reserves.WithLabelValues(p.name, "B").Set(metrics.Units(r.ReserveB))
	if r.ReserveB.Sign() > 0 {
		p.metrics.SpotPrice.WithLabelValues(p.name).Set(metrics.Units(SpotPrice(r.ReserveA, r.ReserveB)))
	}
}
