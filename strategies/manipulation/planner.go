package manipulation

import (
	"math/big"

	errorsmod "cosmossdk.io/errors"

	"github.com/michaelpento.lv/pricelab/chain"
	"github.com/michaelpento.lv/pricelab/types"
	mathutil "github.com/michaelpento.lv/pricelab/utils/math"
)

// Plan is the predicted outcome of an attack, computed from quotes only.
type Plan struct {
	FlashAmount     *big.Int `json:"flashAmount"`
	BoughtB         *big.Int `json:"boughtB"`
	InitialPrice    *big.Int `json:"initialPrice"`
	InflatedPrice   *big.Int `json:"inflatedPrice"`
	CollateralValue *big.Int `json:"collateralValueInA"`
	MaxBorrow       *big.Int `json:"maxBorrowA"`
	Borrow          *big.Int `json:"borrowAmount"`
	Fee             *big.Int `json:"flashFee"`
	Repayment       *big.Int `json:"repaymentAmount"`
	UnwoundB        *big.Int `json:"unwoundB"`
	UnwoundA        *big.Int `json:"unwoundA"`
	Leftover        *big.Int `json:"leftoverA"`
	Profitable      bool     `json:"profitable"`
	Reason          string   `json:"reason,omitempty"`
}

// Plan predicts an attack with flashAmount against the current state. It
// values collateral at the primary pool's post-swap spot price, so it only
// matches runs against a market priced off that pool.
func (o *Orchestrator) Plan(ctx chain.Context, flashAmount *big.Int) (*Plan, error) {
	if !mathutil.IsPositive(flashAmount) {
		return nil, errorsmod.Wrap(types.ErrInvalidAmount, "flash amount must be positive")
	}
	initial, err := o.k.Primary.GetSpotPrice(ctx)
	if err != nil {
		return nil, err
	}

	p := &Plan{
		FlashAmount:  new(big.Int).Set(flashAmount),
		InitialPrice: initial,
		UnwoundB:     new(big.Int),
		UnwoundA:     new(big.Int),
		Leftover:     new(big.Int),
		Fee:          new(big.Int),
	}
	// no provider quotes a loan it cannot fund
	if liquidity := o.k.Lender.GetLiquidity(ctx); flashAmount.Cmp(liquidity) > 0 {
		p.Repayment = new(big.Int).Set(flashAmount)
		p.Reason = "flash loan exceeds lender liquidity"
		return p, nil
	}
	if fee := o.k.Lender.GetFlashLoanFee(ctx, flashAmount); fee != nil {
		p.Fee = fee
	}
	p.Repayment = new(big.Int).Add(flashAmount, p.Fee)

	if p.BoughtB, err = o.k.Primary.GetAmountOut(ctx, types.AssetA, flashAmount); err != nil {
		return nil, err
	}
	r := o.k.Primary.GetReserves(ctx)
	reserveA := new(big.Int).Add(r.ReserveA, flashAmount)
	reserveB := new(big.Int).Sub(r.ReserveB, p.BoughtB)
	if reserveB.Sign() <= 0 {
		p.Reason = "swap drains the primary pool"
		return p, nil
	}
	p.InflatedPrice = mathutil.DivScale(reserveA, reserveB)

	deposit := mathutil.ApplyBps(p.BoughtB, o.params.CollateralBps)
	p.CollateralValue = mathutil.MulScale(deposit, p.InflatedPrice)
	p.MaxBorrow = mathutil.ApplyBps(p.CollateralValue, o.k.Market.LTVBps())
	p.Borrow = mathutil.Min(p.MaxBorrow, o.k.Market.PoolBalance(ctx))

	balance := new(big.Int).Set(p.Borrow)
	residual := new(big.Int).Sub(p.BoughtB, deposit)
	if balance.Cmp(p.Repayment) < 0 && o.params.UnwindOnSecondary && residual.Sign() > 0 {
		shortfall := new(big.Int).Sub(p.Repayment, balance)
		sell := residual
		if in, err := o.k.Secondary.GetAmountIn(ctx, types.AssetA, shortfall); err == nil && in.Cmp(residual) < 0 {
			sell = in
		}
		got, err := o.k.Secondary.GetAmountOut(ctx, types.AssetB, sell)
		if err != nil {
			return nil, err
		}
		p.UnwoundB, p.UnwoundA = sell, got
		balance.Add(balance, got)
	}

	if balance.Cmp(p.Repayment) < 0 {
		p.Reason = "borrow does not cover the repayment"
		return p, nil
	}
	p.Leftover = balance.Sub(balance, p.Repayment)
	p.Profitable = true
	return p, nil
}

// MinProfitableFlash returns the smallest flash amount up to limit that the
// planner predicts to be profitable, assuming profitability does not flip
// back below limit.
func (o *Orchestrator) MinProfitableFlash(ctx chain.Context, limit *big.Int) (*big.Int, error) {
	top, err := o.Plan(ctx, limit)
	if err != nil {
		return nil, err
	}
	if !top.Profitable {
		return nil, errorsmod.Wrapf(types.ErrUnprofitableAttack, "no profitable flash amount up to %s: %s", limit, top.Reason)
	}

	lo, hi := new(big.Int), new(big.Int).Set(limit)
	one := big.NewInt(1)
	for new(big.Int).Sub(hi, lo).Cmp(one) > 0 {
		mid := new(big.Int).Add(lo, hi)
		mid.Rsh(mid, 1)
		plan, err := o.Plan(ctx, mid)
		if err != nil {
			return nil, err
		}
		if plan.Profitable {
			hi = mid
		} else {
			lo = mid
		}
	}
	return hi, nil
}
