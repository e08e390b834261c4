package lending

import (
	"math/big"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/pricelab/chain"
	"github.com/michaelpento.lv/pricelab/types"
	mathutil "github.com/michaelpento.lv/pricelab/utils/math"
	"github.com/michaelpento.lv/pricelab/utils/metrics"
)

// Params configures one lending market.
type Params struct {
	// Market labels the instance, e.g. "vulnerable" or "protected"
	Market string
	// LTVBps caps debt at this share of collateral value at borrow time
	LTVBps uint64
	// Operator alone may fund the pool
	Operator common.Address
	// EnforceWithdrawSolvency re-checks the LTV when collateral leaves.
	// Off in the vulnerable market: withdrawal is deliberately unchecked.
	EnforceWithdrawSolvency bool
}

// Keeper is a lending market holding asset B as collateral against debt in
// asset A. Borrowing capacity is read from a single PriceSource at the
// moment of borrow and never re-checked afterwards.
type Keeper struct {
	key     chain.StoreKey
	params  Params
	addr    common.Address
	ledger  Ledger
	price   PriceSource
	metrics *metrics.LendingMetrics
}

func NewKeeper(key chain.StoreKey, params Params, ledger Ledger, price PriceSource, m *metrics.LendingMetrics) *Keeper {
	return &Keeper{
		key:     key,
		params:  params,
		addr:    types.ModuleAddress("lending/" + params.Market),
		ledger:  ledger,
		price:   price,
		metrics: m,
	}
}

const (
	CollateralAsset = types.AssetB
	DebtAsset       = types.AssetA
)

func (k *Keeper) store(ctx chain.Context) *store {
	return ctx.Store(k.key).(*store)
}

func (k *Keeper) Address() common.Address  { return k.addr }
func (k *Keeper) Market() string           { return k.params.Market }
func (k *Keeper) LTVBps() uint64           { return k.params.LTVBps }
func (k *Keeper) PriceSource() PriceSource { return k.price }
func (k *Keeper) Params() Params           { return k.params }

func (k *Keeper) CollateralOf(ctx chain.Context, account common.Address) *big.Int {
	return new(big.Int).Set(k.store(ctx).get(account).Collateral)
}

func (k *Keeper) DebtOf(ctx chain.Context, account common.Address) *big.Int {
	return new(big.Int).Set(k.store(ctx).get(account).Debt)
}

// PoolBalance is the debt asset available to borrowers.
func (k *Keeper) PoolBalance(ctx chain.Context) *big.Int {
	return k.ledger.BalanceOf(ctx, k.addr, DebtAsset)
}

// CollateralValue is collateral * price / 1e18 at the current source price.
func (k *Keeper) CollateralValue(ctx chain.Context, account common.Address) (*big.Int, error) {
	price, err := k.price.GetPrice(ctx)
	if err != nil {
		return nil, err
	}
	return mathutil.MulScale(k.store(ctx).get(account).Collateral, price), nil
}

// MaxBorrow is the total debt account may hold at the current source price.
func (k *Keeper) MaxBorrow(ctx chain.Context, account common.Address) (*big.Int, error) {
	value, err := k.CollateralValue(ctx, account)
	if err != nil {
		return nil, err
	}
	return mathutil.ApplyBps(value, k.params.LTVBps), nil
}

func (k *Keeper) DepositCollateral(ctx chain.Context, account common.Address, amount *big.Int) error {
	if !mathutil.IsPositive(amount) {
		return errorsmod.Wrap(types.ErrInvalidAmount, "collateral must be positive")
	}
	if err := k.ledger.Pull(ctx, account, k.addr, CollateralAsset, amount); err != nil {
		return err
	}

	s := k.store(ctx)
	p := s.get(account).clone()
	p.Collateral.Add(p.Collateral, amount)
	s.set(account, p)

	ctx.OnCommit(func() {
		if k.metrics != nil {
			k.metrics.Deposits.WithLabelValues(k.params.Market).Inc()
		}
	})
	return nil
}

// Borrow lends amount of A against account's collateral. The price is read
// once, uncached, from the configured source.
func (k *Keeper) Borrow(ctx chain.Context, account common.Address, amount *big.Int) error {
	if !mathutil.IsPositive(amount) {
		return errorsmod.Wrap(types.ErrInvalidAmount, "borrow must be positive")
	}

	price, err := k.price.GetPrice(ctx)
	if err != nil {
		return errorsmod.Wrapf(err, "%s market price from %s", k.params.Market, k.price.Name())
	}

	s := k.store(ctx)
	p := s.get(account).clone()
	collateralValue := mathutil.MulScale(p.Collateral, price)
	maxBorrow := mathutil.ApplyBps(collateralValue, k.params.LTVBps)
	available := mathutil.SubFloor(maxBorrow, p.Debt)

	if amount.Cmp(available) > 0 {
		if k.metrics != nil {
			k.metrics.BorrowRejections.WithLabelValues(k.params.Market).Inc()
		}
		return errorsmod.Wrapf(types.ErrExceedsBorrowLimit,
			"%s market: requested %s, available %s (collateral value %s at price %s)",
			k.params.Market, amount, available, collateralValue, price)
	}

	if liquidity := k.PoolBalance(ctx); amount.Cmp(liquidity) > 0 {
		return errorsmod.Wrapf(types.ErrInsufficientLiquidity,
			"%s market: requested %s, pool holds %s", k.params.Market, amount, liquidity)
	}

	p.Debt.Add(p.Debt, amount)
	s.set(account, p)
	if err := k.ledger.Transfer(ctx, k.addr, account, DebtAsset, amount); err != nil {
		return err
	}

	ctx.OnCommit(func() {
		if k.metrics != nil {
			k.metrics.Borrows.WithLabelValues(k.params.Market).Inc()
		}
		ctx.Logger().Info("Borrow",
			zap.String("market", k.params.Market),
			zap.String("account", account.Hex()),
			zap.String("amount", amount.String()),
			zap.String("price", price.String()))
	})
	return nil
}

// Repay reduces account's debt. Paying more than is owed is rejected.
func (k *Keeper) Repay(ctx chain.Context, account common.Address, amount *big.Int) error {
	if !mathutil.IsPositive(amount) {
		return errorsmod.Wrap(types.ErrInvalidAmount, "repayment must be positive")
	}

	s := k.store(ctx)
	p := s.get(account).clone()
	if amount.Cmp(p.Debt) > 0 {
		return errorsmod.Wrapf(types.ErrOverRepayment, "repaying %s of %s owed", amount, p.Debt)
	}
	if err := k.ledger.Pull(ctx, account, k.addr, DebtAsset, amount); err != nil {
		return err
	}
	p.Debt.Sub(p.Debt, amount)
	s.set(account, p)

	ctx.OnCommit(func() {
		if k.metrics != nil {
			k.metrics.Repayments.WithLabelValues(k.params.Market).Inc()
		}
	})
	return nil
}

// WithdrawCollateral returns collateral to account. Solvency is checked only
// when the market enforces it.
func (k *Keeper) WithdrawCollateral(ctx chain.Context, account common.Address, amount *big.Int) error {
	if !mathutil.IsPositive(amount) {
		return errorsmod.Wrap(types.ErrInvalidAmount, "withdrawal must be positive")
	}

	s := k.store(ctx)
	p := s.get(account).clone()
	if amount.Cmp(p.Collateral) > 0 {
		return errorsmod.Wrapf(types.ErrInsufficientBalance, "withdrawing %s of %s collateral", amount, p.Collateral)
	}
	p.Collateral.Sub(p.Collateral, amount)

	if k.params.EnforceWithdrawSolvency && p.Debt.Sign() > 0 {
		price, err := k.price.GetPrice(ctx)
		if err != nil {
			return err
		}
		maxBorrow := mathutil.ApplyBps(mathutil.MulScale(p.Collateral, price), k.params.LTVBps)
		if p.Debt.Cmp(maxBorrow) > 0 {
			return errorsmod.Wrapf(types.ErrExceedsBorrowLimit,
				"withdrawal leaves debt %s above limit %s", p.Debt, maxBorrow)
		}
	}

	s.set(account, p)
	return k.ledger.Transfer(ctx, k.addr, account, CollateralAsset, amount)
}

// FundPool adds lendable liquidity. Operator only.
func (k *Keeper) FundPool(ctx chain.Context, caller common.Address, amount *big.Int) error {
	if caller != k.params.Operator {
		return errorsmod.Wrapf(types.ErrUnauthorized, "%s is not the %s market operator", caller.Hex(), k.params.Market)
	}
	if !mathutil.IsPositive(amount) {
		return errorsmod.Wrap(types.ErrInvalidAmount, "funding must be positive")
	}
	return k.ledger.Pull(ctx, caller, k.addr, DebtAsset, amount)
}
