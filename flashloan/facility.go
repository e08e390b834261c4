package flashloan

import (
	"encoding/binary"
	"math/big"

	errorsmod "cosmossdk.io/errors"
	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/pricelab/chain"
	"github.com/michaelpento.lv/pricelab/types"
	mathutil "github.com/michaelpento.lv/pricelab/utils/math"
	"github.com/michaelpento.lv/pricelab/utils/metrics"
)

type store struct {
	stats Stats
}

func NewStore() chain.Store {
	return &store{stats: Stats{Volume: new(big.Int), Fees: new(big.Int)}}
}

func (s *store) Clone() chain.Store {
	return &store{stats: Stats{
		Loans:  s.stats.Loans,
		Volume: new(big.Int).Set(s.stats.Volume),
		Fees:   new(big.Int).Set(s.stats.Fees),
	}}
}

func (s *store) Fingerprint(h *xxhash.Digest) {
	var buf [32]byte
	binary.BigEndian.PutUint64(buf[:8], s.stats.Loans)
	_, _ = h.Write(buf[:8])
	_, _ = h.Write(s.stats.Volume.FillBytes(buf[:]))
	_, _ = h.Write(s.stats.Fees.FillBytes(buf[:]))
}

// Facility lends its own balance of asset A for the duration of one call.
// The loan, the borrower callback and the repayment run on a branch of the
// state that reaches the caller only if the facility ends up holding at
// least its starting balance plus the fee.
type Facility struct {
	config  ProviderConfig
	key     chain.StoreKey
	addr    common.Address
	ledger  Ledger
	metrics *metrics.FlashLoanMetrics
}

var _ Provider = (*Facility)(nil)

func NewFacility(key chain.StoreKey, config ProviderConfig, ledger Ledger, m *metrics.FlashLoanMetrics) *Facility {
	if config.Name == "" {
		config.Name = "facility"
	}
	return &Facility{
		config:  config,
		key:     key,
		addr:    types.ModuleAddress("flashloan/" + config.Name),
		ledger:  ledger,
		metrics: m,
	}
}

func (f *Facility) String() string          { return f.config.Name }
func (f *Facility) Address() common.Address { return f.addr }
func (f *Facility) FeeBps() uint64          { return f.config.FeeBps }

func (f *Facility) store(ctx chain.Context) *store {
	return ctx.Store(f.key).(*store)
}

// GetFlashLoanFee returns amount * feeBps / 10000.
func (f *Facility) GetFlashLoanFee(_ chain.Context, amount *big.Int) *big.Int {
	return mathutil.ApplyBps(amount, f.config.FeeBps)
}

// GetLiquidity is the facility's balance of the loan asset.
func (f *Facility) GetLiquidity(ctx chain.Context) *big.Int {
	return f.ledger.BalanceOf(ctx, f.addr, LoanAsset)
}

// PoolBalance is an alias of GetLiquidity.
func (f *Facility) PoolBalance(ctx chain.Context) *big.Int {
	return f.GetLiquidity(ctx)
}

func (f *Facility) Stats(ctx chain.Context) Stats {
	return f.store(ctx).Clone().(*store).stats
}

// Fund pulls amount of the loan asset from funder.
func (f *Facility) Fund(ctx chain.Context, funder common.Address, amount *big.Int) error {
	if !mathutil.IsPositive(amount) {
		return errorsmod.Wrap(types.ErrInvalidAmount, "funding must be positive")
	}
	return f.ledger.Pull(ctx, funder, f.addr, LoanAsset, amount)
}

// FlashLoan lends amount to borrower and invokes its callback with data.
func (f *Facility) FlashLoan(ctx chain.Context, borrower Borrower, amount *big.Int, data []byte) error {
	return f.ExecuteFlashLoan(ctx, FlashLoanParams{Borrower: borrower, Amount: amount, Data: data})
}

func (f *Facility) ExecuteFlashLoan(ctx chain.Context, params FlashLoanParams) error {
	if params.Borrower == nil {
		return errorsmod.Wrap(types.ErrInvalidAmount, "flash loan needs a borrower")
	}
	if !mathutil.IsPositive(params.Amount) {
		return errorsmod.Wrap(types.ErrInvalidAmount, "flash loan amount must be positive")
	}

	preBalance := f.GetLiquidity(ctx)
	if params.Amount.Cmp(preBalance) > 0 {
		f.fail("liquidity")
		return errorsmod.Wrapf(types.ErrInsufficientLiquidity,
			"%s holds %s, requested %s", f.config.Name, preBalance, params.Amount)
	}
	fee := f.GetFlashLoanFee(ctx, params.Amount)
	target := params.Borrower.Address()

	cacheCtx, write := ctx.CacheContext()
	if err := f.ledger.Transfer(cacheCtx, f.addr, target, LoanAsset, params.Amount); err != nil {
		return err
	}
	if err := params.Borrower.OnFlashLoan(cacheCtx, f.addr, new(big.Int).Set(params.Amount), new(big.Int).Set(fee), params.Data); err != nil {
		f.fail("callback")
		return err
	}

	owed := new(big.Int).Add(preBalance, fee)
	if post := f.GetLiquidity(cacheCtx); post.Cmp(owed) < 0 {
		f.fail("not_repaid")
		return errorsmod.Wrapf(types.ErrFlashLoanNotRepaid,
			"%s balance %s after callback, owed %s", f.config.Name, post, owed)
	}

	s := f.store(cacheCtx)
	s.stats.Loans++
	s.stats.Volume.Add(s.stats.Volume, params.Amount)
	s.stats.Fees.Add(s.stats.Fees, fee)
	write()

	ctx.OnCommit(func() {
		if f.metrics != nil {
			f.metrics.Loans.Inc()
			f.metrics.Volume.Add(metrics.Units(params.Amount))
			f.metrics.Fees.Add(metrics.Units(fee))
		}
		ctx.Logger().Info("Flash loan repaid",
			zap.String("provider", f.config.Name),
			zap.String("borrower", target.Hex()),
			zap.String("amount", params.Amount.String()),
			zap.String("fee", fee.String()))
	})
	return nil
}

func (f *Facility) fail(reason string) {
	if f.metrics != nil {
		f.metrics.Failures.WithLabelValues(reason).Inc()
	}
}
