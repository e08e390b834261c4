package ledger

import (
	"math/big"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/pricelab/chain"
	"github.com/michaelpento.lv/pricelab/types"
)

const StoreKey chain.StoreKey = "ledger"

// MaxAllowance is an approval that Pull never decrements.
var MaxAllowance = new(uint256.Int).SetAllOne().ToBig()

// Keeper is the balance ledger for assets A and B. Every balance, allowance
// and supply fits in 256 bits and is never negative.
type Keeper struct {
	key chain.StoreKey
}

func NewKeeper(key chain.StoreKey) Keeper {
	return Keeper{key: key}
}

func (k Keeper) store(ctx chain.Context) *store {
	return ctx.Store(k.key).(*store)
}

func toU256(amount *big.Int, allowZero bool) (*uint256.Int, error) {
	if amount == nil || amount.Sign() < 0 || (!allowZero && amount.Sign() == 0) {
		return nil, errorsmod.Wrapf(types.ErrInvalidAmount, "amount %v", amount)
	}
	v, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, errorsmod.Wrapf(types.ErrOverflow, "amount %s", amount)
	}
	return v, nil
}

func checkAsset(asset types.Asset) error {
	if !asset.Valid() {
		return errorsmod.Wrapf(types.ErrInvalidAmount, "unknown asset %s", asset)
	}
	return nil
}

func (k Keeper) BalanceOf(ctx chain.Context, account common.Address, asset types.Asset) *big.Int {
	return k.store(ctx).balance(account, asset).ToBig()
}

func (k Keeper) Allowance(ctx chain.Context, owner, spender common.Address, asset types.Asset) *big.Int {
	return k.store(ctx).allowance(owner, spender, asset).ToBig()
}

func (k Keeper) TotalSupply(ctx chain.Context, asset types.Asset) *big.Int {
	if !asset.Valid() {
		return new(big.Int)
	}
	return k.store(ctx).supply[asset].ToBig()
}

// Mint creates new units. Only genesis seeding calls it.
func (k Keeper) Mint(ctx chain.Context, to common.Address, asset types.Asset, amount *big.Int) error {
	if err := checkAsset(asset); err != nil {
		return err
	}
	v, err := toU256(amount, false)
	if err != nil {
		return err
	}
	s := k.store(ctx)
	supply, overflow := new(uint256.Int).AddOverflow(s.supply[asset], v)
	if overflow {
		return errorsmod.Wrapf(types.ErrOverflow, "supply of %s", asset)
	}
	bal, overflow := new(uint256.Int).AddOverflow(s.balance(to, asset), v)
	if overflow {
		return errorsmod.Wrapf(types.ErrOverflow, "balance of %s", to.Hex())
	}
	s.supply[asset] = supply
	s.setBalance(to, asset, bal)

	ctx.Logger().Debug("Minted",
		zap.String("to", to.Hex()),
		zap.Stringer("asset", asset),
		zap.String("amount", amount.String()))
	return nil
}

// Transfer moves amount from one account to another or fails without effect.
func (k Keeper) Transfer(ctx chain.Context, from, to common.Address, asset types.Asset, amount *big.Int) error {
	if err := checkAsset(asset); err != nil {
		return err
	}
	v, err := toU256(amount, false)
	if err != nil {
		return err
	}
	return k.move(k.store(ctx), from, to, asset, v)
}

func (k Keeper) move(s *store, from, to common.Address, asset types.Asset, v *uint256.Int) error {
	fromBal := s.balance(from, asset)
	if fromBal.Lt(v) {
		return errorsmod.Wrapf(types.ErrInsufficientBalance,
			"%s has %s %s, needs %s", from.Hex(), fromBal.Dec(), asset, v.Dec())
	}
	if from == to {
		return nil
	}
	toBal, overflow := new(uint256.Int).AddOverflow(s.balance(to, asset), v)
	if overflow {
		return errorsmod.Wrapf(types.ErrOverflow, "balance of %s", to.Hex())
	}
	s.setBalance(from, asset, new(uint256.Int).Sub(fromBal, v))
	s.setBalance(to, asset, toBal)
	return nil
}

// Approve sets the amount spender may Pull from owner. Zero revokes.
func (k Keeper) Approve(ctx chain.Context, owner, spender common.Address, asset types.Asset, amount *big.Int) error {
	if err := checkAsset(asset); err != nil {
		return err
	}
	v, err := toU256(amount, true)
	if err != nil {
		return err
	}
	k.store(ctx).setAllowance(owner, spender, asset, v)
	return nil
}

// Pull moves amount from owner to spender against owner's approval.
func (k Keeper) Pull(ctx chain.Context, owner, spender common.Address, asset types.Asset, amount *big.Int) error {
	if err := checkAsset(asset); err != nil {
		return err
	}
	v, err := toU256(amount, false)
	if err != nil {
		return err
	}
	s := k.store(ctx)
	allowed := s.allowance(owner, spender, asset)
	if allowed.Lt(v) {
		return errorsmod.Wrapf(types.ErrInsufficientApproval,
			"%s approved %s %s to %s, needs %s", owner.Hex(), allowed.Dec(), asset, spender.Hex(), v.Dec())
	}
	if err := k.move(s, owner, spender, asset, v); err != nil {
		return err
	}
	if !allowed.Eq(maxU256) {
		s.setAllowance(owner, spender, asset, new(uint256.Int).Sub(allowed, v))
	}
	return nil
}

var maxU256 = new(uint256.Int).SetAllOne()
