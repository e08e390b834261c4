package dex

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/pricelab/chain"
	"github.com/michaelpento.lv/pricelab/types"
)

// Pool is a two-asset constant-product market.
type Pool interface {
	// Name returns the pool label, e.g. "primary"
	Name() string

	// Address is the account holding the pool's reserves
	Address() common.Address

	// GetReserves returns both reserves and the height of their last update
	GetReserves(ctx chain.Context) Reserves

	// GetSpotPrice returns the price of B denominated in A, scaled by 1e18
	GetSpotPrice(ctx chain.Context) (*big.Int, error)

	// GetAmountOut quotes a swap of amountIn of assetIn without executing it
	GetAmountOut(ctx chain.Context, assetIn types.Asset, amountIn *big.Int) (*big.Int, error)

	// GetAmountIn quotes the input needed to receive amountOut of assetOut
	GetAmountIn(ctx chain.Context, assetOut types.Asset, amountOut *big.Int) (*big.Int, error)

	SwapAForB(ctx chain.Context, trader common.Address, amountIn *big.Int) (*big.Int, error)
	SwapBForA(ctx chain.Context, trader common.Address, amountIn *big.Int) (*big.Int, error)
	AddLiquidity(ctx chain.Context, provider common.Address, amountA, amountB *big.Int) error
}

// Ledger is the subset of the balance ledger pools depend on.
type Ledger interface {
	BalanceOf(ctx chain.Context, account common.Address, asset types.Asset) *big.Int
	Transfer(ctx chain.Context, from, to common.Address, asset types.Asset, amount *big.Int) error
	Pull(ctx chain.Context, owner, spender common.Address, asset types.Asset, amount *big.Int) error
}

// Reserves represents pool reserves
type Reserves struct {
	ReserveA    *big.Int `json:"reserveA"`
	ReserveB    *big.Int `json:"reserveB"`
	BlockNumber uint64   `json:"blockNumber"`
}

// Reserve returns the reserve of asset.
func (r Reserves) Reserve(asset types.Asset) *big.Int {
	if asset == types.AssetA {
		return r.ReserveA
	}
	return r.ReserveB
}

// K returns reserveA * reserveB.
func (r Reserves) K() *big.Int {
	return new(big.Int).Mul(r.ReserveA, r.ReserveB)
}
