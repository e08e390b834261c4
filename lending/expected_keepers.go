package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/pricelab/chain"
	"github.com/michaelpento.lv/pricelab/types"
)

// PriceSource quotes the collateral asset denominated in the debt asset,
// scaled by 1e18.
type PriceSource interface {
	GetPrice(ctx chain.Context) (*big.Int, error)
	Name() string
}

// Ledger is the subset of the balance ledger the market depends on.
type Ledger interface {
	BalanceOf(ctx chain.Context, account common.Address, asset types.Asset) *big.Int
	Transfer(ctx chain.Context, from, to common.Address, asset types.Asset, amount *big.Int) error
	Pull(ctx chain.Context, owner, spender common.Address, asset types.Asset, amount *big.Int) error
}
