package manipulation

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/pricelab/chain"
	"github.com/michaelpento.lv/pricelab/types"
)

// Ledger is the subset of the balance ledger the orchestrator depends on.
type Ledger interface {
	BalanceOf(ctx chain.Context, account common.Address, asset types.Asset) *big.Int
	Transfer(ctx chain.Context, from, to common.Address, asset types.Asset, amount *big.Int) error
	Approve(ctx chain.Context, owner, spender common.Address, asset types.Asset, amount *big.Int) error
}

// Market is the lending market under attack. Collateral is asset B, debt
// is asset A.
type Market interface {
	Address() common.Address
	Market() string
	LTVBps() uint64
	PoolBalance(ctx chain.Context) *big.Int
	CollateralOf(ctx chain.Context, account common.Address) *big.Int
	DebtOf(ctx chain.Context, account common.Address) *big.Int
	DepositCollateral(ctx chain.Context, account common.Address, amount *big.Int) error
	Borrow(ctx chain.Context, account common.Address, amount *big.Int) error
}
