package flashloan

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/pricelab/chain"
	"github.com/michaelpento.lv/pricelab/types"
)

// Provider defines the interface for flash loan providers
type Provider interface {
	ExecuteFlashLoan(ctx chain.Context, params FlashLoanParams) error
	GetFlashLoanFee(ctx chain.Context, amount *big.Int) *big.Int
	GetLiquidity(ctx chain.Context) *big.Int
	String() string
}

// Borrower receives the principal and must send amount+fee back to lender
// before OnFlashLoan returns. It runs inside the lender's atomic branch.
type Borrower interface {
	Address() common.Address
	OnFlashLoan(ctx chain.Context, lender common.Address, amount, fee *big.Int, data []byte) error
}

// Ledger is the subset of the balance ledger providers depend on.
type Ledger interface {
	BalanceOf(ctx chain.Context, account common.Address, asset types.Asset) *big.Int
	Transfer(ctx chain.Context, from, to common.Address, asset types.Asset, amount *big.Int) error
	Pull(ctx chain.Context, owner, spender common.Address, asset types.Asset, amount *big.Int) error
}
