package flashloan

import (
	"math/big"

	"github.com/michaelpento.lv/pricelab/types"
)

// LoanAsset is the only asset flash loans are issued in.
const LoanAsset = types.AssetA

// ProviderConfig contains configuration for flash loan providers
type ProviderConfig struct {
	Name   string
	FeeBps uint64 // In basis points (1 = 0.01%)
}

// FlashLoanParams contains parameters for executing a flash loan
type FlashLoanParams struct {
	Borrower Borrower // Receives the principal and the callback
	Amount   *big.Int // Amount of LoanAsset to borrow
	Data     []byte   // Opaque payload handed to the borrower
}

// Stats accumulates committed loans.
type Stats struct {
	Loans  uint64   `json:"loans"`
	Volume *big.Int `json:"volume"`
	Fees   *big.Int `json:"fees"`
}
