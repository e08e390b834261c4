package types

import (
	"errors"

	errorsmod "cosmossdk.io/errors"
)

// Codespace namespaces every registered error of the testbed.
const Codespace = "pricelab"

// Engine error taxonomy. Any of these raised inside an atomic unit discards
// the unit; callers match kinds with errors.Is.
var (
	ErrInsufficientLiquidity     = errorsmod.Register(Codespace, 2, "insufficient liquidity")
	ErrInsufficientApproval      = errorsmod.Register(Codespace, 3, "insufficient approval")
	ErrExceedsBorrowLimit        = errorsmod.Register(Codespace, 4, "exceeds borrow limit")
	ErrOverRepayment             = errorsmod.Register(Codespace, 5, "repayment exceeds outstanding debt")
	ErrFlashLoanNotRepaid        = errorsmod.Register(Codespace, 6, "flash loan not repaid")
	ErrUnprofitableAttack        = errorsmod.Register(Codespace, 7, "unprofitable attack")
	ErrRateLimited               = errorsmod.Register(Codespace, 8, "price update rate limited")
	ErrInsufficientHistory       = errorsmod.Register(Codespace, 9, "insufficient price history")
	ErrInsufficientOracleSources = errorsmod.Register(Codespace, 10, "insufficient oracle sources")
	ErrOutlierThresholdExceeded  = errorsmod.Register(Codespace, 11, "outlier threshold exceeded")
	ErrUninitialized             = errorsmod.Register(Codespace, 12, "uninitialized")

	// ledger and plumbing
	ErrInsufficientBalance = errorsmod.Register(Codespace, 20, "insufficient balance")
	ErrInvalidAmount       = errorsmod.Register(Codespace, 21, "invalid amount")
	ErrUnauthorized        = errorsmod.Register(Codespace, 22, "unauthorized")
	ErrUnknownSource       = errorsmod.Register(Codespace, 23, "unknown price source")
	ErrOverflow            = errorsmod.Register(Codespace, 24, "u256 overflow")
	ErrInvalidConfig       = errorsmod.Register(Codespace, 25, "invalid configuration")
)

var kinds = []struct {
	err  *errorsmod.Error
	name string
}{
	{ErrInsufficientLiquidity, "insufficient_liquidity"},
	{ErrInsufficientApproval, "insufficient_approval"},
	{ErrExceedsBorrowLimit, "exceeds_borrow_limit"},
	{ErrOverRepayment, "over_repayment"},
	{ErrFlashLoanNotRepaid, "flash_loan_not_repaid"},
	{ErrUnprofitableAttack, "unprofitable_attack"},
	{ErrRateLimited, "rate_limited"},
	{ErrInsufficientHistory, "insufficient_history"},
	{ErrInsufficientOracleSources, "insufficient_oracle_sources"},
	{ErrOutlierThresholdExceeded, "outlier_threshold_exceeded"},
	{ErrUninitialized, "uninitialized"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrUnauthorized, "unauthorized"},
	{ErrUnknownSource, "unknown_source"},
	{ErrOverflow, "overflow"},
	{ErrInvalidConfig, "invalid_config"},
}

// Kind names the registered error err wraps, for metric labels and API
// bodies. Unregistered errors are "internal".
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}
