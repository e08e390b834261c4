package amm

import (
	"math/big"

	"github.com/michaelpento.lv/pricelab/types"
)

// GetAmountOut returns floor(amountIn' * reserveOut / (reserveIn + amountIn'))
// where amountIn' is amountIn net of feeBps. With a zero fee this equals
// reserveOut - reserveIn*reserveOut/(reserveIn+amountIn) whenever the
// division is exact, and never lets reserveA*reserveB decrease.
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint64) *big.Int {
	if amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return big.NewInt(0)
	}

	amountInWithFee := new(big.Int).Mul(amountIn, new(big.Int).SetUint64(types.BpsDenominator-feeBps))
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Add(new(big.Int).Mul(reserveIn, types.Bps), amountInWithFee)

	return numerator.Quo(numerator, denominator)
}

// GetAmountIn returns the smallest input that yields at least amountOut, or
// nil when amountOut cannot be reached.
func GetAmountIn(amountOut, reserveIn, reserveOut *big.Int, feeBps uint64) *big.Int {
	if amountOut.Sign() <= 0 || reserveIn.Sign() <= 0 || amountOut.Cmp(reserveOut) >= 0 {
		return nil
	}

	numerator := new(big.Int).Mul(new(big.Int).Mul(reserveIn, amountOut), types.Bps)
	denominator := new(big.Int).Mul(
		new(big.Int).Sub(reserveOut, amountOut),
		new(big.Int).SetUint64(types.BpsDenominator-feeBps),
	)

	amountIn := numerator.Quo(numerator, denominator)
	return amountIn.Add(amountIn, big.NewInt(1))
}

// SpotPrice returns reserveA * 1e18 / reserveB, the price of one B in A.
func SpotPrice(reserveA, reserveB *big.Int) *big.Int {
	n := new(big.Int).Mul(reserveA, types.Scale)
	return n.Quo(n, reserveB)
}
