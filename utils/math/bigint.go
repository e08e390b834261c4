package math

import (
	"math/big"

	"github.com/michaelpento.lv/pricelab/types"
)

// MulDiv returns floor(x * y / d). d must be non-zero.
func MulDiv(x, y, d *big.Int) *big.Int {
	n := new(big.Int).Mul(x, y)
	return n.Quo(n, d)
}

// MulDivUp returns ceil(x * y / d) for non-negative operands.
func MulDivUp(x, y, d *big.Int) *big.Int {
	n := new(big.Int).Mul(x, y)
	q, r := new(big.Int).QuoRem(n, d, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// MulScale returns floor(amount * price / Scale), the value of amount units
// quoted at a Scale-denominated price.
func MulScale(amount, price *big.Int) *big.Int {
	return MulDiv(amount, price, types.Scale)
}

// DivScale returns floor(x * Scale / y), a Scale-denominated ratio.
func DivScale(x, y *big.Int) *big.Int {
	return MulDiv(x, types.Scale, y)
}

// ApplyBps returns floor(x * bps / 10000).
func ApplyBps(x *big.Int, bps uint64) *big.Int {
	return MulDiv(x, new(big.Int).SetUint64(bps), types.Bps)
}

// RatioBps returns floor(part * 10000 / whole), or zero when whole is zero.
func RatioBps(part, whole *big.Int) *big.Int {
	if whole.Sign() == 0 {
		return new(big.Int)
	}
	return MulDiv(part, types.Bps, whole)
}

// DeviationBps returns |x - ref| * 10000 / ref. ref must be positive.
func DeviationBps(x, ref *big.Int) *big.Int {
	diff := new(big.Int).Sub(x, ref)
	diff.Abs(diff)
	return MulDiv(diff, types.Bps, ref)
}

// Min returns a copy of the smaller of x and y.
func Min(x, y *big.Int) *big.Int {
	if x.Cmp(y) <= 0 {
		return new(big.Int).Set(x)
	}
	return new(big.Int).Set(y)
}

// Max returns a copy of the larger of x and y.
func Max(x, y *big.Int) *big.Int {
	if x.Cmp(y) >= 0 {
		return new(big.Int).Set(x)
	}
	return new(big.Int).Set(y)
}

// SubFloor returns max(x - y, 0).
func SubFloor(x, y *big.Int) *big.Int {
	d := new(big.Int).Sub(x, y)
	if d.Sign() < 0 {
		return d.SetInt64(0)
	}
	return d
}

// IsPositive reports whether x is non-nil and greater than zero.
func IsPositive(x *big.Int) bool {
	return x != nil && x.Sign() > 0
}
