package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Decimals is the fixed-point precision shared by every monetary quantity.
const Decimals = 18

// BpsDenominator is 100% expressed in basis points.
const BpsDenominator = 10000

var (
	// Scale is 10^Decimals. Prices are quoted as amount * Scale.
	Scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

	// Bps is BpsDenominator as a *big.Int.
	Bps = big.NewInt(BpsDenominator)
)

// Asset identifies one of the two fungible assets in the testbed.
type Asset uint8

const (
	AssetA Asset = iota
	AssetB
)

func (a Asset) String() string {
	switch a {
	case AssetA:
		return "A"
	case AssetB:
		return "B"
	default:
		return fmt.Sprintf("Asset(%d)", uint8(a))
	}
}

// Other returns the opposite side of the pair.
func (a Asset) Other() Asset {
	if a == AssetA {
		return AssetB
	}
	return AssetA
}

// Valid reports whether a names a known asset.
func (a Asset) Valid() bool {
	return a == AssetA || a == AssetB
}

// ParseAsset accepts "A"/"a" or "B"/"b".
func ParseAsset(s string) (Asset, error) {
	switch s {
	case "A", "a":
		return AssetA, nil
	case "B", "b":
		return AssetB, nil
	}
	return 0, fmt.Errorf("unknown asset %q", s)
}

// ModuleAddress derives the account address a component holds funds under.
func ModuleAddress(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("pricelab/module/" + name))[12:])
}

// Clone returns an independent copy of x, treating nil as zero.
func Clone(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}
