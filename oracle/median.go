package oracle

import (
	"math/big"
	"sort"
)

// median returns the middle price, averaging the two central prices of an
// even-sized set. prices must not be empty.
func median(prices []*big.Int) *big.Int {
	sorted := make([]*big.Int, len(prices))
	copy(sorted, prices)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Cmp(sorted[j]) < 0
	})

	n := len(sorted)
	if n%2 == 0 {
		sum := new(big.Int).Add(sorted[n/2-1], sorted[n/2])
		return sum.Quo(sum, big.NewInt(2))
	}
	return new(big.Int).Set(sorted[n/2])
}
