package oracle

import (
	"math/big"

	"github.com/michaelpento.lv/pricelab/chain"
	"github.com/michaelpento.lv/pricelab/dex"
)

// PriceSource quotes the price of B denominated in A, scaled by 1e18.
type PriceSource interface {
	GetPrice(ctx chain.Context) (*big.Int, error)
	Name() string
}

// SpotSource reads a pool's instantaneous spot price.
type SpotSource struct {
	pool dex.Pool
}

var _ PriceSource = (*SpotSource)(nil)

func NewSpotSource(pool dex.Pool) *SpotSource {
	return &SpotSource{pool: pool}
}

func (s *SpotSource) GetPrice(ctx chain.Context) (*big.Int, error) {
	return s.pool.GetSpotPrice(ctx)
}

func (s *SpotSource) Name() string {
	return "spot/" + s.pool.Name()
}
