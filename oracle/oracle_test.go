package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/pricelab/chain"
	"github.com/michaelpento.lv/pricelab/types"
	"github.com/michaelpento.lv/pricelab/utils/metrics"
)

const (
	twapKey chain.StoreKey = "oracle/twap"
	aggKey  chain.StoreKey = "oracle/aggregator"
)

var (
	owner   = common.HexToAddress("0x0e")
	updater = common.HexToAddress("0x0d")
	someone = common.HexToAddress("0x5e")

	genesisTime = time.Unix(1_700_000_000, 0)
)

// fixedSource implements PriceSource for testing
type fixedSource struct {
	name  string
	price *big.Int
	err   error
}

func (f *fixedSource) GetPrice(chain.Context) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return new(big.Int).Set(f.price), nil
}

func (f *fixedSource) Name() string { return f.name }

// milli returns n/1000 scaled by 1e18.
func milli(n int64) *big.Int {
	v := new(big.Int).Mul(big.NewInt(n), types.Scale)
	return v.Quo(v, big.NewInt(1000))
}

type testbed struct {
	chain   *chain.Chain
	clock   *chain.ManualClock
	metrics *metrics.Set
}

func newTestbed(t *testing.T) *testbed {
	clock := chain.NewManualClock(genesisTime)
	m := metrics.Discard()
	c := chain.New(clock, zaptest.NewLogger(t), m.Chain)
	require.NoError(t, c.Mount(twapKey, NewTWAPStore()))
	require.NoError(t, c.Mount(aggKey, NewAggregatorStore()))
	return &testbed{chain: c, clock: clock, metrics: m}
}

func (tb *testbed) exec(fn chain.Unit) error {
	return tb.chain.Execute(context.Background(), "test", fn)
}

func (tb *testbed) query(t *testing.T, fn chain.Unit) {
	require.NoError(t, tb.chain.Query(context.Background(), fn))
}

var errFeedDown = errors.New("feed down")
