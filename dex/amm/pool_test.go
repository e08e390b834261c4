package amm

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/michaelpento.lv/pricelab/chain"
	"github.com/michaelpento.lv/pricelab/dex"
	"github.com/michaelpento.lv/pricelab/ledger"
	"github.com/michaelpento.lv/pricelab/types"
	"github.com/michaelpento.lv/pricelab/utils/metrics"
	"github.com/michaelpento.lv/pricelab/utils/testutils"
)

var trader = common.HexToAddress("0x7ade5")

type testbed struct {
	chain   *chain.Chain
	ledger  ledger.Keeper
	pool    *Pool
	metrics *metrics.AMMMetrics
}

func newTestbed(t testing.TB, reserveA, reserveB, traderA, traderB *big.Int) *testbed {
	c, _ := testutils.NewChain(t, time.Unix(0, 0), map[chain.StoreKey]chain.Store{"amm/primary": NewStore()})

	m := metrics.Discard().AMM
	lk := ledger.NewKeeper(ledger.StoreKey)
	pool := NewPool("primary", "amm/primary", 0, lk, m)
	lp := common.HexToAddress("0x1b")

	testutils.Genesis(t, c, func(ctx chain.Context) error {
		for _, step := range []func() error{
			func() error { return lk.Mint(ctx, lp, types.AssetA, reserveA) },
			func() error { return lk.Mint(ctx, lp, types.AssetB, reserveB) },
			func() error { return lk.Approve(ctx, lp, pool.Address(), types.AssetA, ledger.MaxAllowance) },
			func() error { return lk.Approve(ctx, lp, pool.Address(), types.AssetB, ledger.MaxAllowance) },
			func() error { return pool.AddLiquidity(ctx, lp, reserveA, reserveB) },
			func() error { return mintIfPositive(ctx, lk, trader, types.AssetA, traderA) },
			func() error { return mintIfPositive(ctx, lk, trader, types.AssetB, traderB) },
			func() error { return lk.Approve(ctx, trader, pool.Address(), types.AssetA, ledger.MaxAllowance) },
			func() error { return lk.Approve(ctx, trader, pool.Address(), types.AssetB, ledger.MaxAllowance) },
		} {
			if err := step(); err != nil {
				return err
			}
		}
		return nil
	})
	return &testbed{chain: c, ledger: lk, pool: pool, metrics: m}
}

func mintIfPositive(ctx chain.Context, lk ledger.Keeper, to common.Address, asset types.Asset, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	return lk.Mint(ctx, to, asset, amount)
}

func (tb *testbed) reserves(t testing.TB) dex.Reserves {
	var r dex.Reserves
	require.NoError(t, tb.chain.Query(context.Background(), func(ctx chain.Context) error {
		r = tb.pool.GetReserves(ctx)
		return nil
	}))
	return r
}

func (tb *testbed) price(t testing.TB) *big.Int {
	var p *big.Int
	require.NoError(t, tb.chain.Query(context.Background(), func(ctx chain.Context) error {
		var err error
		p, err = tb.pool.GetSpotPrice(ctx)
		return err
	}))
	return p
}

func TestScenarioSwap(t *testing.T) {
	tb := newTestbed(t, types.Units(1000), types.Units(1500), types.Units(2000), new(big.Int))

	assert.Equal(t, "666666666666666666", tb.price(t).String())

	var out *big.Int
	require.NoError(t, tb.chain.Execute(context.Background(), "swap", func(ctx chain.Context) error {
		var err error
		out, err = tb.pool.SwapAForB(ctx, trader, types.Units(2000))
		return err
	}))

	// 1500 - 1000*1500/3000
	assert.Equal(t, types.Units(1000).String(), out.String())
	r := tb.reserves(t)
	assert.Equal(t, types.Units(3000).String(), r.ReserveA.String())
	assert.Equal(t, types.Units(500).String(), r.ReserveB.String())
	assert.Equal(t, uint64(2), r.BlockNumber)
	assert.Equal(t, types.Units(6).String(), tb.price(t).String())

	assert.Equal(t, float64(1), testutil.ToFloat64(tb.metrics.Swaps.WithLabelValues("primary", "a_to_b")))
	assert.Equal(t, float64(6), testutil.ToFloat64(tb.metrics.SpotPrice.WithLabelValues("primary")))
}

func TestSwapFailures(t *testing.T) {
	tb := newTestbed(t, types.Units(1000), types.Units(1500), types.Units(10), types.Units(10))
	before := tb.chain.Fingerprint()
	stranger := common.HexToAddress("0x5742")

	tests := []struct {
		name    string
		run     func(ctx chain.Context) error
		wantErr error
	}{
		{
			name: "zero input",
			run: func(ctx chain.Context) error {
				_, err := tb.pool.SwapAForB(ctx, trader, new(big.Int))
				return err
			},
			wantErr: types.ErrInvalidAmount,
		},
		{
			name: "dust rounds to zero output",
			run: func(ctx chain.Context) error {
				_, err := tb.pool.SwapBForA(ctx, trader, big.NewInt(1))
				return err
			},
			wantErr: types.ErrInsufficientLiquidity,
		},
		{
			name: "no approval",
			run: func(ctx chain.Context) error {
				_, err := tb.pool.SwapAForB(ctx, stranger, types.Units(1))
				return err
			},
			wantErr: types.ErrInsufficientApproval,
		},
		{
			name: "balance below input",
			run: func(ctx chain.Context) error {
				_, err := tb.pool.SwapAForB(ctx, trader, types.Units(11))
				return err
			},
			wantErr: types.ErrInsufficientBalance,
		},
		{
			name: "liquidity without approval",
			run: func(ctx chain.Context) error {
				return tb.pool.AddLiquidity(ctx, stranger, types.Units(1), types.Units(1))
			},
			wantErr: types.ErrInsufficientApproval,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tb.chain.Execute(context.Background(), "swap", tt.run)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, before, tb.chain.Fingerprint())
		})
	}
}

func TestUninitializedPrice(t *testing.T) {
	c := chain.New(nil, zaptest.NewLogger(t), nil)
	require.NoError(t, c.Mount("amm/empty", NewStore()))
	pool := NewPool("empty", "amm/empty", 0, ledger.NewKeeper(ledger.StoreKey), nil)

	err := c.Query(context.Background(), func(ctx chain.Context) error {
		_, err := pool.GetSpotPrice(ctx)
		return err
	})
	require.ErrorIs(t, err, types.ErrUninitialized)
}

func TestSpotPriceIdempotent(t *testing.T) {
	tb := newTestbed(t, types.Units(200), types.Units(200), new(big.Int), new(big.Int))
	first := tb.price(t)
	second := tb.price(t)
	assert.Equal(t, first.String(), second.String())
	assert.Equal(t, types.Scale.String(), first.String())
}

func TestGetAmountInRoundTrip(t *testing.T) {
	tb := newTestbed(t, types.Units(200), types.Units(200), types.Units(100), types.Units(100))

	require.NoError(t, tb.chain.Query(context.Background(), func(ctx chain.Context) error {
		want := types.Units(50)
		in, err := tb.pool.GetAmountIn(ctx, types.AssetA, want)
		require.NoError(t, err)
		out, err := tb.pool.GetAmountOut(ctx, types.AssetB, in)
		require.NoError(t, err)
		assert.True(t, out.Cmp(want) >= 0, "quoted %s for %s", out, want)

		_, err = tb.pool.GetAmountIn(ctx, types.AssetA, types.Units(200))
		assert.ErrorIs(t, err, types.ErrInsufficientLiquidity)
		return nil
	}))
}

func TestGetAmountOutRoundsDown(t *testing.T) {
	in, reserveIn, reserveOut := big.NewInt(7), big.NewInt(1000), big.NewInt(1500)
	k := new(big.Int).Mul(reserveIn, reserveOut)

	out := GetAmountOut(in, reserveIn, reserveOut, 0)
	assert.Equal(t, int64(10), out.Int64())

	// rounding the remaining reserve down instead would pay out 11 and shrink k
	sum := new(big.Int).Add(reserveIn, in)
	leftover := new(big.Int).Sub(reserveOut, new(big.Int).Quo(k, sum))
	assert.Equal(t, int64(11), leftover.Int64())

	after := new(big.Int).Mul(sum, new(big.Int).Sub(reserveOut, out))
	assert.True(t, after.Cmp(k) >= 0, "k fell from %s to %s", k, after)
	over := new(big.Int).Mul(sum, new(big.Int).Sub(reserveOut, leftover))
	assert.True(t, over.Cmp(k) < 0)
}

func TestFeeAccruesToReserves(t *testing.T) {
	in := types.Units(100)
	plain := GetAmountOut(in, types.Units(1000), types.Units(1000), 0)
	withFee := GetAmountOut(in, types.Units(1000), types.Units(1000), 30)
	assert.True(t, withFee.Cmp(plain) < 0)
}

// Property: no sequence of swaps lowers reserveA * reserveB.
func TestConstantProductNeverDecreases(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ra := rapid.Int64Range(1, 1_000_000).Draw(rt, "reserveA")
		rb := rapid.Int64Range(1, 1_000_000).Draw(rt, "reserveB")
		fee := rapid.Uint64Range(0, 100).Draw(rt, "feeBps")

		reserveA := new(big.Int).Mul(big.NewInt(ra), types.Scale)
		reserveB := new(big.Int).Mul(big.NewInt(rb), types.Scale)

		steps := rapid.IntRange(1, 20).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			aIn := rapid.Bool().Draw(rt, "aIn")
			amount := big.NewInt(rapid.Int64Range(1, 1<<62).Draw(rt, "amount"))

			reserveIn, reserveOut := reserveA, reserveB
			if !aIn {
				reserveIn, reserveOut = reserveB, reserveA
			}
			out := GetAmountOut(amount, reserveIn, reserveOut, fee)
			if out.Sign() == 0 || out.Cmp(reserveOut) >= 0 {
				continue
			}

			k := new(big.Int).Mul(reserveA, reserveB)
			newIn := new(big.Int).Add(reserveIn, amount)
			newOut := new(big.Int).Sub(reserveOut, out)
			if aIn {
				reserveA, reserveB = newIn, newOut
			} else {
				reserveA, reserveB = newOut, newIn
			}
			if got := new(big.Int).Mul(reserveA, reserveB); got.Cmp(k) < 0 {
				rt.Fatalf("k decreased from %s to %s", k, got)
			}
		}
	})
}

func TestPoolSwapsPreserveLedger(t *testing.T) {
	tb := newTestbed(t, types.Units(1000), types.Units(1500), types.Units(5000), types.Units(5000))

	for i, amt := range []int64{1, 250, 3, 999} {
		swapB := i%2 == 1
		require.NoError(t, tb.chain.Execute(context.Background(), "swap", func(ctx chain.Context) error {
			var err error
			if swapB {
				_, err = tb.pool.SwapBForA(ctx, trader, types.Units(amt))
			} else {
				_, err = tb.pool.SwapAForB(ctx, trader, types.Units(amt))
			}
			return err
		}))
	}

	r := tb.reserves(t)
	require.NoError(t, tb.chain.Query(context.Background(), func(ctx chain.Context) error {
		assert.Equal(t, r.ReserveA.String(), tb.ledger.BalanceOf(ctx, tb.pool.Address(), types.AssetA).String())
		assert.Equal(t, r.ReserveB.String(), tb.ledger.BalanceOf(ctx, tb.pool.Address(), types.AssetB).String())
		return nil
	}))
}
