package manipulation

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/michaelpento.lv/pricelab/chain"
	"github.com/michaelpento.lv/pricelab/types"
)

func (tb *testbed) plan(t *testing.T, flash *big.Int) (plan *Plan) {
	tb.query(t, func(ctx chain.Context) (err error) {
		plan, err = tb.attack.Plan(ctx, flash)
		return err
	})
	return plan
}

func TestPlanScenarioA(t *testing.T) {
	tb := newTestbed(t, scenarioSeed())

	plan := tb.plan(t, types.Units(2000))
	require.True(t, plan.Profitable, plan.Reason)
	assert.Equal(t, units("1000").String(), plan.BoughtB.String())
	assert.Equal(t, units("6").String(), plan.InflatedPrice.String())
	assert.Equal(t, units("4500").String(), plan.Borrow.String())
	assert.Equal(t, units("2001").String(), plan.Repayment.String())
	assert.Equal(t, units("2499").String(), plan.Leftover.String())

	// planning leaves the pools alone
	tb.query(t, func(ctx chain.Context) error {
		price, err := tb.primary.GetSpotPrice(ctx)
		require.NoError(t, err)
		assert.Equal(t, "666666666666666666", price.String())
		return nil
	})
}

func TestPlanUnprofitable(t *testing.T) {
	tb := newTestbed(t, scenarioSeed())

	plan := tb.plan(t, types.Units(100))
	assert.False(t, plan.Profitable)
	assert.Equal(t, "borrow does not cover the repayment", plan.Reason)
	assert.Equal(t, 0, plan.Leftover.Sign())

	plan = tb.plan(t, types.Units(30000))
	assert.False(t, plan.Profitable)
	assert.Equal(t, "flash loan exceeds lender liquidity", plan.Reason)

	err := tb.chain.Query(context.Background(), func(ctx chain.Context) error {
		_, err := tb.attack.Plan(ctx, new(big.Int))
		return err
	})
	assert.ErrorIs(t, err, types.ErrInvalidAmount)
}

func TestMinProfitableFlash(t *testing.T) {
	tb := newTestbed(t, scenarioSeed())

	var least *big.Int
	tb.query(t, func(ctx chain.Context) (err error) {
		least, err = tb.attack.MinProfitableFlash(ctx, types.Units(2000))
		return err
	})
	// 0.75 * (1000 + f) / 1000 >= 1.0005 puts break-even near 334 A
	assert.True(t, least.Cmp(types.Units(333)) >= 0, least.String())
	assert.True(t, least.Cmp(types.Units(335)) <= 0, least.String())

	assert.True(t, tb.plan(t, least).Profitable)
	assert.False(t, tb.plan(t, new(big.Int).Sub(least, big.NewInt(1))).Profitable)

	err := tb.chain.Query(context.Background(), func(ctx chain.Context) error {
		_, err := tb.attack.MinProfitableFlash(ctx, types.Units(100))
		return err
	})
	assert.ErrorIs(t, err, types.ErrUnprofitableAttack)
}

func TestPlanMatchesExecution(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := scenarioSeed()
		s.params = Params{
			CollateralBps:     rapid.Uint64Range(1000, types.BpsDenominator).Draw(rt, "collateralBps"),
			UnwindOnSecondary: rapid.Bool().Draw(rt, "unwind"),
		}
		flash := types.Units(rapid.Int64Range(1, 19_000).Draw(rt, "flash"))
		tb := newTestbed(t, s)

		var (
			plan    *Plan
			planErr error
			trace   *Trace
			runErr  error
		)
		require.NoError(t, tb.chain.Query(context.Background(), func(ctx chain.Context) error {
			plan, planErr = tb.attack.Plan(ctx, flash)
			return nil
		}))
		_ = tb.chain.Simulate(context.Background(), "dry-run", func(ctx chain.Context) error {
			trace, runErr = tb.attack.ExecuteAttack(ctx, attacker, flash)
			return runErr
		})

		if planErr != nil {
			if runErr == nil {
				rt.Fatalf("plan failed with %v but the run succeeded", planErr)
			}
			return
		}
		if plan.Profitable != (runErr == nil) {
			rt.Fatalf("plan profitable=%v (%s), run error %v", plan.Profitable, plan.Reason, runErr)
		}
		if runErr != nil {
			return
		}
		for _, f := range []struct {
			name      string
			want, got *big.Int
		}{
			{"boughtB", trace.BoughtB, plan.BoughtB},
			{"inflatedPrice", trace.InflatedPrice, plan.InflatedPrice},
			{"borrowed", trace.Borrowed, plan.Borrow},
			{"unwoundA", trace.UnwoundA, plan.UnwoundA},
			{"leftover", trace.Leftover, plan.Leftover},
		} {
			if f.want.Cmp(f.got) != 0 {
				rt.Fatalf("%s: run %s, plan %s", f.name, f.want, f.got)
			}
		}
	})
}
