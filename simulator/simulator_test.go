package simulator

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/pricelab/config"
	"github.com/michaelpento.lv/pricelab/types"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Logger = zaptest.NewLogger(t)
	return cfg
}

func deploy(t *testing.T, cfg *config.Config) *Simulator {
	s, err := Deploy(context.Background(), cfg, prometheus.NewRegistry())
	require.NoError(t, err)
	return s
}

func TestDeploySeedsTestbed(t *testing.T) {
	ctx := context.Background()
	s := deploy(t, testConfig(t))

	// genesis plus one warm-up sample
	assert.Equal(t, uint64(2), s.Chain().Height())

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Pools, 2)
	assert.Equal(t, "primary", snap.Pools[0].Name)
	assert.Equal(t, "666666666666666666", snap.Pools[0].SpotPrice.String())
	assert.Equal(t, types.Units(1000).String(), snap.Pools[0].Reserves.ReserveA.String())
	assert.Equal(t, types.Units(1).String(), snap.Pools[1].SpotPrice.String())

	require.Len(t, snap.Markets, 2)
	assert.Equal(t, "666666666666666666", snap.Markets[0].Price.String())
	assert.Equal(t, types.Units(25000).String(), snap.Markets[0].PoolBalance.String())
	// the secondary disagrees with the TWAP by more than either bound
	assert.Nil(t, snap.Markets[1].Price)
	assert.NotEmpty(t, snap.Markets[1].PriceError)

	assert.Equal(t, types.Units(20000).String(), snap.FlashLoan.Liquidity.String())
	assert.Equal(t, uint64(5), snap.FlashLoan.FeeBps)

	assert.Equal(t, 2, snap.TWAP.Count)
	assert.Equal(t, "666666666666666666", snap.TWAP.TWAP.String())
	assert.Empty(t, snap.TWAP.Error)

	require.Len(t, snap.Aggregator.Oracles, 2)
	assert.Equal(t, "TWAP Oracle", snap.Aggregator.Oracles[0].Label)
	assert.Equal(t, "AMM2 Spot", snap.Aggregator.Oracles[1].Label)
	assert.Equal(t, 2, snap.Aggregator.ActiveCount)
	assert.Equal(t, 2, snap.Aggregator.Report.Rejected)

	assert.Len(t, snap.Attackers, 2)
	assert.Len(t, snap.Fingerprint, 16)
}

func TestScenarioAOnVulnerableMarket(t *testing.T) {
	ctx := context.Background()
	s := deploy(t, testConfig(t))

	res, err := s.RunAttack(ctx, TargetVulnerable, Attacker, nil)
	require.NoError(t, err)
	require.True(t, res.Committed)
	assert.Equal(t, uint64(1), res.RunID)

	tr := res.Trace
	require.NotNil(t, tr)
	assert.True(t, tr.Succeeded)
	assert.Equal(t, types.Units(1000).String(), tr.BoughtB.String())
	assert.Equal(t, "666666666666666666", tr.InitialPrice.String())
	assert.Equal(t, types.Units(6).String(), tr.InflatedPrice.String())
	assert.Equal(t, types.Units(4500).String(), tr.Borrowed.String())
	assert.Equal(t, types.Units(2001).String(), tr.Repayment.String())
	assert.Equal(t, types.Units(2499).String(), tr.Leftover.String())
	assert.Equal(t, "12495", tr.ROI.String())

	acct, err := s.Account(ctx, Attacker)
	require.NoError(t, err)
	assert.Equal(t, types.Units(2499).String(), acct.BalanceA.String())
	assert.Equal(t, 0, acct.BalanceB.Sign())

	o, err := s.Attacker(TargetVulnerable)
	require.NoError(t, err)
	pos, err := s.Account(ctx, o.Address())
	require.NoError(t, err)
	assert.Equal(t, types.Units(1000).String(), pos.Positions[TargetVulnerable].Collateral.String())
	assert.Equal(t, types.Units(4500).String(), pos.Positions[TargetVulnerable].Debt.String())
	assert.Equal(t, 0, pos.Positions[TargetProtected].Debt.Sign())

	last, err := s.LastTrace(ctx, TargetVulnerable)
	require.NoError(t, err)
	assert.Equal(t, tr.Leftover.String(), last.Leftover.String())

	attack := s.Metrics().Attack
	assert.Equal(t, 1.0, testutil.ToFloat64(attack.Successes.WithLabelValues("vulnerable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(attack.Attempts.WithLabelValues("vulnerable")))
}

func TestScenarioBOnVulnerableMarket(t *testing.T) {
	s := deploy(t, testConfig(t))

	res, err := s.RunAttack(context.Background(), TargetVulnerable, Attacker, types.Units(10000))
	require.NoError(t, err)
	tr := res.Trace
	assert.Equal(t, "1363636363636363636363", tr.BoughtB.String())
	// the lending pool caps the borrow
	assert.Equal(t, types.Units(25000).String(), tr.Borrowed.String())
	assert.Equal(t, types.Units(14995).String(), tr.Leftover.String())
	assert.Equal(t, "3030", tr.LTVUsed.String())
}

func TestProtectedMarket(t *testing.T) {
	ctx := context.Background()

	t.Run("circuit_breaker", func(t *testing.T) {
		s := deploy(t, testConfig(t))
		before := s.Chain().Fingerprint()

		res, err := s.RunAttack(ctx, TargetProtected, Attacker, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrOutlierThresholdExceeded)
		assert.False(t, res.Committed)
		assert.Equal(t, "outlier_threshold_exceeded", res.ErrorKind)
		assert.Equal(t, before, s.Chain().Fingerprint())
		assert.Empty(t, s.History())
	})

	t.Run("aggregate_price_limits_borrow", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Pools.Secondary.ReserveB = config.NewAmount(types.Units(300))
		s := deploy(t, cfg)

		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		require.NotNil(t, snap.Markets[1].Price)
		assert.Equal(t, "666666666666666666", snap.Markets[1].Price.String())

		res, err := s.RunAttack(ctx, TargetProtected, Attacker, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrExceedsBorrowLimit)
		require.NotNil(t, res.Trace)
		assert.False(t, res.Trace.Succeeded)
		assert.NotEmpty(t, res.Trace.Failure)

		acct, err := s.Account(ctx, Attacker)
		require.NoError(t, err)
		assert.Equal(t, 0, acct.BalanceA.Sign())
	})
}

func TestDryRunAttack(t *testing.T) {
	ctx := context.Background()
	s := deploy(t, testConfig(t))
	before := s.Chain().Fingerprint()
	height := s.Chain().Height()

	res, err := s.DryRunAttack(ctx, TargetVulnerable, Attacker, nil)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.False(t, res.Committed)
	assert.Zero(t, res.RunID)
	assert.Equal(t, types.Units(2499).String(), res.Trace.Leftover.String())

	assert.Equal(t, before, s.Chain().Fingerprint())
	assert.Equal(t, height, s.Chain().Height())
	assert.Empty(t, s.History())

	last, err := s.LastTrace(ctx, TargetVulnerable)
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestPlan(t *testing.T) {
	ctx := context.Background()
	s := deploy(t, testConfig(t))
	before := s.Chain().Fingerprint()

	res, err := s.Plan(ctx, TargetVulnerable, nil)
	require.NoError(t, err)
	assert.True(t, res.SpotPriced)
	require.True(t, res.Plan.Profitable, res.Plan.Reason)
	assert.Equal(t, types.Units(2499).String(), res.Plan.Leftover.String())
	require.NotNil(t, res.MinProfitableFlash)
	assert.True(t, res.MinProfitableFlash.Cmp(types.Units(300)) > 0)
	assert.True(t, res.MinProfitableFlash.Cmp(types.Units(2000)) < 0)
	assert.Equal(t, before, s.Chain().Fingerprint())

	res, err = s.Plan(ctx, TargetProtected, types.Units(100))
	require.NoError(t, err)
	assert.False(t, res.SpotPriced)
	assert.False(t, res.Plan.Profitable)

	_, err = s.Plan(ctx, Target("nowhere"), nil)
	assert.Error(t, err)
}

func TestPlanBeyondFlashLiquidity(t *testing.T) {
	ctx := context.Background()
	s := deploy(t, testConfig(t))

	// the facility holds 20000 A
	res, err := s.Plan(ctx, TargetVulnerable, types.Units(50000))
	require.NoError(t, err)
	require.NotNil(t, res.Plan)
	assert.False(t, res.Plan.Profitable)
	assert.Equal(t, "flash loan exceeds lender liquidity", res.Plan.Reason)
	assert.Equal(t, 0, res.Plan.Fee.Sign())
	assert.NotNil(t, res.MinProfitableFlash)
}

func TestProbe(t *testing.T) {
	ctx := context.Background()
	s := deploy(t, testConfig(t))

	sample, err := s.Probe(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.Chain().Height(), sample.Height)
	require.NotNil(t, sample.TWAP)
	assert.Zero(t, sample.TWAPAge)
	// with the default secondary reserves both sources sit outside their bounds
	assert.Nil(t, sample.Aggregated)
	assert.NotEmpty(t, sample.AggregatedError)

	s.AdvanceClock(30 * time.Second)
	sample, err = s.Probe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, sample.TWAPAge)
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Attack.HistorySize = 1
	s := deploy(t, cfg)

	_, err := s.RunAttack(ctx, TargetVulnerable, Attacker, nil)
	require.NoError(t, err)
	// the repeated attack starts from the already inflated price
	res, err := s.RunAttack(ctx, TargetVulnerable, Attacker, nil)
	require.NoError(t, err)
	assert.Equal(t, types.Units(6).String(), res.Trace.InitialPrice.String())

	history := s.History()
	require.Len(t, history, 1)
	assert.Equal(t, uint64(2), history[0].RunID)

	_, ok := s.Run(1)
	assert.False(t, ok)
	got, ok := s.Run(2)
	require.True(t, ok)
	assert.Same(t, res, got)
}

func TestHistoryOrder(t *testing.T) {
	ctx := context.Background()
	s := deploy(t, testConfig(t))

	for i := 0; i < 2; i++ {
		_, err := s.RunAttack(ctx, TargetVulnerable, Attacker, nil)
		require.NoError(t, err)
	}
	history := s.History()
	require.Len(t, history, 2)
	assert.Equal(t, uint64(2), history[0].RunID)
	assert.Equal(t, uint64(1), history[1].RunID)
}

func TestWarmUpTWAPSkipsRateLimited(t *testing.T) {
	ctx := context.Background()
	s := deploy(t, testConfig(t))
	start := s.Clock().Now()

	n, err := s.WarmUpTWAP(ctx, 3, 20*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, start.Add(time.Minute), s.Clock().Now())

	err = s.UpdateTWAP(ctx)
	assert.ErrorIs(t, err, types.ErrRateLimited)

	require.NoError(t, s.EmergencyUpdateTWAP(ctx, Deployer))
	assert.ErrorIs(t, s.EmergencyUpdateTWAP(ctx, Attacker), types.ErrUnauthorized)

	view, err := s.TWAPView(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, view.Count)
}

func TestDeployRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Lending.LTVBps = 20000

	_, err := Deploy(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInvalidConfig)
}

func TestParseTarget(t *testing.T) {
	for in, want := range map[string]Target{
		"vulnerable": TargetVulnerable,
		"Protected":  TargetProtected,
	} {
		got, err := ParseTarget(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseTarget("both")
	assert.Error(t, err)
}

func TestLookups(t *testing.T) {
	s := deploy(t, testConfig(t))

	_, err := s.Pool("tertiary")
	assert.Error(t, err)
	_, err = s.Attacker("nowhere")
	assert.Error(t, err)
	_, err = s.Market("nowhere")
	assert.Error(t, err)

	v, err := s.PoolView(context.Background(), "secondary")
	require.NoError(t, err)
	assert.Equal(t, types.Units(200).String(), v.Reserves.ReserveB.String())
}

func TestReport(t *testing.T) {
	ctx := context.Background()
	s := deploy(t, testConfig(t))

	var buf bytes.Buffer
	require.NoError(t, s.Report(ctx, &buf, TargetVulnerable))
	assert.Contains(t, buf.String(), "No attack has been recorded yet.")

	_, err := s.RunAttack(ctx, TargetVulnerable, Attacker, nil)
	require.NoError(t, err)

	buf.Reset()
	require.NoError(t, s.Report(ctx, &buf, TargetVulnerable))
	out := buf.String()
	assert.Contains(t, out, "2499 A")
	assert.Contains(t, out, "9.00x")
	assert.Contains(t, out, "800.00%")
	assert.Contains(t, out, "124.95%")
	assert.Contains(t, out, "Max Borrow (75.00% LTV)")
	assert.Contains(t, out, "Can borrow enough?     YES")
	assert.Contains(t, out, "Attack should succeed! Profit margin: 2499 A")

	res, err := s.DryRunAttack(ctx, TargetVulnerable, Attacker, types.Units(100))
	require.Error(t, err)
	buf.Reset()
	require.NoError(t, WriteReport(&buf, res.Trace, ReportParams{LTVBps: 7500, FlashFeeBps: 5}))
	out = buf.String()
	assert.Contains(t, out, "Can borrow enough?     NO")
	assert.Contains(t, out, "ISSUE DETECTED")
	assert.Contains(t, out, "FAILURE:")
}
