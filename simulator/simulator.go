package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/pricelab/chain"
	"github.com/michaelpento.lv/pricelab/config"
	"github.com/michaelpento.lv/pricelab/dex/amm"
	"github.com/michaelpento.lv/pricelab/flashloan"
	"github.com/michaelpento.lv/pricelab/ledger"
	"github.com/michaelpento.lv/pricelab/lending"
	"github.com/michaelpento.lv/pricelab/oracle"
	"github.com/michaelpento.lv/pricelab/strategies/manipulation"
	"github.com/michaelpento.lv/pricelab/types"
	"github.com/michaelpento.lv/pricelab/utils/metrics"
)

// Target selects the lending market an attack runs against.
type Target string

const (
	// TargetVulnerable prices collateral off the primary pool's spot price.
	TargetVulnerable Target = "vulnerable"
	// TargetProtected prices collateral through the oracle aggregator.
	TargetProtected Target = "protected"
)

func ParseTarget(s string) (Target, error) {
	switch t := Target(strings.ToLower(s)); t {
	case TargetVulnerable, TargetProtected:
		return t, nil
	}
	return "", fmt.Errorf("unknown target %q (want vulnerable or protected)", s)
}

// Well-known accounts of the testbed.
var (
	// Deployer seeds every component and holds the operator, owner and
	// updater roles.
	Deployer = types.ModuleAddress("account/deployer")
	// Attacker is the default caller of attack runs.
	Attacker = types.ModuleAddress("account/attacker")
)

const (
	keyPrimary    chain.StoreKey = "amm/primary"
	keySecondary  chain.StoreKey = "amm/secondary"
	keyVulnerable chain.StoreKey = "lending/vulnerable"
	keyProtected  chain.StoreKey = "lending/protected"
	keyFacility   chain.StoreKey = "flashloan/facility"
	keyTWAP       chain.StoreKey = "oracle/twap"
	keyAggregator chain.StoreKey = "oracle/aggregator"
)

// Simulator is one deployed testbed: both pools, both lending markets, the
// flash loan facility, the defensive oracles and an orchestrator per
// market, all over a single chain.
type Simulator struct {
	cfg     *config.Config
	logger  *zap.Logger
	chain   *chain.Chain
	clock   *chain.ManualClock
	metrics *metrics.Set

	Ledger     ledger.Keeper
	Primary    *amm.Pool
	Secondary  *amm.Pool
	Vulnerable *lending.Keeper
	Protected  *lending.Keeper
	Facility   *flashloan.Facility
	Lender     *flashloan.FlashLoanManager
	TWAP       *oracle.TWAP
	Aggregator *oracle.Aggregator

	attackers map[Target]*manipulation.Orchestrator

	runs    atomic.Uint64
	history *lru.Cache
}

// Deploy builds a testbed from cfg and seeds it in its genesis units.
// Metrics are registered on reg; nil keeps them private.
func Deploy(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*Simulator, error) {
	if err := cfg.ValidateConfig(); err != nil {
		return nil, errorsmod.Wrap(types.ErrInvalidConfig, err.Error())
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	history, err := lru.New(cfg.Attack.HistorySize)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace history: %w", err)
	}

	m := metrics.NewSet(reg, "pricelab")
	clock := chain.NewManualClock(cfg.Genesis)
	s := &Simulator{
		cfg:       cfg,
		logger:    logger,
		chain:     chain.New(clock, logger, m.Chain),
		clock:     clock,
		metrics:   m,
		Ledger:    ledger.NewKeeper(ledger.StoreKey),
		attackers: make(map[Target]*manipulation.Orchestrator),
		history:   history,
	}
	s.build()

	if err := s.seed(ctx); err != nil {
		return nil, fmt.Errorf("failed to seed testbed: %w", err)
	}
	return s, nil
}

func (s *Simulator) build() {
	cfg, m, lk := s.cfg, s.metrics, s.Ledger

	s.Primary = amm.NewPool("primary", keyPrimary, cfg.Pools.Primary.FeeBps, lk, m.AMM)
	s.Secondary = amm.NewPool("secondary", keySecondary, cfg.Pools.Secondary.FeeBps, lk, m.AMM)

	s.TWAP = oracle.NewTWAP(keyTWAP, oracle.TWAPParams{
		Name:        "twap/primary",
		Window:      cfg.Oracle.TWAPWindow,
		MinInterval: cfg.Oracle.MinInterval,
		MaxSamples:  cfg.Oracle.MaxSamples,
		Updater:     Deployer,
	}, oracle.NewSpotSource(s.Primary), m.Oracle)

	s.Aggregator = oracle.NewAggregator(keyAggregator, oracle.AggregatorParams{
		Name:            "aggregator",
		Owner:           Deployer,
		MinValidSources: cfg.Oracle.MinValidSources,
	}, m.Oracle)

	s.Vulnerable = lending.NewKeeper(keyVulnerable, lending.Params{
		Market:   string(TargetVulnerable),
		LTVBps:   cfg.Lending.LTVBps,
		Operator: Deployer,
	}, lk, oracle.NewSpotSource(s.Primary), m.Lending)
	s.Protected = lending.NewKeeper(keyProtected, lending.Params{
		Market:                  string(TargetProtected),
		LTVBps:                  cfg.Lending.LTVBps,
		Operator:                Deployer,
		EnforceWithdrawSolvency: true,
	}, lk, s.Aggregator, m.Lending)

	s.Facility = flashloan.NewFacility(keyFacility, flashloan.ProviderConfig{
		Name:   "facility",
		FeeBps: cfg.FlashLoan.FeeBps,
	}, lk, m.Flash)
	s.Lender = flashloan.NewFlashLoanManager(s.logger, m.Flash)

	for target, market := range map[Target]*lending.Keeper{
		TargetVulnerable: s.Vulnerable,
		TargetProtected:  s.Protected,
	} {
		s.attackers[target] = manipulation.NewOrchestrator(attackKey(target), manipulation.Params{
			Name:              "attacker/" + string(target),
			Beneficiary:       cfg.Attack.BeneficiaryAddress(),
			CollateralBps:     cfg.Attack.CollateralBps,
			UnwindOnSecondary: cfg.Attack.UnwindOnSecondary,
		}, manipulation.Keepers{
			Ledger:    lk,
			Lender:    s.Lender,
			Primary:   s.Primary,
			Secondary: s.Secondary,
			Market:    market,
		}, m.Attack)
	}
}

func attackKey(t Target) chain.StoreKey {
	return chain.StoreKey("attack/" + string(t))
}

func (s *Simulator) seed(ctx context.Context) error {
	stores := map[chain.StoreKey]chain.Store{
		ledger.StoreKey: ledger.NewStore(),
		keyPrimary:      amm.NewStore(),
		keySecondary:    amm.NewStore(),
		keyVulnerable:   lending.NewStore(),
		keyProtected:    lending.NewStore(),
		keyFacility:     flashloan.NewStore(),
		keyTWAP:         oracle.NewTWAPStore(),
		keyAggregator:   oracle.NewAggregatorStore(),
	}
	for target := range s.attackers {
		stores[attackKey(target)] = manipulation.NewStore()
	}
	for key, st := range stores {
		if err := s.chain.Mount(key, st); err != nil {
			return err
		}
	}

	if err := s.Lender.AddProvider(s.Facility); err != nil {
		return err
	}
	spot := oracle.NewSpotSource(s.Secondary)
	for _, src := range []oracle.PriceSource{s.TWAP, spot} {
		if err := s.Aggregator.RegisterSource(src); err != nil {
			return err
		}
	}

	cfg := s.cfg
	err := s.chain.Execute(ctx, "genesis", func(ctx chain.Context) error {
		lk := s.Ledger
		fund := func(asset types.Asset, amount *big.Int, spender common.Address) error {
			if amount.Sign() == 0 {
				return nil
			}
			if err := lk.Mint(ctx, Deployer, asset, amount); err != nil {
				return err
			}
			return lk.Approve(ctx, Deployer, spender, asset, ledger.MaxAllowance)
		}

		for _, p := range []struct {
			pool *amm.Pool
			cfg  config.PoolConfig
		}{
			{s.Primary, cfg.Pools.Primary},
			{s.Secondary, cfg.Pools.Secondary},
		} {
			a, b := p.cfg.ReserveA.Int(), p.cfg.ReserveB.Int()
			if err := fund(types.AssetA, a, p.pool.Address()); err != nil {
				return err
			}
			if err := fund(types.AssetB, b, p.pool.Address()); err != nil {
				return err
			}
			if err := p.pool.AddLiquidity(ctx, Deployer, a, b); err != nil {
				return err
			}
		}

		liquidity := cfg.Lending.Liquidity.Int()
		for _, market := range []*lending.Keeper{s.Vulnerable, s.Protected} {
			if liquidity.Sign() == 0 {
				break
			}
			if err := fund(types.AssetA, liquidity, market.Address()); err != nil {
				return err
			}
			if err := market.FundPool(ctx, Deployer, liquidity); err != nil {
				return err
			}
		}

		if err := fund(types.AssetA, cfg.FlashLoan.Liquidity.Int(), s.Facility.Address()); err != nil {
			return err
		}
		if err := s.Facility.Fund(ctx, Deployer, cfg.FlashLoan.Liquidity.Int()); err != nil {
			return err
		}

		if _, err := s.Aggregator.AddOracle(ctx, Deployer, s.TWAP.Name(),
			cfg.Oracle.TWAPWeightBps, true, cfg.Oracle.TWAPMaxDeviationBps, "TWAP Oracle"); err != nil {
			return err
		}
		if _, err := s.Aggregator.AddOracle(ctx, Deployer, spot.Name(),
			cfg.Oracle.SpotWeightBps, false, cfg.Oracle.SpotMaxDeviationBps, "AMM2 Spot"); err != nil {
			return err
		}

		if cfg.Oracle.BootstrapSamples > 0 {
			return s.TWAP.EmergencyUpdatePrice(ctx, Deployer)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if n := cfg.Oracle.BootstrapSamples - 1; n > 0 {
		if _, err := s.WarmUpTWAP(ctx, n, cfg.Oracle.MinInterval); err != nil {
			return err
		}
	}

	s.logger.Info("Testbed deployed",
		zap.Uint64("height", s.chain.Height()),
		zap.String("primaryA", cfg.Pools.Primary.ReserveA.String()),
		zap.String("primaryB", cfg.Pools.Primary.ReserveB.String()),
		zap.String("secondaryA", cfg.Pools.Secondary.ReserveA.String()),
		zap.String("secondaryB", cfg.Pools.Secondary.ReserveB.String()),
		zap.String("flashLiquidity", cfg.FlashLoan.Liquidity.String()),
		zap.String("lendingLiquidity", cfg.Lending.Liquidity.String()))
	return nil
}

func (s *Simulator) Config() *config.Config    { return s.cfg }
func (s *Simulator) Chain() *chain.Chain       { return s.chain }
func (s *Simulator) Clock() *chain.ManualClock { return s.clock }
func (s *Simulator) Metrics() *metrics.Set     { return s.metrics }

// Attacker returns the orchestrator for target.
func (s *Simulator) Attacker(target Target) (*manipulation.Orchestrator, error) {
	o, ok := s.attackers[target]
	if !ok {
		return nil, fmt.Errorf("unknown target %q", target)
	}
	return o, nil
}

// Market returns the lending market for target.
func (s *Simulator) Market(target Target) (*lending.Keeper, error) {
	switch target {
	case TargetVulnerable:
		return s.Vulnerable, nil
	case TargetProtected:
		return s.Protected, nil
	}
	return nil, fmt.Errorf("unknown target %q", target)
}

// Pool returns a pool by name.
func (s *Simulator) Pool(name string) (*amm.Pool, error) {
	switch name {
	case s.Primary.Name():
		return s.Primary, nil
	case s.Secondary.Name():
		return s.Secondary, nil
	}
	return nil, fmt.Errorf("unknown pool %q", name)
}

// Result is the outcome of one attack run.
type Result struct {
	RunID       uint64              `json:"runId"`
	Target      Target              `json:"target"`
	Caller      common.Address      `json:"caller"`
	DryRun      bool                `json:"dryRun"`
	Committed   bool                `json:"committed"`
	Trace       *manipulation.Trace `json:"trace,omitempty"`
	Error       string              `json:"error,omitempty"`
	ErrorKind   string              `json:"errorKind,omitempty"`
	Height      uint64              `json:"height"`
	Fingerprint string              `json:"fingerprint"`
}

// RunAttack executes an attack by caller against target in its own unit.
// The result is returned also when the attack fails, together with the
// error; a failed attack leaves the state untouched.
func (s *Simulator) RunAttack(ctx context.Context, target Target, caller common.Address, flash *big.Int) (*Result, error) {
	return s.attack(ctx, target, caller, flash, false)
}

// DryRunAttack runs the attack on a discarded branch of the current state.
func (s *Simulator) DryRunAttack(ctx context.Context, target Target, caller common.Address, flash *big.Int) (*Result, error) {
	return s.attack(ctx, target, caller, flash, true)
}

func (s *Simulator) attack(ctx context.Context, target Target, caller common.Address, flash *big.Int, dryRun bool) (*Result, error) {
	o, err := s.Attacker(target)
	if err != nil {
		return nil, err
	}
	if caller == (common.Address{}) {
		caller = Attacker
	}
	if flash == nil {
		flash = s.cfg.Attack.FlashAmount.Int()
	}

	res := &Result{Target: target, Caller: caller, DryRun: dryRun}
	unit := func(ctx chain.Context) error {
		trace, err := o.ExecuteAttack(ctx, caller, flash)
		res.Trace = trace
		return err
	}
	label := "attack/" + string(target)
	if dryRun {
		err = s.chain.Simulate(ctx, label, unit)
	} else {
		err = s.chain.Execute(ctx, label, unit)
	}

	res.Height = s.chain.Height()
	res.Fingerprint = fmt.Sprintf("%016x", s.chain.Fingerprint())
	if err != nil {
		res.Error = err.Error()
		res.ErrorKind = types.Kind(err)
		return res, err
	}
	if !dryRun {
		res.Committed = true
		res.RunID = s.runs.Add(1)
		s.history.Add(res.RunID, res)
	}
	return res, nil
}

// History returns committed attack results, most recent first.
func (s *Simulator) History() []*Result {
	keys := s.history.Keys()
	out := make([]*Result, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if v, ok := s.history.Peek(keys[i]); ok {
			out = append(out, v.(*Result))
		}
	}
	return out
}

// Run returns a committed result by id if it is still in the history.
func (s *Simulator) Run(id uint64) (*Result, bool) {
	v, ok := s.history.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*Result), true
}

// LastTrace returns the last committed trace against target, or nil.
func (s *Simulator) LastTrace(ctx context.Context, target Target) (*manipulation.Trace, error) {
	o, err := s.Attacker(target)
	if err != nil {
		return nil, err
	}
	var trace *manipulation.Trace
	err = s.chain.Query(ctx, func(ctx chain.Context) error {
		trace = o.GetDebugState(ctx)
		return nil
	})
	return trace, err
}

// UpdateTWAP appends a scheduled TWAP sample at the current clock time.
func (s *Simulator) UpdateTWAP(ctx context.Context) error {
	return s.chain.Execute(ctx, "twap/update", s.TWAP.UpdatePrice)
}

// EmergencyUpdateTWAP appends a sample regardless of the rate limit.
func (s *Simulator) EmergencyUpdateTWAP(ctx context.Context, caller common.Address) error {
	return s.chain.Execute(ctx, "twap/emergency", func(ctx chain.Context) error {
		return s.TWAP.EmergencyUpdatePrice(ctx, caller)
	})
}

// WarmUpTWAP advances the clock by interval and records a sample, n times.
// Rate-limited updates are skipped. It returns the samples recorded.
func (s *Simulator) WarmUpTWAP(ctx context.Context, n int, interval time.Duration) (int, error) {
	recorded := 0
	for i := 0; i < n; i++ {
		s.clock.Advance(interval)
		err := s.UpdateTWAP(ctx)
		switch {
		case err == nil:
			recorded++
		case errors.Is(err, types.ErrRateLimited):
			s.logger.Debug("TWAP warm-up sample skipped", zap.Error(err))
		default:
			return recorded, err
		}
	}
	return recorded, nil
}

// AdvanceClock moves simulated time forward and returns the new time.
func (s *Simulator) AdvanceClock(d time.Duration) time.Time {
	return s.clock.Advance(d)
}
