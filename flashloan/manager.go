package flashloan

import (
	"fmt"
	"math/big"
	"sync"

	errorsmod "cosmossdk.io/errors"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/pricelab/chain"
	"github.com/michaelpento.lv/pricelab/types"
	"github.com/michaelpento.lv/pricelab/utils/metrics"
)

// FlashLoanManager routes each loan to the cheapest provider that can fund
// it. It is itself a Provider.
type FlashLoanManager struct {
	mu        sync.RWMutex
	providers []Provider
	metrics   *metrics.FlashLoanMetrics
	logger    *zap.Logger
}

var _ Provider = (*FlashLoanManager)(nil)

// NewFlashLoanManager creates a new flash loan manager
func NewFlashLoanManager(logger *zap.Logger, m *metrics.FlashLoanMetrics) *FlashLoanManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FlashLoanManager{
		logger:  logger,
		metrics: m,
	}
}

// AddProvider adds a new flash loan provider
func (m *FlashLoanManager) AddProvider(provider Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.providers {
		if p.String() == provider.String() {
			return fmt.Errorf("provider %s already registered", provider)
		}
	}
	m.providers = append(m.providers, provider)
	return nil
}

func (m *FlashLoanManager) Providers() []Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Provider(nil), m.providers...)
}

func (m *FlashLoanManager) String() string {
	return "manager"
}

// ExecuteFlashLoan executes a flash loan with optimal provider selection
func (m *FlashLoanManager) ExecuteFlashLoan(ctx chain.Context, params FlashLoanParams) error {
	provider, err := m.selectOptimalProvider(ctx, params.Amount)
	if err != nil {
		if m.metrics != nil {
			m.metrics.Failures.WithLabelValues("provider_selection").Inc()
		}
		return err
	}

	ctx.Logger().Debug("Selected flash loan provider",
		zap.String("provider", provider.String()),
		zap.String("amount", params.Amount.String()))

	return provider.ExecuteFlashLoan(ctx, params)
}

// GetFlashLoanFee quotes the fee of the provider that would serve amount.
// When none can fund it, the cheapest quote is returned, and zero when no
// provider is registered.
func (m *FlashLoanManager) GetFlashLoanFee(ctx chain.Context, amount *big.Int) *big.Int {
	if provider, err := m.selectOptimalProvider(ctx, amount); err == nil {
		return provider.GetFlashLoanFee(ctx, amount)
	}
	var cheapest *big.Int
	for _, p := range m.Providers() {
		if fee := p.GetFlashLoanFee(ctx, amount); cheapest == nil || fee.Cmp(cheapest) < 0 {
			cheapest = fee
		}
	}
	if cheapest == nil {
		return new(big.Int)
	}
	return cheapest
}

// GetLiquidity is the largest single loan any provider can fund.
func (m *FlashLoanManager) GetLiquidity(ctx chain.Context) *big.Int {
	best := new(big.Int)
	for _, p := range m.Providers() {
		if l := p.GetLiquidity(ctx); l.Cmp(best) > 0 {
			best = l
		}
	}
	return best
}

// selectOptimalProvider selects the best provider based on fees and liquidity
func (m *FlashLoanManager) selectOptimalProvider(ctx chain.Context, amount *big.Int) (Provider, error) {
	providers := m.Providers()
	if len(providers) == 0 {
		return nil, errorsmod.Wrap(types.ErrInsufficientLiquidity, "no flash loan providers registered")
	}

	var (
		bestProvider Provider
		bestFee      *big.Int
	)

	for _, provider := range providers {
		if provider.GetLiquidity(ctx).Cmp(amount) < 0 {
			m.logger.Debug("Provider lacks liquidity", zap.String("provider", provider.String()))
			continue
		}

		// Check if this is the best fee so far
		fee := provider.GetFlashLoanFee(ctx, amount)
		if bestFee == nil || fee.Cmp(bestFee) < 0 {
			bestProvider = provider
			bestFee = fee
		}
	}

	if bestProvider == nil {
		return nil, errorsmod.Wrapf(types.ErrInsufficientLiquidity, "no provider can lend %s", amount)
	}
	return bestProvider, nil
}
