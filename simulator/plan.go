package simulator

import (
	"context"
	"errors"
	"math/big"

	"github.com/michaelpento.lv/pricelab/chain"
	"github.com/michaelpento.lv/pricelab/strategies/manipulation"
	"github.com/michaelpento.lv/pricelab/types"
)

// PlanResult is a predicted attack plus the break-even flash amount.
type PlanResult struct {
	Target Target             `json:"target"`
	Plan   *manipulation.Plan `json:"plan"`
	// MinProfitableFlash is nil when no amount up to the facility's
	// liquidity is predicted to pay off.
	MinProfitableFlash *big.Int `json:"minProfitableFlash,omitempty"`
	// SpotPriced is false for markets priced off the oracles, where the
	// prediction overstates what the market will lend.
	SpotPriced bool `json:"spotPriced"`
}

// Plan predicts an attack against target without executing it.
func (s *Simulator) Plan(ctx context.Context, target Target, flash *big.Int) (*PlanResult, error) {
	o, err := s.Attacker(target)
	if err != nil {
		return nil, err
	}
	if flash == nil {
		flash = s.cfg.Attack.FlashAmount.Int()
	}

	res := &PlanResult{Target: target, SpotPriced: target == TargetVulnerable}
	err = s.chain.Query(ctx, func(ctx chain.Context) error {
		plan, err := o.Plan(ctx, flash)
		if err != nil {
			return err
		}
		res.Plan = plan
		least, err := o.MinProfitableFlash(ctx, s.Facility.GetLiquidity(ctx))
		switch {
		case errors.Is(err, types.ErrUnprofitableAttack):
		case err != nil:
			return err
		default:
			res.MinProfitableFlash = least
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
