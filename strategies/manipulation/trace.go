package manipulation

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/pricelab/types"
	mathutil "github.com/michaelpento.lv/pricelab/utils/math"
)

// Trace records every intermediate quantity of one attack run. Amounts and
// prices are 1e18-scaled; ratios are basis points.
type Trace struct {
	Target      string         `json:"target"`
	Beneficiary common.Address `json:"beneficiary"`
	Height      uint64         `json:"height"`
	Timestamp   time.Time      `json:"timestamp"`

	FlashAmount   *big.Int `json:"flashAmount"`
	BoughtB       *big.Int `json:"boughtB"`
	InitialPrice  *big.Int `json:"initialPrice"`
	InflatedPrice *big.Int `json:"inflatedPrice"`

	CollateralDeposited *big.Int `json:"collateralDeposited"`
	CollateralValue     *big.Int `json:"collateralValueInA"`
	MaxBorrow           *big.Int `json:"maxBorrowA"`
	Borrowed            *big.Int `json:"borrowAmount"`

	Fee                   *big.Int `json:"flashFee"`
	Repayment             *big.Int `json:"repaymentAmount"`
	UnwoundB              *big.Int `json:"unwoundB"`
	UnwoundA              *big.Int `json:"unwoundA"`
	BalanceAfterRepayment *big.Int `json:"contractBalanceAfter"`
	Leftover              *big.Int `json:"leftoverA"`
	ResidualB             *big.Int `json:"residualB"`

	PriceMultiplier *big.Int `json:"priceMultiplier"`
	PricePump       *big.Int `json:"pricePumpPercentage"`
	LTVUsed         *big.Int `json:"ltvUsed"`
	ROI             *big.Int `json:"profitROI"`

	Succeeded bool   `json:"succeeded"`
	Failure   string `json:"failure,omitempty"`
}

func newTrace(flashAmount *big.Int) *Trace {
	zero := func() *big.Int { return new(big.Int) }
	return &Trace{
		FlashAmount:           new(big.Int).Set(flashAmount),
		BoughtB:               zero(),
		InitialPrice:          zero(),
		InflatedPrice:         zero(),
		CollateralDeposited:   zero(),
		CollateralValue:       zero(),
		MaxBorrow:             zero(),
		Borrowed:              zero(),
		Fee:                   zero(),
		Repayment:             zero(),
		UnwoundB:              zero(),
		UnwoundA:              zero(),
		BalanceAfterRepayment: zero(),
		Leftover:              zero(),
		ResidualB:             zero(),
		PriceMultiplier:       zero(),
		PricePump:             zero(),
		LTVUsed:               zero(),
		ROI:                   zero(),
	}
}

// derive fills the ratio fields from the recorded quantities.
func (t *Trace) derive() {
	t.PriceMultiplier = mathutil.RatioBps(t.InflatedPrice, t.InitialPrice)
	pump := new(big.Int).Sub(t.PriceMultiplier, types.Bps)
	t.PricePump = pump.Quo(pump, big.NewInt(100))
	t.LTVUsed = mathutil.RatioBps(t.Borrowed, t.MaxBorrow)
	t.ROI = mathutil.RatioBps(t.Leftover, t.FlashAmount)
}

// Clone returns a deep copy.
func (t *Trace) Clone() *Trace {
	if t == nil {
		return nil
	}
	c := *t
	for _, p := range []**big.Int{
		&c.FlashAmount, &c.BoughtB, &c.InitialPrice, &c.InflatedPrice,
		&c.CollateralDeposited, &c.CollateralValue, &c.MaxBorrow, &c.Borrowed,
		&c.Fee, &c.Repayment, &c.UnwoundB, &c.UnwoundA,
		&c.BalanceAfterRepayment, &c.Leftover, &c.ResidualB,
		&c.PriceMultiplier, &c.PricePump, &c.LTVUsed, &c.ROI,
	} {
		*p = types.Clone(*p)
	}
	return &c
}

// State is the orchestrator's view of its own and its beneficiary's
// holdings plus the outcome of the last committed run.
type State struct {
	Address      common.Address `json:"address"`
	Beneficiary  common.Address `json:"beneficiary"`
	BeneficiaryA *big.Int       `json:"beneficiaryA"`
	BeneficiaryB *big.Int       `json:"beneficiaryB"`
	ContractA    *big.Int       `json:"contractA"`
	ContractB    *big.Int       `json:"contractB"`
	Collateral   *big.Int       `json:"myCollateral"`
	Debt         *big.Int       `json:"myDebt"`
	LastProfit   *big.Int       `json:"lastProfitAmount"`
	Succeeded    bool           `json:"succeeded"`
	Runs         uint64         `json:"runs"`
}
