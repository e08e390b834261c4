package simulator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/big"

	"github.com/michaelpento.lv/pricelab/strategies/manipulation"
	"github.com/michaelpento.lv/pricelab/types"
)

// ReportParams carries the market terms a report is read against.
type ReportParams struct {
	LTVBps      uint64
	FlashFeeBps uint64
}

// formatMultiple renders a basis-point ratio as a multiple ("9.00x").
func formatMultiple(bps *big.Int) string {
	if bps == nil {
		return "0.00x"
	}
	hundredths := new(big.Int).Quo(bps, big.NewInt(100))
	q, r := new(big.Int).QuoRem(hundredths, big.NewInt(100), new(big.Int))
	return fmt.Sprintf("%s.%02dx", q.String(), new(big.Int).Abs(r).Int64())
}

// WriteReport renders a trace as a human-readable analysis: every recorded
// quantity, the derived ratios and whether the borrow could cover the
// flash loan repayment.
func WriteReport(w io.Writer, t *manipulation.Trace, p ReportParams) error {
	bw := bufio.NewWriter(w)
	if t == nil {
		fmt.Fprintln(bw, "No attack has been recorded yet.")
		return bw.Flush()
	}
	ltv := types.FormatBps(new(big.Int).SetUint64(p.LTVBps))
	fee := types.FormatBps(new(big.Int).SetUint64(p.FlashFeeBps))
	line := func(label, value, unit string) {
		fmt.Fprintf(bw, "%-28s%s %s\n", label+":", value, unit)
	}

	fmt.Fprintf(bw, "=== ATTACK TRACE (%s, height %d) ===\n\n", t.Target, t.Height)
	line("Loaned Amount", types.FormatUnits(t.FlashAmount), "A")
	line("TokenB Bought", types.FormatUnits(t.BoughtB), "B")
	line("Initial Price (A/B)", types.FormatUnits(t.InitialPrice), "A/B")
	line("Inflated Price (A/B)", types.FormatUnits(t.InflatedPrice), "A/B")
	line("Collateral Deposited", types.FormatUnits(t.CollateralDeposited), "B")
	line("Collateral Value in A", types.FormatUnits(t.CollateralValue), "A")
	line(fmt.Sprintf("Max Borrow (%s LTV)", ltv), types.FormatUnits(t.MaxBorrow), "A")
	line(fmt.Sprintf("Flash Fee (%s)", fee), types.FormatUnits(t.Fee), "A")
	line("Repayment (Loan + Fee)", types.FormatUnits(t.Repayment), "A")
	line("Actual Borrow Amount", types.FormatUnits(t.Borrowed), "A")
	if t.UnwoundB.Sign() > 0 {
		line("Unwound on Secondary", types.FormatUnits(t.UnwoundB), "B")
		line("Recovered from Unwind", types.FormatUnits(t.UnwoundA), "A")
	}
	line("Contract Balance After", types.FormatUnits(t.BalanceAfterRepayment), "A")
	line("Residual B Forwarded", types.FormatUnits(t.ResidualB), "B")
	fmt.Fprintln(bw)
	line("LEFTOVER / PROFIT", types.FormatUnits(t.Leftover), "A")

	fmt.Fprint(bw, "\n=== ATTACK METRICS ===\n\n")
	line("Price Multiplier", formatMultiple(t.PriceMultiplier), "")
	line("Price Pump Percentage", types.FormatBps(new(big.Int).Mul(t.PricePump, big.NewInt(100))), "")
	line("LTV Used", types.FormatBps(t.LTVUsed), "")
	line("Profit ROI", types.FormatBps(t.ROI), "")

	enough := t.MaxBorrow.Cmp(t.Repayment) >= 0
	fmt.Fprint(bw, "\nANALYSIS:\n")
	fmt.Fprintf(bw, "  - Max borrow (%s LTV):  %s A\n", ltv, types.FormatUnits(t.MaxBorrow))
	fmt.Fprintf(bw, "  - Required repayment:    %s A\n", types.FormatUnits(t.Repayment))
	fmt.Fprintf(bw, "  - Can borrow enough?     %s\n", yesNo(enough))
	sign := "NEGATIVE"
	if t.Leftover.Sign() > 0 {
		sign = "POSITIVE"
	}
	fmt.Fprintf(bw, "  - Profit (leftover):     %s A %s\n", types.FormatUnits(t.Leftover), sign)

	if !enough {
		shortfall := new(big.Int).Sub(t.Repayment, t.MaxBorrow)
		fmt.Fprint(bw, "\nISSUE DETECTED:\n")
		fmt.Fprintf(bw, "  The max borrow amount (%s A) is LESS than repayment (%s A)\n",
			types.FormatUnits(t.MaxBorrow), types.FormatUnits(t.Repayment))
		fmt.Fprintf(bw, "  Shortfall: %s A\n", types.FormatUnits(shortfall))
		fmt.Fprint(bw, "\n  SOLUTIONS:\n")
		fmt.Fprint(bw, "  1. Increase flash loan amount (pumps B price more)\n")
		fmt.Fprint(bw, "  2. Increase primary pool seeding (less price impact per unit borrowed)\n")
		fmt.Fprint(bw, "  3. Increase lending pool size (more available liquidity)\n")
		fmt.Fprint(bw, "  4. Reduce primary pool initial B amount (more extreme price pump)\n")
		fmt.Fprint(bw, "  5. Enable unwinding residual collateral on the secondary pool\n")
	} else {
		fmt.Fprintf(bw, "\nAttack should succeed! Profit margin: %s A\n",
			types.FormatUnits(new(big.Int).Sub(t.MaxBorrow, t.Repayment)))
	}
	if t.Failure != "" {
		fmt.Fprintf(bw, "\nFAILURE: %s\n", t.Failure)
	}
	return bw.Flush()
}

func yesNo(b bool) string {
	if b {
		return "YES"
	}
	return "NO"
}

// Report writes the analysis of the last committed attack against target.
func (s *Simulator) Report(ctx context.Context, w io.Writer, target Target) error {
	market, err := s.Market(target)
	if err != nil {
		return err
	}
	trace, err := s.LastTrace(ctx, target)
	if err != nil {
		return err
	}
	return WriteReport(w, trace, ReportParams{
		LTVBps:      market.LTVBps(),
		FlashFeeBps: s.Facility.FeeBps(),
	})
}
