package cmd

import (
	"fmt"
	"math/big"

	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/pricelab/simulator"
	"github.com/michaelpento.lv/pricelab/types"
)

func newPlanCmd(opts *rootOptions) *cobra.Command {
	var (
		flash  string
		target string
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Predict an attack from pool reserves without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := simulator.ParseTarget(target)
			if err != nil {
				return err
			}
			var amount *big.Int
			if flash != "" {
				if amount, err = types.ParseUnits(flash); err != nil {
					return fmt.Errorf("invalid --flash: %w", err)
				}
			}
			sim, err := opts.deploy(cmd.Context(), nil)
			if err != nil {
				return err
			}
			res, err := sim.Plan(cmd.Context(), t, amount)
			if err != nil {
				return err
			}

			p, out := res.Plan, cmd.OutOrStdout()
			fmt.Fprintf(out, "=== ATTACK PLAN (%s) ===\n", t)
			fmt.Fprintf(out, "%-28s %s A\n", "Flash amount:", types.FormatUnits(p.FlashAmount))
			if p.BoughtB != nil {
				fmt.Fprintf(out, "%-28s %s B\n", "B bought:", types.FormatUnits(p.BoughtB))
				fmt.Fprintf(out, "%-28s %s\n", "Inflated price:", types.FormatUnits(p.InflatedPrice))
				fmt.Fprintf(out, "%-28s %s A\n", "Borrow:", types.FormatUnits(p.Borrow))
			}
			fmt.Fprintf(out, "%-28s %s A\n", "Repayment:", types.FormatUnits(p.Repayment))
			if p.Profitable {
				fmt.Fprintf(out, "%-28s %s A\n", "Predicted profit:", types.FormatUnits(p.Leftover))
			} else {
				fmt.Fprintf(out, "%-28s %s\n", "Unprofitable:", p.Reason)
			}
			if res.MinProfitableFlash != nil {
				fmt.Fprintf(out, "%-28s %s A\n", "Break-even flash amount:", types.FormatUnits(res.MinProfitableFlash))
			}
			if !res.SpotPriced {
				fmt.Fprintln(out, "Note: this market is priced by its oracles; the plan assumes spot pricing.")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flash, "flash", "", "flash loan amount in units of A (default from config)")
	cmd.Flags().StringVar(&target, "target", string(simulator.TargetVulnerable), "market to plan against: vulnerable or protected")
	return cmd
}
