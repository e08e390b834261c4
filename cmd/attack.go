package cmd

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/pricelab/simulator"
	"github.com/michaelpento.lv/pricelab/types"
)

func newAttackCmd(opts *rootOptions) *cobra.Command {
	var (
		flash  string
		target string
		caller string
		dryRun bool
		asJSON bool
		warmUp int
	)
	cmd := &cobra.Command{
		Use:   "attack",
		Short: "Run one attack against a freshly deployed testbed",
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
			var from common.Address
			if caller != "" {
				if !common.IsHexAddress(caller) {
					return fmt.Errorf("invalid --caller %q", caller)
				}
				from = common.HexToAddress(caller)
			}

			sim, err := opts.deploy(cmd.Context(), nil)
			if err != nil {
				return err
			}
			if warmUp > 0 {
				if _, err := sim.WarmUpTWAP(cmd.Context(), warmUp, sim.Config().Oracle.MinInterval); err != nil {
					return err
				}
			}

			var res *simulator.Result
			if dryRun {
				res, err = sim.DryRunAttack(cmd.Context(), t, from, amount)
			} else {
				res, err = sim.RunAttack(cmd.Context(), t, from, amount)
			}
			if res == nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(res); encErr != nil {
					return encErr
				}
			} else if repErr := printReport(out, sim, t, res); repErr != nil {
				return repErr
			}
			if err != nil {
				return fmt.Errorf("attack reverted: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flash, "flash", "", "flash loan amount in units of A (default from config)")
	cmd.Flags().StringVar(&target, "target", string(simulator.TargetVulnerable), "market to attack: vulnerable or protected")
	cmd.Flags().StringVar(&caller, "caller", "", "calling account (default the testbed attacker)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "simulate the attack without committing it")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	cmd.Flags().IntVar(&warmUp, "warm-up", 0, "extra TWAP samples to record before attacking")
	return cmd
}
