package cmd

import (
	"fmt"
	"io"
	"math/big"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/pricelab/simulator"
	"github.com/michaelpento.lv/pricelab/types"
)

type scenarioCase struct {
	name   string
	target simulator.Target
	flash  *big.Int
}

func newScenarioCmd(opts *rootOptions) *cobra.Command {
	var flashB string
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Run the reference attacks against fresh testbeds",
		Long: `scenario deploys a fresh testbed per case and runs the configured attack
against the vulnerable market, a larger attack against the vulnerable market
and the configured attack against the protected market, printing the debug
analysis of each run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			large, err := types.ParseUnits(flashB)
			if err != nil {
				return fmt.Errorf("invalid --flash-b: %w", err)
			}

			out := cmd.OutOrStdout()
			cases := []scenarioCase{
				{"A", simulator.TargetVulnerable, cfg.Attack.FlashAmount.Int()},
				{"B", simulator.TargetVulnerable, large},
				{"A", simulator.TargetProtected, cfg.Attack.FlashAmount.Int()},
			}
			for _, c := range cases {
				sim, err := opts.deployWith(cmd.Context(), cfg, nil)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "\n##### Scenario %s: flash %s A against the %s market #####\n\n",
					c.name, types.FormatUnits(c.flash), c.target)
				res, err := sim.RunAttack(cmd.Context(), c.target, simulator.Attacker, c.flash)
				if err != nil {
					cfg.Logger.Info("Scenario attack reverted",
						zap.String("scenario", c.name),
						zap.String("target", string(c.target)),
						zap.String("kind", types.Kind(err)))
					fmt.Fprintf(out, "Attack reverted (%s): %v\n\n", types.Kind(err), err)
				}
				if res == nil {
					continue
				}
				if err := printReport(out, sim, c.target, res); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flashB, "flash-b", "10000", "flash amount of the large scenario, in units of A")
	return cmd
}

// printReport writes the analysis of res read against its market's terms.
func printReport(w io.Writer, sim *simulator.Simulator, target simulator.Target, res *simulator.Result) error {
	market, err := sim.Market(target)
	if err != nil {
		return err
	}
	return simulator.WriteReport(w, res.Trace, simulator.ReportParams{
		LTVBps:      market.LTVBps(),
		FlashFeeBps: sim.Facility.FeeBps(),
	})
}
