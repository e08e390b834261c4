package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/michaelpento.lv/pricelab/simulator"
	"github.com/michaelpento.lv/pricelab/types"
)

func newOracleCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oracle",
		Short: "Inspect the defensive oracles",
	}
	cmd.AddCommand(newOracleWatchCmd(opts))
	return cmd
}

func newOracleWatchCmd(opts *rootOptions) *cobra.Command {
	var (
		samples     int
		interval    time.Duration
		pace        time.Duration
		afterAttack bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Record TWAP samples over simulated time and print the oracle prices",
		Long: `watch advances the simulated clock by --interval before each scheduled TWAP
update and prints the primary spot price, the TWAP and the aggregated price.
With --after-attack the configured attack is committed first, so the output
shows how slowly the TWAP follows the manipulated spot price. --pace spaces
the samples out in wall-clock time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sim, err := opts.deploy(ctx, nil)
			if err != nil {
				return err
			}
			if interval <= 0 {
				interval = sim.Config().Oracle.MinInterval
			}
			if afterAttack {
				if _, err := sim.RunAttack(ctx, simulator.TargetVulnerable, simulator.Attacker, nil); err != nil {
					return fmt.Errorf("attack before watching failed: %w", err)
				}
			}

			limit := rate.Inf
			if pace > 0 {
				limit = rate.Every(pace)
			}
			limiter := rate.NewLimiter(limit, 1)
			log := sim.Config().Logger

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-22s %-26s %-26s %s\n", "TIME", "SPOT", "TWAP", "AGGREGATED")
			for i := 0; i < samples; i++ {
				if err := limiter.Wait(ctx); err != nil {
					return err
				}
				sim.AdvanceClock(interval)
				if err := sim.UpdateTWAP(ctx); err != nil {
					if !errors.Is(err, types.ErrRateLimited) {
						return err
					}
					log.Warn("TWAP sample skipped", zap.Error(err))
				}

				snap, err := sim.Snapshot(ctx)
				if err != nil {
					return err
				}
				twap := snap.TWAP.Error
				if twap == "" {
					twap = types.FormatUnits(snap.TWAP.TWAP)
				}
				agg := "-"
				if r := snap.Aggregator.Report; r != nil && r.Price != nil {
					agg = types.FormatUnits(r.Price)
				} else if r != nil {
					agg = r.Error
				}
				fmt.Fprintf(out, "%-22s %-26s %-26s %s\n",
					snap.Time.Format(time.RFC3339), types.FormatUnits(snap.Pools[0].SpotPrice), twap, agg)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&samples, "samples", 5, "number of TWAP updates to record")
	cmd.Flags().DurationVar(&interval, "interval", 0, "simulated time between updates (default the oracle minimum interval)")
	cmd.Flags().DurationVar(&pace, "pace", 0, "wall-clock time between updates")
	cmd.Flags().BoolVar(&afterAttack, "after-attack", false, "commit the configured attack before watching")
	return cmd
}
