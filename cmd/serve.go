package cmd

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/pricelab/api"
	"github.com/michaelpento.lv/pricelab/utils/monitor"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		listen          string
		monitorInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Deploy a testbed and serve it over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.API.Listen = listen
			}
			log := cfg.Logger
			defer log.Sync() //nolint:errcheck

			// runtime metrics alongside the testbed's own
			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			ctx := cmd.Context()
			sim, err := opts.deployWith(ctx, cfg, reg)
			if err != nil {
				return err
			}
			mon := monitor.NewStateMonitor(sim, reg, "pricelab", monitorInterval, log)
			mon.Start(ctx)
			defer mon.Stop()

			server := api.NewServer(cfg.API, sim, reg, log)

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				log.Info("Shutting down", zap.Error(ctx.Err()))
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Stop(shutdownCtx); err != nil {
				return err
			}
			return <-errCh
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides the config)")
	cmd.Flags().DurationVar(&monitorInterval, "monitor-interval", 5*time.Second, "how often oracle gauges are refreshed")
	return cmd
}
