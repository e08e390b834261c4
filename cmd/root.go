package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/pricelab/config"
	"github.com/michaelpento.lv/pricelab/simulator"
	"github.com/michaelpento.lv/pricelab/utils"
)

type rootOptions struct {
	cfgFile string
	debug   bool
	envFile string
}

// NewRootCmd builds the pricelab command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "pricelab",
		Short: "A price-oracle manipulation testbed",
		Long: `pricelab deploys two constant-product pools, a flash loan facility and two
lending markets in memory, then runs flash-loan-funded oracle manipulation
attacks against a market priced off the spot pool and one priced through a
TWAP and multi-oracle aggregator.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is $"+config.EnvConfig+" or built-in defaults)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")

	root.AddCommand(
		newScenarioCmd(opts),
		newAttackCmd(opts),
		newPlanCmd(opts),
		newOracleCmd(opts),
		newServeCmd(opts),
	)
	return root
}

func Execute() error {
	return NewRootCmd().Execute()
}

func ExecuteContext(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// loadConfig reads the env file and config and attaches the global logger.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if err := config.LoadEnv(o.envFile); err != nil {
		return nil, err
	}
	path := o.cfgFile
	if path == "" {
		path = config.GetEnvWithDefault(config.EnvConfig, "")
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := utils.InitLogger(utils.LogOptions{
		Debug:     o.debug || cfg.Debug,
		Encoding:  cfg.Log.Encoding,
		File:      cfg.Log.File,
		ErrorFile: cfg.Log.ErrorFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	cfg.Logger = logger
	cfg.Logger.Debug("Configuration loaded", zap.String("path", path))
	return cfg, nil
}

func (o *rootOptions) deploy(ctx context.Context, reg prometheus.Registerer) (*simulator.Simulator, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return o.deployWith(ctx, cfg, reg)
}

func (o *rootOptions) deployWith(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*simulator.Simulator, error) {
	sim, err := simulator.Deploy(ctx, cfg, reg)
	if err != nil {
		return nil, fmt.Errorf("failed to deploy testbed: %w", err)
	}
	return sim, nil
}
