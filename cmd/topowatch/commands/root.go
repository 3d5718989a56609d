package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/aegis-sentinel/topowatch/internal/common/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile     string
	verbose     bool
	debug       bool
	metricsPort int
)

func newRootCmd(ctx context.Context, logger *logging.Logger) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "topowatch",
		Short: "Topowatch - Passive Topology Inference & Protocol Classification Engine",
		Long: `Topowatch continuously dissects captured traffic layer by layer, classifies
it by protocol, and folds it into a live model of the network topology:
entities, VLANs, spanning-tree bridges, REP/MRP rings, multicast groups,
LLDP/CDP neighbors, and direction-normalized flows with per-protocol
statistics and device fingerprints.`,
		Version: "1.0.0",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug {
				logger.SetMinLevel(logging.SeverityDebug)
			} else if verbose {
				logger.SetMinLevel(logging.SeverityInfo)
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.topowatch.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug output")
	rootCmd.PersistentFlags().IntVar(&metricsPort, "metrics-port", 9091, "Prometheus metrics port")

	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(newStartCmd(ctx, logger))
	rootCmd.AddCommand(newReplayCmd(ctx, logger))
	rootCmd.AddCommand(newSignaturesCmd(logger))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func Execute(ctx context.Context, logger *logging.Logger) error {
	return newRootCmd(ctx, logger).ExecuteContext(ctx)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".topowatch")
	}

	viper.SetEnvPrefix("TOPOWATCH")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
