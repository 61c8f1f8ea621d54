package main

import (
	"fmt"
	"os"

	"github.com/aretw0/weft/internal/cli"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "weft",
	Short: "Weft orders concurrently submitted interactions",
	Long: `Weft linearizes the interactions of concurrent process instances into per-domain
total orders, voted by the participants of each conflict domain.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the weft YAML config")
	rootCmd.PersistentFlags().String("log-level", "", "Override the configured log level (debug, info, warn, error)")
}

// loadStack builds the engine stack from the persistent flags.
func loadStack(cmd *cobra.Command) (*cli.Stack, error) {
	path, _ := cmd.Flags().GetString("config")
	level, _ := cmd.Flags().GetString("log-level")

	cfg, err := cli.LoadConfig(path, level)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("ledger") {
		cfg.Ledger.ID, _ = cmd.Flags().GetString("ledger")
	}
	return cli.NewStack(cfg, cli.CreateLogger(cfg))
}
