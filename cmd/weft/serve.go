package main

import (
	"os"
	"strings"

	"github.com/aretw0/weft"
	"github.com/aretw0/weft/internal/cli"
	"github.com/aretw0/weft/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ledger daemon",
	Long: `Serves the ledger over HTTP, advances blocks on a clock and, when enabled, runs the
coordinator that votes on behalf of every orderer. With redis configured, several daemons
share one ledger.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := loadStack(cmd)
		if err != nil {
			return err
		}
		defer stack.Close()

		if addr, _ := cmd.Flags().GetString("addr"); cmd.Flags().Changed("addr") {
			stack.Config.HTTP.Addr = addr
		}
		if addr, _ := cmd.Flags().GetString("metrics-addr"); cmd.Flags().Changed("metrics-addr") {
			stack.Config.Metrics.Addr = addr
		}
		if enabled, _ := cmd.Flags().GetBool("drive"); cmd.Flags().Changed("drive") {
			stack.Config.Driver.Enabled = enabled
		}

		tui.PrintBanner(os.Stderr, strings.TrimSpace(weft.Version))

		ctx, stop := cli.WithShutdownSignal(cmd.Context())
		err = cli.Serve(ctx, stack)
		sig := stop()
		if err != nil {
			return err
		}
		if sig != nil {
			stack.Logger.Info("Daemon stopped", "signal", sig.String())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("ledger", "", "Ledger ID (overrides the config)")
	serveCmd.Flags().StringP("addr", "a", ":8080", "HTTP listen address")
	serveCmd.Flags().String("metrics-addr", "", "Serve metrics on a separate address instead of /metrics")
	serveCmd.Flags().Bool("drive", false, "Run the coordinator that votes for every orderer")
}
