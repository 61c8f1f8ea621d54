package main

import (
	"encoding/json"
	"os"

	"github.com/aretw0/weft/internal/cli"
	"github.com/aretw0/weft/pkg/executor"
	"github.com/spf13/cobra"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a workload against an in-process ledger",
	Long: `Submits the tasks of every configured instance round after round, lets the coordinator
order each epoch and reports how often each instance of the tallied pairs came first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := loadStack(cmd)
		if err != nil {
			return err
		}
		defer stack.Close()

		if mode, _ := cmd.Flags().GetString("mode"); cmd.Flags().Changed("mode") {
			stack.Config.Executor.Mode = executor.Mode(mode)
		}

		rounds, _ := cmd.Flags().GetInt("rounds")
		scenario := cli.DefaultScenario(stack, rounds)
		if path, _ := cmd.Flags().GetString("scenario"); path != "" {
			if scenario, err = cli.LoadScenario(path); err != nil {
				return err
			}
			if cmd.Flags().Changed("rounds") {
				scenario.Rounds = rounds
			}
		}

		ctx, stop := cli.WithShutdownSignal(cmd.Context())
		defer stop()

		res, err := cli.Simulate(ctx, stack, scenario)
		if err != nil {
			return cli.HandleExecutionError(err)
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		cli.PrintSimulation(os.Stdout, res)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().String("ledger", "", "Ledger ID (overrides the config)")
	simulateCmd.Flags().IntP("rounds", "n", cli.DefaultRounds, "Number of rounds")
	simulateCmd.Flags().StringP("scenario", "s", "", "Scenario file (default: every role task over every instance)")
	simulateCmd.Flags().String("mode", "", "Execution mode: ordered or direct")
	simulateCmd.Flags().Bool("json", false, "Print the result as JSON")
}
