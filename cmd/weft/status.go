package main

import (
	"fmt"
	"os"

	"github.com/aretw0/weft/internal/cli"
	"github.com/aretw0/weft/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a ledger",
	Long:  `Prints the epoch, pending interactions, domains and recent commits of a ledger. Useful with a shared redis store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := loadStack(cmd)
		if err != nil {
			return err
		}
		defer stack.Close()

		if asGraph, _ := cmd.Flags().GetBool("graph"); asGraph {
			out, err := cli.Graph(cmd.Context(), stack.Engine)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		}

		recent, _ := cmd.Flags().GetInt("recent")
		st, err := cli.BuildStatus(cmd.Context(), stack.Engine, recent)
		if err != nil {
			return err
		}
		return cli.RenderStatus(os.Stdout, st, tui.NewRenderer())
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().String("ledger", "", "Ledger ID (overrides the config)")
	statusCmd.Flags().Int("recent", 10, "Number of commits to list (0 for all)")
	statusCmd.Flags().Bool("graph", false, "Print the domains as a Mermaid diagram")
}
