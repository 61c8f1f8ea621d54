package main

import (
	"fmt"

	"github.com/aretw0/weft/internal/cli"
	"github.com/spf13/cobra"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Manage stored ledgers",
}

var ledgerLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List stored ledgers",
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := loadStack(cmd)
		if err != nil {
			return err
		}
		defer stack.Close()

		ids, err := cli.ListLedgers(cmd.Context(), stack)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("No ledgers found.")
			return nil
		}
		for _, id := range ids {
			fmt.Println("- " + id)
		}
		return nil
	},
}

var ledgerRmCmd = &cobra.Command{
	Use:   "rm [ledger-id]",
	Short: "Delete a stored ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := loadStack(cmd)
		if err != nil {
			return err
		}
		defer stack.Close()

		if err := cli.DeleteLedger(cmd.Context(), stack, args[0]); err != nil {
			return err
		}
		fmt.Printf("Ledger '%s' deleted.\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerLsCmd)
	ledgerCmd.AddCommand(ledgerRmCmd)
}
