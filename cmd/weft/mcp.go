package main

import (
	"fmt"
	"log"
	"os"

	"github.com/aretw0/weft/internal/cli"
	"github.com/aretw0/weft/pkg/adapters/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Exposes the ledger as MCP tools, so agents can submit, vote and release.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := loadStack(cmd)
		if err != nil {
			return err
		}
		defer stack.Close()

		transport, _ := cmd.Flags().GetString("transport")
		addr, _ := cmd.Flags().GetString("addr")

		srv := mcp.NewServer(stack.Engine, stack.Logger)

		switch transport {
		case "stdio":
			// Ensure logs don't corrupt JSON-RPC on Stdout
			log.SetOutput(os.Stderr)
			stack.Logger.Info("Starting Weft MCP Server (Stdio)")
			return srv.ServeStdio()
		case "sse":
			ctx, stop := cli.WithShutdownSignal(cmd.Context())
			defer stop()
			if err := srv.ServeSSE(ctx, addr); err != nil {
				return err
			}
			stack.Logger.Info("MCP Server stopped gracefully")
			return nil
		default:
			return fmt.Errorf("unknown transport: %s. Supported: stdio, sse", transport)
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().String("ledger", "", "Ledger ID (overrides the config)")
	mcpCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().String("addr", "localhost:8081", "Address to listen on (only for SSE)")
}
