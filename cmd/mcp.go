package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joescharf/verdict/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an agent normalize reviewer output, run the council and the wave
gate, and query history natively. Configure it with:

  {
    "mcpServers": {
      "verdict": { "command": "verdict", "args": ["mcp"] }
    }
  }

Available tools: verdict_normalize, verdict_council, verdict_gate, verdict_history`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// History is optional; the other tools work without a database.
	s, err := getStore()
	if err != nil {
		ui.Warning("History unavailable: %v", err)
		s = nil
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return mcp.NewServer(s, cfg, buildVersion).ServeStdio(ctx)
}
