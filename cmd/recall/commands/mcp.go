// ABOUTME: MCP command starts Model Context Protocol server
// ABOUTME: Enables LLM agents to query screen history via stdio
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/harper/recall/internal/mcp"
)

// NewMCPCmd creates the MCP command.
func NewMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start MCP server for LLM agents",
		Long: `Run recall as an MCP (Model Context Protocol) server over stdio,
exposing screen-history search and stats as tools for LLM agents.`,
		RunE: runMCP,
		Example: `  # Start MCP server (typically launched by the MCP client)
  recall mcp

  # Client configuration:
  # {
  #   "mcpServers": {
  #     "recall": {
  #       "command": "recall",
  #       "args": ["mcp"]
  #     }
  #   }
  # }`,
	}
}

func runMCP(cmd *cobra.Command, args []string) error {
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	engine, err := a.engine()
	if err != nil {
		return err
	}

	server := mcpserver.NewMCPServer("recall screen memory", versionInfo.Version)
	mcp.RegisterTools(server, a.store, engine, a.synthesizer(), a.cfg.VLMModel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.logger.Info("MCP server starting on stdio")
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- mcpserver.ServeStdio(server)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
		return nil
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}
