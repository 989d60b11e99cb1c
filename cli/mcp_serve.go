package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reposcope/reposcope/engine"
	"github.com/reposcope/reposcope/mcp"
)

var mcpServeCmd = &cobra.Command{
	Use:   "mcp-serve",
	Short: "Start reposcope as an MCP server",
	Long: `Start reposcope as an MCP (Model Context Protocol) server.

This allows AI agents to use reposcope as a native tool through the MCP protocol.
The server communicates via stdio and exposes the following tools:

  - reposcope_list: List indexed repositories
  - reposcope_index: Index or re-index repository directories
  - reposcope_search: Semantic code search across repositories
  - reposcope_chat: Answer questions grounded in cited code
  - reposcope_remove: Remove a repository from the index

Configuration for Cursor (.cursor/mcp.json):
  {
    "mcpServers": {
      "reposcope": {
        "command": "reposcope",
        "args": ["mcp-serve"]
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: runMCPServe,
}

func init() {
	rootCmd.AddCommand(mcpServeCmd)
}

func runMCPServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	eng, err := openEngine(ctx, engine.Options{})
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := mcp.NewServer(eng, Version).Serve(); err != nil {
		return fmt.Errorf("mcp server failed: %w", err)
	}
	return nil
}
