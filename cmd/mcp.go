package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zbstctc/botool/internal/filesync"
	"github.com/zbstctc/botool/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an assistant query and drive the agent natively. Configure with:

  {
    "mcpServers": {
      "botool": { "command": "botool", "args": ["mcp"] }
    }
  }

Available tools: botool_status, botool_start, botool_stop, botool_batches,
botool_timeline, botool_history, botool_history_reset`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		engine, closeHistory, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = closeHistory() }()

		client := newClient()
		files := filesync.New(fileSource(client), filesync.WithPolicy(reconnectPolicy()))
		go func() { _ = files.Run(ctx) }()

		srv := mcp.NewServer(client, files, engine, buildVersion)
		return srv.ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
