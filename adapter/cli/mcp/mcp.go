// Package mcp holds the "fieldsync mcp" command group.
package mcp

import "github.com/spf13/cobra"

// Cmd groups the MCP subcommands; the root command mounts it.
var Cmd = &cobra.Command{
	Use:     "mcp",
	Aliases: []string{"agent"},
	Short:   "Expose job sync to MCP clients",
}

func init() { Cmd.AddCommand(serveCmd) }
