package main

import (
	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags; left as a default for
// local builds (matches the teacher's own cmd/docker-mcp versioning).
var version = "dev"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mcphubd",
		Short:         "MCP hub: mounts upstream MCP servers and serves one aggregated capability set",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	cmd.AddCommand(newServeCommand())
	return cmd
}
