// Command mcphubd runs the MCP hub: it loads a validated configuration,
// mounts the configured upstream servers, and serves the aggregated
// capability set to a single downstream client over stdio, SSE, or
// streamable HTTP (spec.md §6 "CLI").
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
