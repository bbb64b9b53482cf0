// Package main provides the stepbind-mcp binary, an MCP server exposing
// binding validation, step matching and dry runs to AI agents.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	smcp "github.com/ormasoftchile/stepbind/pkg/ecosystem/mcp"
)

var version = "dev"

func main() {
	s := smcp.NewServer(version)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
