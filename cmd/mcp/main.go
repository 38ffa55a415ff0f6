// Command mcp serves the escrow toolset to MCP clients over stdio.
//
// CLEARHOLD_API_URL points at a running server (default http://localhost:8080)
// and CLEARHOLD_API_KEY authenticates the agent; every tool call carries the
// agent's own authority.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/clearhold/clearhold/internal/mcpserver"
)

const version = "1.0.0"

func main() {
	_ = godotenv.Load()

	baseURL := os.Getenv("CLEARHOLD_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	apiKey := os.Getenv("CLEARHOLD_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "CLEARHOLD_API_KEY is required")
		os.Exit(1)
	}

	s := mcpserver.New(mcpserver.NewClient(baseURL, apiKey), version)
	if err := mcpserver.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "mcp server error: %v\n", err)
		os.Exit(1)
	}
}
