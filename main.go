package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/evidex/indexer/internal/indexing"
	"github.com/evidex/indexer/tools"
)

const (
	version     = "0.3.0"
	serverName  = "evidex-case-server"
	description = "MCP server for searching the extracted text of an indexed evidence case"
)

func main() {
	// Handle version flag
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("%s version %s (index schema v%d)\n", serverName, version, indexing.IndexSchemaVersion)
		os.Exit(0)
	}

	// Set up logging to stderr (MCP uses stdout for protocol)
	log.SetOutput(os.Stderr)
	log.Printf("%s v%s starting...", serverName, version)

	if err := godotenv.Load(); err == nil {
		log.Printf("✓ Loaded .env")
	}

	server := createMCPServer()

	caseDir := tools.CaseDirFromEnv()
	if err := tools.RegisterCaseTools(server, caseDir); err != nil {
		log.Fatalf("Failed to register tools: %v", err)
	}
	log.Printf("✓ Case tools registered for %s", caseDir)

	log.Printf("✓ Server ready and waiting for connections")

	// Set up cleanup on shutdown
	defer func() {
		if err := tools.CloseCaseSearch(); err != nil {
			log.Printf("Error closing case search: %v", err)
		}
	}()

	// Run server with stdio transport
	ctx := context.Background()
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		log.Printf("Server error: %v", err)
	}
}

// createMCPServer initializes the MCP server
func createMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    serverName,
			Version: version,
		},
		&mcp.ServerOptions{
			Instructions: description,
		},
	)

	log.Printf("Server initialized: %s v%s", serverName, version)
	return server
}
