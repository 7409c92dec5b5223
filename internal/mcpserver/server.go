// Package mcpserver exposes the assistant to MCP clients as tools.
package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	"github.com/askdb/askdb/internal/assistant"
	"github.com/askdb/askdb/internal/schema"
)

// Assistant is the subset of the question pipeline the tools call.
type Assistant interface {
	Ask(ctx context.Context, source, question string) (assistant.Answer, error)
	DescribeSchema(ctx context.Context) (schema.Snapshot, error)
}

const instructions = "askdb answers questions about a SQL database. " +
	"Call describe_schema to see the tables and columns, then ask_database with a plain-language question. " +
	"ask_database generates and runs one SQL statement and returns its rows."

// New builds an MCP server with the ask_database and describe_schema tools.
func New(a Assistant, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"askdb",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	askTool := NewAskTool(a)
	s.AddTool(askTool.Definition(), askTool.Handle)

	schemaTool := NewSchemaTool(a)
	s.AddTool(schemaTool.Definition(), schemaTool.Handle)

	return s
}
