package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/askdb/askdb/internal/assistant"
)

// AskTool handles the ask_database tool.
type AskTool struct {
	assistant Assistant
}

func NewAskTool(a Assistant) *AskTool {
	return &AskTool{assistant: a}
}

func (t *AskTool) Definition() mcp.Tool {
	return mcp.NewTool("ask_database",
		mcp.WithDescription(
			"Answer a question about the connected database. The question is turned into one SQL "+
				"statement, which is executed; the reply lists the generated SQL and the result rows.",
		),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Plain-language question, e.g. 'how many users signed up last week?'"),
		),
	)
}

// Handle returns pipeline failures as tool errors carrying the same text a
// chat user would see.
func (t *AskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question := strings.TrimSpace(req.GetString("question", ""))
	if question == "" {
		return mcp.NewToolResultError("'question' is required"), nil
	}

	answer, err := t.assistant.Ask(ctx, assistant.SourceMCP, question)
	if err != nil {
		return mcp.NewToolResultError(assistant.ErrorReply(err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SQL:\n%s\n\n", answer.SQL)
	b.WriteString(answer.Reply)
	return mcp.NewToolResultText(b.String()), nil
}

// SchemaTool handles the describe_schema tool.
type SchemaTool struct {
	assistant Assistant
}

func NewSchemaTool(a Assistant) *SchemaTool {
	return &SchemaTool{assistant: a}
}

func (t *SchemaTool) Definition() mcp.Tool {
	return mcp.NewTool("describe_schema",
		mcp.WithDescription("List every table in the connected database with its columns and declared types."),
	)
}

func (t *SchemaTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snapshot, err := t.assistant.DescribeSchema(ctx)
	if err != nil {
		return mcp.NewToolResultError(assistant.ErrorReply(err)), nil
	}
	rendered, err := snapshot.Render()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("render schema: %v", err)), nil
	}
	if len(snapshot.Tables) == 0 {
		return mcp.NewToolResultText("The database has no tables."), nil
	}
	return mcp.NewToolResultText(rendered), nil
}
