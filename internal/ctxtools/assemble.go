package ctxtools

import (
	"context"
	"fmt"

	"github.com/HendryAvila/workshop/internal/assembler"
	"github.com/mark3labs/mcp-go/mcp"
)

// AssembleTool handles the ctx_assemble MCP tool.
type AssembleTool struct {
	asm *assembler.Assembler
}

// NewAssembleTool creates an AssembleTool with the given assembler.
func NewAssembleTool(asm *assembler.Assembler) *AssembleTool {
	return &AssembleTool{asm: asm}
}

// Definition returns the MCP tool definition for ctx_assemble.
func (t *AssembleTool) Definition() mcp.Tool {
	return mcp.NewTool("ctx_assemble",
		mcp.WithDescription(
			"Assemble the context bundle for a task: active standards, relevant files, and recent history, "+
				"bounded to a byte budget. Call this FIRST when picking up a task. A degraded bundle "+
				"means some sources were unavailable; the bundle says which.",
		),
		mcp.WithString("project",
			mcp.Required(),
			mcp.Description("Project identifier"),
		),
		mcp.WithString("task",
			mcp.Required(),
			mcp.Description("What the task is about, in a sentence; drives file and history relevance"),
		),
		mcp.WithString("domain",
			mcp.Description("Domain the task lives in (scopes standards and boosts matching history)"),
		),
	)
}

// Handle processes the ctx_assemble tool call.
func (t *AssembleTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := req.GetString("project", "")
	task := req.GetString("task", "")
	if project == "" {
		return mcp.NewToolResultError("'project' is required"), nil
	}
	if task == "" {
		return mcp.NewToolResultError("'task' is required"), nil
	}

	bundle, err := t.asm.Assemble(ctx, project, req.GetString("domain", ""), task)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("assembly failed: %v", err)), nil
	}
	return mcp.NewToolResultText(assembler.FormatBundle(bundle)), nil
}
