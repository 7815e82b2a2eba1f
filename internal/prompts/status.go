package prompts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the workshop-status MCP prompt.
// It instructs the AI to read and present the workspace state.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("workshop-status",
		mcp.WithPromptDescription(
			"Check the state of the workshop: recent events, active standards, "+
				"open RA tags, and running tasks.",
		),
	)
}

// Handle processes the workshop-status prompt request.
func (p *StatusPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Workshop Status",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"Please run `workshop_stats` to check the state of the workshop.\n\n" +
						"Then:\n" +
						"1. For each project with events, run `event_tail` and summarize what happened lately\n" +
						"2. Highlight open RA tags; those are unverified assumptions waiting for attention\n" +
						"3. If recurring decisions look un-promoted, suggest running `standards_audit`\n" +
						"4. Tell me what I should look at first",
				),
			},
		},
	}, nil
}
