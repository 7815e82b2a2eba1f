// Package prompts implements MCP prompt handlers for Workshop.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// StartPrompt handles the workshop-start MCP prompt.
// It guides the AI to pick up a task with full project context.
type StartPrompt struct{}

// NewStartPrompt creates a StartPrompt.
func NewStartPrompt() *StartPrompt {
	return &StartPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StartPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("workshop-start",
		mcp.WithPromptDescription(
			"Start a tracked task with full project context: assembles standards, "+
				"relevant files and recent history, then opens the phase pipeline.",
		),
		mcp.WithArgument("project",
			mcp.ArgumentDescription("Project identifier"),
		),
		mcp.WithArgument("task",
			mcp.ArgumentDescription("What you're about to do, in a sentence"),
		),
		mcp.WithArgument("domain",
			mcp.ArgumentDescription("Domain the task lives in (e.g. auth, nextjs)"),
		),
	)
}

// Handle processes the workshop-start prompt request.
func (p *StartPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	project := "my-project"
	task := "the task I describe next"
	domain := ""
	if args := req.Params.Arguments; args != nil {
		if v, ok := args["project"]; ok && v != "" {
			project = v
		}
		if v, ok := args["task"]; ok && v != "" {
			task = v
		}
		if v, ok := args["domain"]; ok {
			domain = v
		}
	}

	domainNote := ""
	domainArg := ""
	if domain != "" {
		domainNote = fmt.Sprintf(" in the '%s' domain", domain)
		domainArg = fmt.Sprintf(", domain='%s'", domain)
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Start task on %s", project),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I'm starting work on project '%s'%s: %s\n\n"+
						"Please:\n"+
						"1. Run `ctx_assemble` with project='%s', task='%s'%s to load standards, relevant files, and recent history\n"+
						"2. Run `phase_start` with a task_id you derive from the task description\n"+
						"3. Summarize the assembled context, especially any standards and open RA tags I should know about\n"+
						"4. As you work, record each phase with `phase_record` and anything worth remembering with `event_append`",
					project, domainNote, task,
					project, task, domainArg,
				)),
			},
		},
	}, nil
}
