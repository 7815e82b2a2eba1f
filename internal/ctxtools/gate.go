package ctxtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/workshop/internal/eventstore"
	"github.com/HendryAvila/workshop/internal/gate"
	"github.com/HendryAvila/workshop/internal/phasestate"
	"github.com/mark3labs/mcp-go/mcp"
)

// GateTool handles the gate_check MCP tool.
type GateTool struct {
	tracker   *phasestate.Tracker
	standards *eventstore.Store
	policy    gate.Policy
}

// NewGateTool creates a GateTool.
func NewGateTool(tracker *phasestate.Tracker, standards *eventstore.Store, policy gate.Policy) *GateTool {
	return &GateTool{tracker: tracker, standards: standards, policy: policy}
}

// Definition returns the MCP tool definition for gate_check.
func (t *GateTool) Definition() mcp.Tool {
	return mcp.NewTool("gate_check",
		mcp.WithDescription(
			"Evaluate a task run's gate: pass, fail, or caution, with every reason listed. "+
				"Fail comes only from a failed verification command; missing verification and "+
				"open RA tags downgrade a pass to caution but never cause a fail on their own.",
		),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task run identifier"),
		),
	)
}

// Handle processes the gate_check tool call.
func (t *GateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	state, err := t.tracker.Get(req.GetString("task_id", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load task: %v", err)), nil
	}

	var stds []eventstore.Standard
	if t.standards != nil && state.Domain != "" {
		// Best effort: a broken standards read narrows the check, it
		// doesn't block it.
		stds, _ = t.standards.StandardsForDomain(state.ProjectID, state.Domain)
	}

	decision := gate.Evaluate(state, stds, t.policy)
	return mcp.NewToolResultText(FormatDecision(state.TaskID, decision)), nil
}

// FormatDecision renders a gate decision for tool output.
func FormatDecision(taskID string, d gate.Decision) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Gate for %s: %s\n", taskID, strings.ToUpper(string(d.Verdict)))
	for _, r := range d.Reasons {
		fmt.Fprintf(&sb, "- %s\n", r)
	}
	if len(d.UnresolvedRATags) > 0 {
		sb.WriteString("\nOpen RA tags:\n")
		for _, a := range d.UnresolvedRATags {
			if a.File != "" {
				fmt.Fprintf(&sb, "- #%s(%s): %s\n", a.Tag, a.File, a.Message)
				continue
			}
			fmt.Fprintf(&sb, "- #%s: %s\n", a.Tag, a.Message)
		}
	}
	fmt.Fprintf(&sb, "\nStandards checked: %d\n", d.StandardsChecked)
	return sb.String()
}
