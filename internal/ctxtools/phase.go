package ctxtools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/HendryAvila/workshop/internal/phasestate"
	"github.com/mark3labs/mcp-go/mcp"
)

// PhaseStartTool handles the phase_start MCP tool.
type PhaseStartTool struct {
	tracker *phasestate.Tracker
}

// NewPhaseStartTool creates a PhaseStartTool.
func NewPhaseStartTool(tracker *phasestate.Tracker) *PhaseStartTool {
	return &PhaseStartTool{tracker: tracker}
}

// Definition returns the MCP tool definition for phase_start.
func (t *PhaseStartTool) Definition() mcp.Tool {
	return mcp.NewTool("phase_start",
		mcp.WithDescription(
			"Start tracking a task run through the phase pipeline (plan → implementation → verification → gate). "+
				"Fails if the task id is already active; resume the existing run instead of restarting.",
		),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Stable identifier for this task run"),
		),
		mcp.WithString("project",
			mcp.Required(),
			mcp.Description("Project identifier"),
		),
		mcp.WithString("domain",
			mcp.Description("Domain the task lives in"),
		),
	)
}

// Handle processes the phase_start tool call.
func (t *PhaseStartTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	state, err := t.tracker.Start(
		req.GetString("task_id", ""),
		req.GetString("project", ""),
		req.GetString("domain", ""),
	)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to start task: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task %q started in phase %s.", state.TaskID, state.CurrentPhase)), nil
}

// ─── PhaseRecordTool ─────────────────────────────────────────────────────────

// PhaseRecordTool handles the phase_record MCP tool.
type PhaseRecordTool struct {
	tracker *phasestate.Tracker
}

// NewPhaseRecordTool creates a PhaseRecordTool.
func NewPhaseRecordTool(tracker *phasestate.Tracker) *PhaseRecordTool {
	return &PhaseRecordTool{tracker: tracker}
}

// Definition returns the MCP tool definition for phase_record.
func (t *PhaseRecordTool) Definition() mcp.Tool {
	return mcp.NewTool("phase_record",
		mcp.WithDescription(
			"Record the output of a phase: summary, files touched, commands run. Inline RA markers "+
				"in the summary ('#COMPLETION_DRIVE: assumed X') are parsed into the run's open tags. "+
				"Phases advance one step at a time (implementation_pass2 may be skipped); re-recording "+
				"the current or an earlier phase keeps all records, the log only grows.",
		),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task run identifier"),
		),
		mcp.WithString("phase",
			mcp.Required(),
			mcp.Description("plan, implementation_pass1, implementation_pass2, verification, or gate"),
		),
		mcp.WithString("summary",
			mcp.Required(),
			mcp.Description("What happened in this phase"),
		),
		mcp.WithString("files",
			mcp.Description("JSON array of files modified, e.g. [\"auth/login.go\"]"),
		),
		mcp.WithString("commands",
			mcp.Description(`JSON array of command runs, e.g. [{"command":"go test ./...","status":"pass"}]`),
		),
	)
}

// Handle processes the phase_record tool call.
func (t *PhaseRecordTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input := phasestate.PhaseInput{Summary: req.GetString("summary", "")}

	if raw := req.GetString("files", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &input.FilesModified); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("'files' must be a JSON string array: %v", err)), nil
		}
	}
	if raw := req.GetString("commands", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &input.Commands); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("'commands' must be a JSON array of {command,status}: %v", err)), nil
		}
	}

	state, err := t.tracker.RecordPhase(
		req.GetString("task_id", ""),
		phasestate.Phase(req.GetString("phase", "")),
		input,
	)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to record phase: %v", err)), nil
	}

	open := state.UnresolvedRA()
	msg := fmt.Sprintf("Phase recorded. Task %q is now at %s.", state.TaskID, state.CurrentPhase)
	if len(open) > 0 {
		msg += fmt.Sprintf(" %d RA tags open.", len(open))
	}
	return mcp.NewToolResultText(msg), nil
}

// ─── PhaseCompleteTool ───────────────────────────────────────────────────────

// PhaseCompleteTool handles the phase_complete MCP tool.
type PhaseCompleteTool struct {
	tracker *phasestate.Tracker
}

// NewPhaseCompleteTool creates a PhaseCompleteTool.
func NewPhaseCompleteTool(tracker *phasestate.Tracker) *PhaseCompleteTool {
	return &PhaseCompleteTool{tracker: tracker}
}

// Definition returns the MCP tool definition for phase_complete.
func (t *PhaseCompleteTool) Definition() mcp.Tool {
	return mcp.NewTool("phase_complete",
		mcp.WithDescription(
			"Close a task run with its terminal outcome (done or blocked) and write the "+
				"task_outcome event to the project's durable memory.",
		),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task run identifier"),
		),
		mcp.WithString("outcome",
			mcp.Required(),
			mcp.Description("done or blocked"),
		),
	)
}

// Handle processes the phase_complete tool call.
func (t *PhaseCompleteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	state, err := t.tracker.MarkTerminal(
		req.GetString("task_id", ""),
		phasestate.Outcome(req.GetString("outcome", "")),
	)
	if err != nil {
		if state != nil {
			// Closed locally but the durable outcome event failed.
			return mcp.NewToolResultError(fmt.Sprintf("task closed as %s but: %v", state.Status, err)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to close task: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task %q closed: %s.", state.TaskID, state.Status)), nil
}
