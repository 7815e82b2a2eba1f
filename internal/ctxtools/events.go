package ctxtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/workshop/internal/eventstore"
	"github.com/mark3labs/mcp-go/mcp"
)

// AppendTool handles the event_append MCP tool.
type AppendTool struct {
	store *eventstore.Store
}

// NewAppendTool creates an AppendTool with the given event store.
func NewAppendTool(store *eventstore.Store) *AppendTool {
	return &AppendTool{store: store}
}

// Definition returns the MCP tool definition for event_append.
func (t *AppendTool) Definition() mcp.Tool {
	return mcp.NewTool("event_append",
		mcp.WithDescription(
			"Record a decision, gotcha, goal or note in the project's durable memory. Call this PROACTIVELY "+
				"when something worth remembering happens; don't wait for the task to finish. "+
				"Inline RA markers like '#COMPLETION_DRIVE(file.go): assumed X' are parsed automatically.",
		),
		mcp.WithString("project",
			mcp.Required(),
			mcp.Description("Project identifier"),
		),
		mcp.WithString("kind",
			mcp.Required(),
			mcp.Description("Event kind: decision, gotcha, goal, note, task_outcome"),
		),
		mcp.WithString("domain",
			mcp.Required(),
			mcp.Description("Domain the event belongs to (e.g. auth, nextjs, ci)"),
		),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("What happened, one observation per event"),
		),
		mcp.WithString("rationale",
			mcp.Description("Why, if the text alone doesn't carry it"),
		),
		mcp.WithString("severity",
			mcp.Description("normal (default) or critical; critical events promote to standards immediately"),
		),
		mcp.WithString("task_id",
			mcp.Description("Task run this event belongs to"),
		),
	)
}

// Handle processes the event_append tool call.
func (t *AppendTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := t.store.Append(eventstore.AppendParams{
		ProjectID: req.GetString("project", ""),
		Kind:      eventstore.Kind(req.GetString("kind", "")),
		Domain:    req.GetString("domain", ""),
		Text:      req.GetString("text", ""),
		Rationale: req.GetString("rationale", ""),
		Severity:  eventstore.Severity(req.GetString("severity", "")),
		TaskID:    req.GetString("task_id", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to append event: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Event recorded (ID: %d)", id)), nil
}

// ─── SearchTool ──────────────────────────────────────────────────────────────

// SearchTool handles the event_search MCP tool.
type SearchTool struct {
	store *eventstore.Store
}

// NewSearchTool creates a SearchTool.
func NewSearchTool(store *eventstore.Store) *SearchTool {
	return &SearchTool{store: store}
}

// Definition returns the MCP tool definition for event_search.
func (t *SearchTool) Definition() mcp.Tool {
	return mcp.NewTool("event_search",
		mcp.WithDescription(
			"Full-text search over a project's event log. Use before re-deciding anything: "+
				"prior decisions and gotchas usually already answer the question.",
		),
		mcp.WithString("project",
			mcp.Required(),
			mcp.Description("Project identifier"),
		),
		mcp.WithString("query",
			mcp.Description("Full-text query (FTS5 with stemming)"),
		),
		mcp.WithString("domain",
			mcp.Description("Restrict to one domain"),
		),
		mcp.WithString("kind",
			mcp.Description("Restrict to one kind"),
		),
		mcp.WithString("since",
			mcp.Description("Only events at or after this timestamp"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum events to return (default: 20)"),
		),
	)
}

// Handle processes the event_search tool call.
func (t *SearchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	events, err := t.store.Query(req.GetString("project", ""), eventstore.QueryOptions{
		TextSearch: req.GetString("query", ""),
		Domain:     req.GetString("domain", ""),
		Kind:       eventstore.Kind(req.GetString("kind", "")),
		Since:      req.GetString("since", ""),
		Limit:      intArg(req, "limit", 20),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	if len(events) == 0 {
		return mcp.NewToolResultText("No matching events."), nil
	}
	return mcp.NewToolResultText(FormatEvents(events)), nil
}

// ─── TailTool ────────────────────────────────────────────────────────────────

// TailTool handles the event_tail MCP tool.
type TailTool struct {
	store *eventstore.Store
}

// NewTailTool creates a TailTool.
func NewTailTool(store *eventstore.Store) *TailTool {
	return &TailTool{store: store}
}

// Definition returns the MCP tool definition for event_tail.
func (t *TailTool) Definition() mcp.Tool {
	return mcp.NewTool("event_tail",
		mcp.WithDescription(
			"Show the most recent events for a project: a quick 'what happened lately' view.",
		),
		mcp.WithString("project",
			mcp.Required(),
			mcp.Description("Project identifier"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of events (default: 20)"),
		),
	)
}

// Handle processes the event_tail tool call.
func (t *TailTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	events, err := t.store.Tail(req.GetString("project", ""), intArg(req, "limit", 20))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("tail failed: %v", err)), nil
	}
	if len(events) == 0 {
		return mcp.NewToolResultText("No events recorded yet."), nil
	}
	return mcp.NewToolResultText(FormatEvents(events)), nil
}

// FormatEvents renders events for tool output, most recent first.
func FormatEvents(events []eventstore.Event) string {
	var sb strings.Builder
	for _, e := range events {
		fmt.Fprintf(&sb, "[%d] %s %s/%s: %s\n", e.ID, e.CreatedAt, e.Kind, e.Domain, e.Text)
		if e.Rationale != nil && *e.Rationale != "" {
			fmt.Fprintf(&sb, "    rationale: %s\n", *e.Rationale)
		}
		for _, a := range e.Tags {
			status := "open"
			if a.Resolved {
				status = "resolved"
			}
			fmt.Fprintf(&sb, "    #%s (%s): %s\n", a.Tag, status, a.Message)
		}
	}
	return sb.String()
}
