package ctxtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/workshop/internal/standards"
	"github.com/mark3labs/mcp-go/mcp"
)

// StandardsAuditTool handles the standards_audit MCP tool.
type StandardsAuditTool struct {
	agg *standards.Aggregator
}

// NewStandardsAuditTool creates a StandardsAuditTool.
func NewStandardsAuditTool(agg *standards.Aggregator) *StandardsAuditTool {
	return &StandardsAuditTool{agg: agg}
}

// Definition returns the MCP tool definition for standards_audit.
func (t *StandardsAuditTool) Definition() mcp.Tool {
	return mcp.NewTool("standards_audit",
		mcp.WithDescription(
			"Run an aggregation pass: cluster recurring decisions, gotchas and notes, promote clusters "+
				"that hit the recurrence threshold to standards, and rebuild the standards snapshot. "+
				"Slices that fail are skipped and reported as warnings; the pass is then partial, not failed.",
		),
		mcp.WithString("project",
			mcp.Required(),
			mcp.Description("Project identifier"),
		),
		mcp.WithString("domain",
			mcp.Description("Restrict the pass to one domain (omit for all)"),
		),
	)
}

// Handle processes the standards_audit tool call.
func (t *StandardsAuditTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := t.agg.Aggregate(req.GetString("project", ""), req.GetString("domain", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("aggregation failed: %v", err)), nil
	}
	return mcp.NewToolResultText(FormatReport(report)), nil
}

// FormatReport renders an aggregation report for tool output.
func FormatReport(r *standards.Report) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Aggregation for %s: %d standard(s) promoted across %d domain(s).\n",
		r.ProjectID, len(r.Promoted), len(r.Domains))
	for _, s := range r.Promoted {
		fmt.Fprintf(&sb, "- [%s] %s (from %d events)\n", s.Domain, s.RuleText, len(s.PromotedFrom))
	}
	if r.Partial() {
		sb.WriteString("\n⚠️ Partial: some slices were skipped.\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&sb, "- %s\n", w)
		}
	}
	return sb.String()
}

// ─── StandardsSupersedeTool ──────────────────────────────────────────────────

// StandardsSupersedeTool handles the standards_supersede MCP tool.
type StandardsSupersedeTool struct {
	agg *standards.Aggregator
}

// NewStandardsSupersedeTool creates a StandardsSupersedeTool.
func NewStandardsSupersedeTool(agg *standards.Aggregator) *StandardsSupersedeTool {
	return &StandardsSupersedeTool{agg: agg}
}

// Definition returns the MCP tool definition for standards_supersede.
func (t *StandardsSupersedeTool) Definition() mcp.Tool {
	return mcp.NewTool("standards_supersede",
		mcp.WithDescription(
			"Retire a standard that no longer applies. The standard is archived (never deleted) and "+
				"the unlearn action is recorded as a decision event with your reason.",
		),
		mcp.WithNumber("standard_id",
			mcp.Required(),
			mcp.Description("ID of the standard to retire"),
		),
		mcp.WithString("reason",
			mcp.Required(),
			mcp.Description("Why the standard no longer applies"),
		),
	)
}

// Handle processes the standards_supersede tool call.
func (t *StandardsSupersedeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	standardID := intArg(req, "standard_id", 0)
	if standardID == 0 {
		return mcp.NewToolResultError("'standard_id' is required"), nil
	}

	eventID, err := t.agg.Supersede(int64(standardID), req.GetString("reason", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to supersede: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Standard %d archived; unlearn recorded as event %d.", standardID, eventID)), nil
}
