package ctxtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/workshop/internal/eventstore"
	"github.com/HendryAvila/workshop/internal/fileindex"
	"github.com/mark3labs/mcp-go/mcp"
)

// StatsTool handles the workshop_stats MCP tool.
type StatsTool struct {
	store *eventstore.Store
}

// NewStatsTool creates a StatsTool.
func NewStatsTool(store *eventstore.Store) *StatsTool {
	return &StatsTool{store: store}
}

// Definition returns the MCP tool definition for workshop_stats.
func (t *StatsTool) Definition() mcp.Tool {
	return mcp.NewTool("workshop_stats",
		mcp.WithDescription(
			"Show workspace statistics: projects, event counts, active standards, open RA tags.",
		),
	)
}

// Handle processes the workshop_stats tool call.
func (t *StatsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := t.store.StoreStats()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read stats: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Projects: %d\nEvents: %d\nActive standards: %d\nOpen RA tags: %d\n",
		stats.TotalProjects, stats.TotalEvents, stats.ActiveStandards, stats.UnresolvedTags)
	if len(stats.Projects) > 0 {
		sb.WriteString("\nPer project:\n")
		for _, p := range stats.Projects {
			fmt.Fprintf(&sb, "- %s\n", p)
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// ─── IndexSyncTool ───────────────────────────────────────────────────────────

// IndexSyncTool handles the index_sync MCP tool.
type IndexSyncTool struct {
	index *fileindex.Index
}

// NewIndexSyncTool creates an IndexSyncTool.
func NewIndexSyncTool(index *fileindex.Index) *IndexSyncTool {
	return &IndexSyncTool{index: index}
}

// Definition returns the MCP tool definition for index_sync.
func (t *IndexSyncTool) Definition() mcp.Tool {
	return mcp.NewTool("index_sync",
		mcp.WithDescription(
			"Sync the file index for a project root. Incremental: unchanged files (same size "+
				"and mtime) are skipped, deleted files are pruned.",
		),
		mcp.WithString("project",
			mcp.Required(),
			mcp.Description("Project identifier"),
		),
		mcp.WithString("root",
			mcp.Required(),
			mcp.Description("Absolute path of the project root to index"),
		),
	)
}

// Handle processes the index_sync tool call.
func (t *IndexSyncTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := req.GetString("project", "")
	root := req.GetString("root", "")
	if project == "" || root == "" {
		return mcp.NewToolResultError("'project' and 'root' are required"), nil
	}

	report, err := t.index.Sync(project, root)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("sync failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Index synced: %d scanned, %d indexed, %d unchanged, %d removed, %d skipped.",
		report.Scanned, report.Indexed, report.Unchanged, report.Removed, report.Skipped,
	)), nil
}
