// Package resources implements MCP resource handlers for Workshop.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (workshop://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/HendryAvila/workshop/internal/eventstore"
	"github.com/mark3labs/mcp-go/mcp"
)

// standardsPrefix is the URI prefix for per-project standards.
const standardsPrefix = "workshop://standards/"

// Handler manages Workshop resource endpoints.
type Handler struct {
	store *eventstore.Store
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(store *eventstore.Store) *Handler {
	return &Handler{store: store}
}

// StandardsTemplate returns the resource template for per-project
// standards snapshots.
func (h *Handler) StandardsTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate(
		standardsPrefix+"{project}",
		"Project Standards",
		mcp.WithTemplateDescription("Active standards promoted from a project's recurring decisions"),
		mcp.WithTemplateMIMEType("application/json"),
	)
}

// HandleStandards returns a project's active standards as JSON.
func (h *Handler) HandleStandards(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	project := strings.TrimPrefix(req.Params.URI, standardsPrefix)
	if project == "" || project == req.Params.URI {
		return errorResource(req.Params.URI, "URI must be workshop://standards/<project>"), nil
	}

	stds, err := h.store.Standards(project, false)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}

	data, err := json.MarshalIndent(stds, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling standards: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
