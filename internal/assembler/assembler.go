// Package assembler builds the bounded context bundle an agent receives
// before starting a task.
//
// Assembly is read-only and failure-tolerant: a broken store or index
// degrades the bundle (and says so) instead of failing the call. For a
// fixed store snapshot the bundle is deterministic: same inputs, same
// bundle, byte for byte.
package assembler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/HendryAvila/workshop/internal/eventstore"
	"github.com/HendryAvila/workshop/internal/fileindex"
)

// EventSource provides recent project history. *eventstore.Store
// satisfies it.
type EventSource interface {
	Tail(projectID string, n int) ([]eventstore.Event, error)
}

// StandardsSource provides the active standards for a domain.
type StandardsSource interface {
	StandardsForDomain(projectID, domain string) ([]eventstore.Standard, error)
}

// FileIndex provides ranked candidate files for a task description.
// *fileindex.Index satisfies it.
type FileIndex interface {
	Candidates(projectID, query string, limit int) ([]fileindex.Candidate, error)
}

// Options bounds one assembly pass.
type Options struct {
	// MaxFiles caps candidate files included in the bundle.
	MaxFiles int `json:"max_files,omitempty"`
	// MaxHistory caps history events included in the bundle.
	MaxHistory int `json:"max_history,omitempty"`
	// ByteBudget caps the rendered size of the bundle. Inclusion is
	// greedy: standards, then files, then history, stopping at the first
	// item that would overflow.
	ByteBudget int `json:"byte_budget,omitempty"`
}

// DefaultOptions returns the default assembly bounds.
func DefaultOptions() Options {
	return Options{
		MaxFiles:   10,
		MaxHistory: 15,
		ByteBudget: 24 * 1024,
	}
}

// Bundle is the assembled context for one task.
type Bundle struct {
	ProjectID string                `json:"project_id"`
	Domain    string                `json:"domain,omitempty"`
	Task      string                `json:"task"`
	Standards []eventstore.Standard `json:"standards,omitempty"`
	Files     []fileindex.Candidate `json:"files,omitempty"`
	History   []eventstore.Event    `json:"history,omitempty"`
	// Degraded marks that at least one source failed and its slice is
	// missing or partial.
	Degraded bool `json:"degraded"`
	// Truncated marks that the bundle is incomplete: the byte budget cut
	// content, or a degraded source left a slice partial.
	Truncated bool     `json:"truncated"`
	Notes     []string `json:"notes,omitempty"`
}

// Assembler builds bundles from the three read-side sources.
type Assembler struct {
	events    EventSource
	standards StandardsSource
	files     FileIndex
	opts      Options
}

// New creates an Assembler. Any source may be nil; its slice is simply
// absent from bundles (a nil file index is common before the first sync).
func New(events EventSource, standards StandardsSource, files FileIndex, opts Options) *Assembler {
	def := DefaultOptions()
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = def.MaxFiles
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = def.MaxHistory
	}
	if opts.ByteBudget <= 0 {
		opts.ByteBudget = def.ByteBudget
	}
	return &Assembler{events: events, standards: standards, files: files, opts: opts}
}

// Assemble builds the context bundle for a task. It never returns an
// error for source failures (those degrade the bundle), only for an
// already-cancelled context.
func (a *Assembler) Assemble(ctx context.Context, projectID, domain, task string) (*Bundle, error) {
	b := &Bundle{ProjectID: projectID, Domain: domain, Task: task}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("assembler: %w", err)
	}

	if a.standards != nil {
		stds, err := a.standards.StandardsForDomain(projectID, domain)
		if err != nil {
			b.Degraded = true
			b.Notes = append(b.Notes, fmt.Sprintf("standards unavailable: %v", err))
		} else {
			b.Standards = stds
		}
	}

	if cancelled(ctx, b) {
		return b, nil
	}

	if a.files != nil {
		hits, err := a.files.Candidates(projectID, task, a.opts.MaxFiles)
		if err != nil {
			b.Degraded = true
			b.Notes = append(b.Notes, fmt.Sprintf("file index unavailable: %v", err))
		} else {
			b.Files = hits
		}
	}

	if cancelled(ctx, b) {
		return b, nil
	}

	if a.events != nil {
		// Over-fetch so domain filtering still fills the history slot.
		events, err := a.events.Tail(projectID, a.opts.MaxHistory*3)
		if err != nil {
			b.Degraded = true
			b.Notes = append(b.Notes, fmt.Sprintf("history unavailable: %v", err))
		} else {
			b.History = rankHistory(events, domain, task, a.opts.MaxHistory)
		}
	}

	a.applyBudget(b)
	if b.Degraded {
		// A degraded bundle is incomplete evidence by definition, so it
		// always reports itself truncated as well.
		b.Truncated = true
	}
	return b, nil
}

// cancelled marks the bundle degraded when the deadline hit mid-assembly.
func cancelled(ctx context.Context, b *Bundle) bool {
	if ctx.Err() == nil {
		return false
	}
	b.Degraded = true
	b.Truncated = true
	b.Notes = append(b.Notes, "assembly cut short: context deadline")
	return true
}

// rankHistory orders events by relevance to the task. Score is domain
// match plus keyword overlap; ties break on recency then id, so the
// order is total and stable.
func rankHistory(events []eventstore.Event, domain, task string, max int) []eventstore.Event {
	keywords := taskKeywords(task)

	type scored struct {
		event eventstore.Event
		score int
	}
	ranked := make([]scored, 0, len(events))
	for _, e := range events {
		score := 0
		if domain != "" && e.Domain == domain {
			score += 2
		}
		lower := strings.ToLower(e.Text)
		for kw := range keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		ranked = append(ranked, scored{event: e, score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if ranked[i].event.CreatedAt != ranked[j].event.CreatedAt {
			return ranked[i].event.CreatedAt > ranked[j].event.CreatedAt
		}
		return ranked[i].event.ID < ranked[j].event.ID
	})

	if len(ranked) > max {
		ranked = ranked[:max]
	}
	out := make([]eventstore.Event, len(ranked))
	for i, r := range ranked {
		out[i] = r.event
	}
	return out
}

func taskKeywords(task string) map[string]bool {
	kws := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(task)) {
		w = strings.Trim(w, ".,;:()[]'\"")
		if len(w) >= 4 {
			kws[w] = true
		}
	}
	return kws
}

// applyBudget greedily trims the bundle to the byte budget, standards
// first. Sizes are measured on the rendered form, including the section
// headings and flag markers FormatBundle emits, so the rendered bundle
// never exceeds the budget.
func (a *Assembler) applyBudget(b *Bundle) {
	budget := a.opts.ByteBudget
	used := len(renderHeader(b))
	if b.Degraded {
		used += len(degradedMarker)
	}
	if len(b.Notes) > 0 {
		used += len(notesHeading)
		for _, n := range b.Notes {
			used += len("- ") + len(n) + len("\n")
		}
	}
	// Reserve room for the truncation marker up front; emitting it must
	// never be what pushes the bundle over.
	used += len(truncatedMarker)

	keepStds := 0
	for i, s := range b.Standards {
		size := len(renderStandard(s))
		if i == 0 {
			size += len(standardsHeading)
		}
		if used+size > budget {
			b.Truncated = true
			break
		}
		used += size
		keepStds++
	}
	if keepStds < len(b.Standards) {
		b.Standards = b.Standards[:keepStds]
	}

	keepFiles := 0
	for i, f := range b.Files {
		size := len(renderFile(f))
		if i == 0 {
			size += len(filesHeading)
		}
		if used+size > budget {
			b.Truncated = true
			break
		}
		used += size
		keepFiles++
	}
	if keepFiles < len(b.Files) {
		b.Files = b.Files[:keepFiles]
	}

	keepHist := 0
	for i, e := range b.History {
		size := len(renderEvent(e))
		if i == 0 {
			size += len(historyHeading)
		}
		if used+size > budget {
			b.Truncated = true
			break
		}
		used += size
		keepHist++
	}
	if keepHist < len(b.History) {
		b.History = b.History[:keepHist]
	}
}

// ─── Rendering ───────────────────────────────────────────────────────────────

// Markers and headings shared between budgeting and rendering; the budget
// charges exactly the bytes FormatBundle emits.
const (
	degradedMarker  = "\n⚠️ Degraded: some context sources were unavailable.\n"
	truncatedMarker = "\n_(truncated)_\n"

	standardsHeading = "\n## Standards\n\n"
	filesHeading     = "\n## Relevant files\n\n"
	historyHeading   = "\n## Recent history\n\n"
	notesHeading     = "\n## Notes\n\n"
)

func renderHeader(b *Bundle) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Context: %s\n\n", b.ProjectID)
	fmt.Fprintf(&sb, "**Task:** %s\n", b.Task)
	if b.Domain != "" {
		fmt.Fprintf(&sb, "**Domain:** %s\n", b.Domain)
	}
	return sb.String()
}

func renderStandard(s eventstore.Standard) string {
	return fmt.Sprintf("- %s\n", s.RuleText)
}

func renderFile(f fileindex.Candidate) string {
	return fmt.Sprintf("- `%s:%d-%d`: %s\n", f.Path, f.StartLine, f.EndLine, f.Snippet)
}

func renderEvent(e eventstore.Event) string {
	return fmt.Sprintf("- [%s/%s] %s (%s)\n", e.Kind, e.Domain, e.Text, e.CreatedAt)
}

// FormatBundle renders a bundle as markdown for tool responses and the
// CLI.
func FormatBundle(b *Bundle) string {
	var sb strings.Builder
	sb.WriteString(renderHeader(b))

	if b.Degraded {
		sb.WriteString(degradedMarker)
	}

	if len(b.Standards) > 0 {
		sb.WriteString(standardsHeading)
		for _, s := range b.Standards {
			sb.WriteString(renderStandard(s))
		}
	}

	if len(b.Files) > 0 {
		sb.WriteString(filesHeading)
		for _, f := range b.Files {
			sb.WriteString(renderFile(f))
		}
	}

	if len(b.History) > 0 {
		sb.WriteString(historyHeading)
		for _, e := range b.History {
			sb.WriteString(renderEvent(e))
		}
	}

	if len(b.Notes) > 0 {
		sb.WriteString(notesHeading)
		for _, n := range b.Notes {
			fmt.Fprintf(&sb, "- %s\n", n)
		}
	}

	if b.Truncated {
		sb.WriteString(truncatedMarker)
	}
	return sb.String()
}
